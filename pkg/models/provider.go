package models

import (
	"fmt"
	"strings"
)

// Provider identifies the generation backend the feedback loop is paired with.
type Provider int

const (
	ProviderOpenAI Provider = iota
	ProviderAnthropic
	ProviderTogetherQwen
	ProviderTogetherDeepSeek
)

// ProviderConfig holds the constants attached to a provider.
type ProviderConfig struct {
	// Name is the provider label clients send back with regeneration requests.
	Name string
	// Model is the model identifier.
	Model string
	// Endpoint is the base URL. Empty means the vendor default.
	Endpoint string
	// CredentialEnv names the environment variable holding the API key.
	CredentialEnv string
}

// Config returns the provider's constants.
func (p Provider) Config() ProviderConfig {
	switch p {
	case ProviderOpenAI:
		return ProviderConfig{Name: "OpenAI", Model: "gpt-4.1", CredentialEnv: "OPENAI_API_KEY"}
	case ProviderAnthropic:
		return ProviderConfig{
			Name:          "Anthropic",
			Model:         "claude-sonnet-4-20250514",
			Endpoint:      "https://api.anthropic.com/v1/",
			CredentialEnv: "ANTHROPIC_API_KEY",
		}
	case ProviderTogetherQwen:
		return ProviderConfig{
			Name:          "Together",
			Model:         "Qwen/Qwen2.5-VL-72B-Instruct",
			Endpoint:      "https://api.together.xyz/v1",
			CredentialEnv: "TOGETHER_API_KEY",
		}
	case ProviderTogetherDeepSeek:
		return ProviderConfig{
			Name:          "Together",
			Model:         "deepseek-ai/DeepSeek-V3.1",
			Endpoint:      "https://api.together.xyz/v1",
			CredentialEnv: "TOGETHER_API_KEY",
		}
	default:
		panic(fmt.Sprintf("unknown provider %d", int(p)))
	}
}

// String returns the key used in configuration files.
func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderTogetherQwen:
		return "qwen"
	case ProviderTogetherDeepSeek:
		return "deepseek"
	default:
		return fmt.Sprintf("provider(%d)", int(p))
	}
}

// SentenceStylePrompts reports whether the provider needs the sentence-style
// test prompt instead of the structured one.
func (p Provider) SentenceStylePrompts() bool {
	return p == ProviderTogetherDeepSeek
}

// ParseProvider resolves a configuration key to a Provider.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "qwen", "together-qwen":
		return ProviderTogetherQwen, nil
	case "deepseek", "together-deepseek":
		return ProviderTogetherDeepSeek, nil
	default:
		return 0, fmt.Errorf("unknown provider %q", s)
	}
}

// Providers lists every known provider.
func Providers() []Provider {
	return []Provider{ProviderOpenAI, ProviderAnthropic, ProviderTogetherQwen, ProviderTogetherDeepSeek}
}
