package models

import "testing"

func TestProvider_Config(t *testing.T) {
	tests := []struct {
		provider Provider
		model    string
		endpoint string
		env      string
	}{
		{ProviderOpenAI, "gpt-4.1", "", "OPENAI_API_KEY"},
		{ProviderAnthropic, "claude-sonnet-4-20250514", "https://api.anthropic.com/v1/", "ANTHROPIC_API_KEY"},
		{ProviderTogetherQwen, "Qwen/Qwen2.5-VL-72B-Instruct", "https://api.together.xyz/v1", "TOGETHER_API_KEY"},
		{ProviderTogetherDeepSeek, "deepseek-ai/DeepSeek-V3.1", "https://api.together.xyz/v1", "TOGETHER_API_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.provider.String(), func(t *testing.T) {
			cfg := tt.provider.Config()
			if cfg.Model != tt.model {
				t.Errorf("expected model %q, got %q", tt.model, cfg.Model)
			}
			if cfg.Endpoint != tt.endpoint {
				t.Errorf("expected endpoint %q, got %q", tt.endpoint, cfg.Endpoint)
			}
			if cfg.CredentialEnv != tt.env {
				t.Errorf("expected credential env %q, got %q", tt.env, cfg.CredentialEnv)
			}
		})
	}
}

func TestParseProvider_RoundTrip(t *testing.T) {
	for _, p := range Providers() {
		got, err := ParseProvider(p.String())
		if err != nil {
			t.Fatalf("ParseProvider(%q) failed: %v", p.String(), err)
		}
		if got != p {
			t.Errorf("expected %v, got %v", p, got)
		}
	}
}

func TestParseProvider_Unknown(t *testing.T) {
	if _, err := ParseProvider("mistral"); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestProvider_SentenceStylePrompts(t *testing.T) {
	if !ProviderTogetherDeepSeek.SentenceStylePrompts() {
		t.Error("expected deepseek to use sentence-style prompts")
	}
	if ProviderOpenAI.SentenceStylePrompts() {
		t.Error("expected openai to use structured prompts")
	}
}
