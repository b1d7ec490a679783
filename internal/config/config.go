// Package config handles configuration loading and management for valiloop.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/ShayCichocki/valiloop/pkg/models"
)

// Config holds all configuration for valiloop.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Validation ValidationConfig `mapstructure:"validation"`
	Deploy     DeployConfig     `mapstructure:"deploy"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Generation GenerationConfig `mapstructure:"generation"`
	Paths      PathsConfig      `mapstructure:"paths"`
	Server     ServerConfig     `mapstructure:"server"`
	Session    SessionConfig    `mapstructure:"session"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// AnthropicConfig holds settings for the vision/agent backend.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ValidationConfig holds the knobs of the feedback loop.
type ValidationConfig struct {
	// ParallelCount is the concurrency budget and the number of instances.
	ParallelCount int `mapstructure:"parallel_count"`
	// RoundLimit caps feedback attempts per session.
	RoundLimit int `mapstructure:"round_limit"`
	// MaxSteps caps the actions a test agent may take.
	MaxSteps int `mapstructure:"max_steps"`
	// WorkerTimeout bounds one criterion. Zero relies on MaxSteps alone.
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
	// Warmup runs a throwaway round before real criteria.
	Warmup bool `mapstructure:"warmup"`
	// WarnBeforeLimit logs a warning when this many attempts or fewer remain.
	WarnBeforeLimit int `mapstructure:"warn_before_limit"`
}

// DeployConfig holds deployment settings.
type DeployConfig struct {
	InstancePrefix   string        `mapstructure:"instance_prefix"`
	InstallTimeout   time.Duration `mapstructure:"install_timeout"`
	StartTimeout     time.Duration `mapstructure:"start_timeout"`
	DetectionTimeout time.Duration `mapstructure:"detection_timeout"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PM2LogDir        string        `mapstructure:"pm2_log_dir"`
	PM2Binary        string        `mapstructure:"pm2_binary"`
	NPMBinary        string        `mapstructure:"npm_binary"`
}

// BrowserConfig holds headless browser settings.
type BrowserConfig struct {
	ExecPath       string        `mapstructure:"exec_path"`
	Headless       bool          `mapstructure:"headless"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
}

// BackendConfig holds retry settings for vision backend calls.
type BackendConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Backoff          time.Duration `mapstructure:"backoff"`
	ClassifyAttempts int           `mapstructure:"classify_attempts"`
}

// GenerationConfig describes the generation pipeline feedback is sent to.
type GenerationConfig struct {
	Provider string `mapstructure:"provider"`
}

// PathsConfig holds filesystem locations.
type PathsConfig struct {
	DownloadsDir   string `mapstructure:"downloads_dir"`
	LedgerDir      string `mapstructure:"ledger_dir"`
	AgentLogDir    string `mapstructure:"agent_log_dir"`
	StateDB        string `mapstructure:"state_db"`
	CriteriaFile   string `mapstructure:"criteria_file"`
	ReferenceImage string `mapstructure:"reference_image"`
	LogFile        string `mapstructure:"log_file"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// SettleDelay waits before validating so a browser download can finish.
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// SessionConfig identifies the validation session.
type SessionConfig struct {
	ID string `mapstructure:"id"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, VALILOOP_*)
// 2. Project config (.valiloop.yaml in current directory or parent)
// 3. User config (~/.config/valiloop/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Paths.DownloadsDir = expandHome(cfg.Paths.DownloadsDir)
	cfg.Paths.LedgerDir = expandHome(cfg.Paths.LedgerDir)
	cfg.Paths.AgentLogDir = expandHome(cfg.Paths.AgentLogDir)
	cfg.Paths.StateDB = expandHome(cfg.Paths.StateDB)
	cfg.Paths.CriteriaFile = expandHome(cfg.Paths.CriteriaFile)
	cfg.Paths.ReferenceImage = expandHome(cfg.Paths.ReferenceImage)
	cfg.Paths.LogFile = expandHome(cfg.Paths.LogFile)
	cfg.Deploy.PM2LogDir = expandHome(cfg.Deploy.PM2LogDir)

	return cfg, nil
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("VALILOOP")
	v.AutomaticEnv()

	_ = v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("validation.parallel_count", "VALILOOP_PARALLEL_COUNT", "PARALLEL_AGENT_COUNT")
	_ = v.BindEnv("validation.round_limit", "VALILOOP_ROUND_LIMIT")
	_ = v.BindEnv("generation.provider", "VALILOOP_PROVIDER")
	_ = v.BindEnv("session.id", "VALILOOP_SESSION_ID")
	_ = v.BindEnv("server.addr", "VALILOOP_ADDR")
}

// Validate checks values that would make a run impossible.
func (c *Config) Validate() error {
	if c.Validation.ParallelCount < 1 {
		return fmt.Errorf("validation.parallel_count must be at least 1, got %d", c.Validation.ParallelCount)
	}
	if c.Validation.RoundLimit < 1 {
		return fmt.Errorf("validation.round_limit must be at least 1, got %d", c.Validation.RoundLimit)
	}
	if c.Validation.MaxSteps < 1 {
		return fmt.Errorf("validation.max_steps must be at least 1, got %d", c.Validation.MaxSteps)
	}
	if c.Deploy.InstancePrefix == "" {
		return errors.New("deploy.instance_prefix must not be empty")
	}
	if _, err := models.ParseProvider(c.Generation.Provider); err != nil {
		return fmt.Errorf("generation.provider: %w", err)
	}
	return nil
}

// Provider returns the configured generation provider.
func (c *Config) Provider() models.Provider {
	p, err := models.ParseProvider(c.Generation.Provider)
	if err != nil {
		return models.ProviderOpenAI
	}
	return p
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return SaveTo(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveTo writes the configuration to path.
func SaveTo(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("validation.parallel_count", cfg.Validation.ParallelCount)
	v.Set("validation.round_limit", cfg.Validation.RoundLimit)
	v.Set("validation.max_steps", cfg.Validation.MaxSteps)
	v.Set("validation.worker_timeout", cfg.Validation.WorkerTimeout.String())
	v.Set("validation.warmup", cfg.Validation.Warmup)
	v.Set("validation.warn_before_limit", cfg.Validation.WarnBeforeLimit)
	v.Set("deploy.instance_prefix", cfg.Deploy.InstancePrefix)
	v.Set("deploy.install_timeout", cfg.Deploy.InstallTimeout.String())
	v.Set("deploy.start_timeout", cfg.Deploy.StartTimeout.String())
	v.Set("deploy.detection_timeout", cfg.Deploy.DetectionTimeout.String())
	v.Set("deploy.poll_interval", cfg.Deploy.PollInterval.String())
	v.Set("deploy.pm2_log_dir", cfg.Deploy.PM2LogDir)
	v.Set("deploy.pm2_binary", cfg.Deploy.PM2Binary)
	v.Set("deploy.npm_binary", cfg.Deploy.NPMBinary)
	v.Set("browser.exec_path", cfg.Browser.ExecPath)
	v.Set("browser.headless", cfg.Browser.Headless)
	v.Set("browser.viewport_width", cfg.Browser.ViewportWidth)
	v.Set("browser.viewport_height", cfg.Browser.ViewportHeight)
	v.Set("browser.settle_delay", cfg.Browser.SettleDelay.String())
	v.Set("backend.max_attempts", cfg.Backend.MaxAttempts)
	v.Set("backend.backoff", cfg.Backend.Backoff.String())
	v.Set("backend.classify_attempts", cfg.Backend.ClassifyAttempts)
	v.Set("generation.provider", cfg.Generation.Provider)
	v.Set("paths.downloads_dir", cfg.Paths.DownloadsDir)
	v.Set("paths.ledger_dir", cfg.Paths.LedgerDir)
	v.Set("paths.agent_log_dir", cfg.Paths.AgentLogDir)
	v.Set("paths.state_db", cfg.Paths.StateDB)
	v.Set("paths.criteria_file", cfg.Paths.CriteriaFile)
	v.Set("paths.reference_image", cfg.Paths.ReferenceImage)
	v.Set("paths.log_file", cfg.Paths.LogFile)
	v.Set("server.addr", cfg.Server.Addr)
	v.Set("server.settle_delay", cfg.Server.SettleDelay.String())
	v.Set("session.id", cfg.Session.ID)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("validation.parallel_count", d.Validation.ParallelCount)
	v.SetDefault("validation.round_limit", d.Validation.RoundLimit)
	v.SetDefault("validation.max_steps", d.Validation.MaxSteps)
	v.SetDefault("validation.worker_timeout", "0s")
	v.SetDefault("validation.warmup", true)
	v.SetDefault("validation.warn_before_limit", d.Validation.WarnBeforeLimit)

	v.SetDefault("deploy.instance_prefix", d.Deploy.InstancePrefix)
	v.SetDefault("deploy.install_timeout", "10m")
	v.SetDefault("deploy.start_timeout", "5m")
	v.SetDefault("deploy.detection_timeout", "60s")
	v.SetDefault("deploy.poll_interval", "800ms")
	v.SetDefault("deploy.pm2_log_dir", d.Deploy.PM2LogDir)
	v.SetDefault("deploy.pm2_binary", "pm2")
	v.SetDefault("deploy.npm_binary", "npm")

	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.settle_delay", "1s")

	v.SetDefault("backend.max_attempts", d.Backend.MaxAttempts)
	v.SetDefault("backend.backoff", "10s")
	v.SetDefault("backend.classify_attempts", d.Backend.ClassifyAttempts)

	v.SetDefault("generation.provider", d.Generation.Provider)

	v.SetDefault("paths.downloads_dir", d.Paths.DownloadsDir)
	v.SetDefault("paths.ledger_dir", d.Paths.LedgerDir)
	v.SetDefault("paths.agent_log_dir", d.Paths.AgentLogDir)
	v.SetDefault("paths.state_db", d.Paths.StateDB)
	v.SetDefault("paths.criteria_file", d.Paths.CriteriaFile)
	v.SetDefault("paths.reference_image", "")
	v.SetDefault("paths.log_file", "")

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.settle_delay", "16s")
	v.SetDefault("session.id", d.Session.ID)
	v.SetDefault("tui.refresh_rate", "500ms")
}

// getUserConfigDir returns the XDG config directory for valiloop.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "valiloop")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "valiloop")
	}
	return filepath.Join(home, ".config", "valiloop")
}

// findProjectConfig searches for .valiloop.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".valiloop.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// expandHome replaces a leading ~/ with the user's home directory.
func expandHome(p string) string {
	if len(p) < 2 || p[:2] != "~/" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Validation: ValidationConfig{
			ParallelCount:   3,
			RoundLimit:      6,
			MaxSteps:        20,
			Warmup:          true,
			WarnBeforeLimit: 3,
		},
		Deploy: DeployConfig{
			InstancePrefix:   "webapp-",
			InstallTimeout:   10 * time.Minute,
			StartTimeout:     5 * time.Minute,
			DetectionTimeout: 60 * time.Second,
			PollInterval:     800 * time.Millisecond,
			PM2LogDir:        "~/.pm2/logs",
			PM2Binary:        "pm2",
			NPMBinary:        "npm",
		},
		Browser: BrowserConfig{
			Headless:       true,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			SettleDelay:    time.Second,
		},
		Backend: BackendConfig{
			MaxAttempts:      5,
			Backoff:          10 * time.Second,
			ClassifyAttempts: 1,
		},
		Generation: GenerationConfig{
			Provider: "openai",
		},
		Paths: PathsConfig{
			DownloadsDir: "~/Downloads",
			LedgerDir:    "vali_results",
			AgentLogDir:  "log",
			StateDB:      "~/.local/share/valiloop/state.db",
			CriteriaFile: "criteria.json",
		},
		Server: ServerConfig{
			Addr:        ":5001",
			SettleDelay: 16 * time.Second,
		},
		Session: SessionConfig{
			ID: "000",
		},
		TUI: TUIConfig{
			RefreshRate: 500 * time.Millisecond,
		},
	}
}
