package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/config"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `View or initialize valiloop configuration.

Configuration is stored at ~/.config/valiloop/config.yaml
Project-specific overrides can be placed in .valiloop.yaml
Environment variables (VALILOOP_*, ANTHROPIC_API_KEY) take precedence.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayAllConfig(cfg)
		return nil
	},
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default user configuration",
	RunE:  runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVarP(&configInitForce, "force", "f", false, "Overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := config.GetUserConfigPath()
	if _, err := os.Stat(path); err == nil && !configInitForce {
		printStatus("⚠", fmt.Sprintf("%s already exists (use --force to overwrite)", path), color.FgYellow)
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg := config.Default()
	if err := config.SaveTo(cfg, path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	printStatus("✓", "Wrote "+path, color.FgGreen)

	switch config.GetAPIKeySource(cfg) {
	case config.KeySourceNone:
		printStatus("⚠", "ANTHROPIC_API_KEY not set (you can set it later)", color.FgYellow)
	default:
		printStatus("✓", "Anthropic credentials found", color.FgGreen)
	}
	for _, p := range models.Providers() {
		if !config.ProviderCredentialSet(p) {
			printStatus("⚠", fmt.Sprintf("%s not set; %s feedback cannot be sent", p.Config().CredentialEnv, p), color.FgYellow)
		}
	}
	return nil
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	key, _ := config.GetAPIKey(cfg)

	fmt.Printf("anthropic.api_key: %s (%s)\n", config.MaskAPIKey(key), config.GetAPIKeySource(cfg))
	fmt.Printf("anthropic.model: %s\n", cfg.Anthropic.Model)
	fmt.Printf("anthropic.use_bedrock: %t\n", cfg.Anthropic.UseBedrock)
	fmt.Printf("generation.provider: %s\n", cfg.Generation.Provider)
	fmt.Printf("validation.parallel_count: %d\n", cfg.Validation.ParallelCount)
	fmt.Printf("validation.round_limit: %d\n", cfg.Validation.RoundLimit)
	fmt.Printf("validation.max_steps: %d\n", cfg.Validation.MaxSteps)
	fmt.Printf("validation.worker_timeout: %s\n", cfg.Validation.WorkerTimeout)
	fmt.Printf("validation.warmup: %t\n", cfg.Validation.Warmup)
	fmt.Printf("validation.warn_before_limit: %d\n", cfg.Validation.WarnBeforeLimit)
	fmt.Printf("deploy.instance_prefix: %s\n", cfg.Deploy.InstancePrefix)
	fmt.Printf("deploy.install_timeout: %s\n", cfg.Deploy.InstallTimeout)
	fmt.Printf("deploy.start_timeout: %s\n", cfg.Deploy.StartTimeout)
	fmt.Printf("deploy.detection_timeout: %s\n", cfg.Deploy.DetectionTimeout)
	fmt.Printf("deploy.pm2_log_dir: %s\n", cfg.Deploy.PM2LogDir)
	fmt.Printf("browser.headless: %t\n", cfg.Browser.Headless)
	fmt.Printf("browser.viewport: %dx%d\n", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	fmt.Printf("backend.max_attempts: %d\n", cfg.Backend.MaxAttempts)
	fmt.Printf("backend.backoff: %s\n", cfg.Backend.Backoff)
	fmt.Printf("backend.classify_attempts: %d\n", cfg.Backend.ClassifyAttempts)
	fmt.Printf("paths.downloads_dir: %s\n", cfg.Paths.DownloadsDir)
	fmt.Printf("paths.ledger_dir: %s\n", cfg.Paths.LedgerDir)
	fmt.Printf("paths.agent_log_dir: %s\n", cfg.Paths.AgentLogDir)
	fmt.Printf("paths.state_db: %s\n", cfg.Paths.StateDB)
	fmt.Printf("paths.criteria_file: %s\n", cfg.Paths.CriteriaFile)
	fmt.Printf("paths.reference_image: %s\n", orNone(cfg.Paths.ReferenceImage))
	fmt.Printf("server.addr: %s\n", cfg.Server.Addr)
	fmt.Printf("server.settle_delay: %s\n", cfg.Server.SettleDelay)
	fmt.Printf("session.id: %s\n", cfg.Session.ID)
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
