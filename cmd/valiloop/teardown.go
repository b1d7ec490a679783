package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/config"
)

var teardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "Remove every deployed instance",
	Long: `Delete every pm2 process carrying the configured instance prefix,
including instances left behind by an interrupted server.`,
	RunE: runTeardown,
}

func runTeardown(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	removed, err := newDeployer(cfg).Teardown(ctx)
	if err != nil {
		return fmt.Errorf("teardown: %w", err)
	}
	if len(removed) == 0 {
		fmt.Printf("No instances with prefix %q\n", cfg.Deploy.InstancePrefix)
		return nil
	}
	for _, name := range removed {
		printStatus("✓", "Removed "+name, color.FgGreen)
	}
	return nil
}

// printStatus prints a status line with a colored symbol.
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("  %s %s\n", c.Sprint(symbol), message)
}
