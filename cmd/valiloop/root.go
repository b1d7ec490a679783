package main

import (
	"os"

	"github.com/spf13/cobra"
)

var serverAddr string

var rootCmd = &cobra.Command{
	Use:   "valiloop",
	Short: "Validation loop for generated web applications",
	Long: `valiloop validates machine-generated web applications.

Each attempt deploys the application as several pm2 instances, checks that
the first one renders, then runs every acceptance criterion with a browser
agent, a few in parallel per round. The result is either success or a
regeneration request for the generation step.

Run 'valiloop serve' to accept attempts over HTTP, or 'valiloop validate'
for a single attempt from the command line.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Base URL of a running server (default from server.addr)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(teardownCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
