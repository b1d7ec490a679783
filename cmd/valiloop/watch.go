package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/config"
	"github.com/ShayCichocki/valiloop/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow the running server in a terminal view",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	program, _ := tui.NewWatchProgram(tui.HTTPFetcher(client, resolveServerURL(cfg)), cfg.TUI.RefreshRate)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	return nil
}
