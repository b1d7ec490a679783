package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/config"
	"github.com/ShayCichocki/valiloop/internal/orchestrator"
	"github.com/ShayCichocki/valiloop/internal/tui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running server's current attempt",
	Long: `Query a running server for the live status of the current attempt.

Shows:
  - Phase and attempt number against the round limit
  - Instances requested and ready
  - Criteria completed, passed and failed
  - Failures from the last completed round`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := tui.HTTPFetcher(http.DefaultClient, resolveServerURL(cfg))(ctx)
	if err != nil {
		return fmt.Errorf("query server: %w", err)
	}
	displayStatus(st)
	return nil
}

func displayStatus(st orchestrator.ExecutionStatus) {
	state := string(st.Phase)
	if st.IsRunning {
		state = color.CyanString(state)
	}
	fmt.Printf("Phase: %s\n", state)
	if st.RunID != "" {
		fmt.Printf("  Run: %s (%s)\n", st.RunID, st.ArtifactID)
	}
	fmt.Printf("  Attempt: %d / %d\n", st.CurrentValRound, st.ValRoundLimit)
	fmt.Printf("  Provider: %s  Parallel: %d\n", st.Provider, st.ParallelCount)
	fmt.Printf("  Instances: %d ready of %d\n", st.InstancesReady, st.InstancesRequested)

	if st.TotalTests == 0 && st.StartTime == nil {
		return
	}
	fmt.Printf("  Criteria: %d/%d  %s  %s\n",
		st.CompletedTests, st.TotalTests,
		color.GreenString("%d passed", st.SuccessfulTests),
		color.RedString("%d failed", st.FailedTests))
	if st.CurrentRound > 0 {
		fmt.Printf("  Round: %d\n", st.CurrentRound)
	}
	if st.StartTime != nil {
		fmt.Printf("  Started: %s (%s elapsed)\n", humanize.Time(*st.StartTime), formatDuration(time.Duration(st.ExecutionTimeSeconds*float64(time.Second))))
	}

	var failures []string
	for _, line := range st.CurrentResults {
		if line != "" {
			failures = append(failures, line)
		}
	}
	if len(failures) > 0 {
		fmt.Println()
		fmt.Println("Last round failures:")
		for _, f := range failures {
			fmt.Printf("  %s\n", strings.TrimSpace(f))
		}
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
