package main

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/config"
	"github.com/ShayCichocki/valiloop/internal/orchestrator"
	"github.com/ShayCichocki/valiloop/internal/state"
	"github.com/ShayCichocki/valiloop/pkg/models"
)

var (
	historyArtifact string
	historyLimit    int
	historyResults  bool
	historyPurge    time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded attempts",
	Long: `List validation attempts recorded in the state database, newest first.

Use --artifact to filter by artifact and --results to include each
criterion's outcome. --purge removes attempts older than the given age.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyArtifact, "artifact", "", "Only show attempts for this artifact")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum attempts to show")
	historyCmd.Flags().BoolVar(&historyResults, "results", false, "Show criterion results")
	historyCmd.Flags().DurationVar(&historyPurge, "purge", 0, "Delete attempts older than this age (e.g. 720h)")
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if _, err := os.Stat(cfg.Paths.StateDB); os.IsNotExist(err) {
		fmt.Println("No attempts recorded yet.")
		return nil
	}

	db, err := state.OpenAndMigrate(cfg.Paths.StateDB)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if historyPurge > 0 {
		n, err := db.PurgeOldAttempts(historyPurge)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		fmt.Printf("Removed %s attempts\n", humanize.Comma(n))
		return nil
	}

	attempts, err := db.ListAttempts(historyArtifact, historyLimit)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	if len(attempts) == 0 {
		fmt.Println("No attempts recorded yet.")
		return nil
	}

	for _, a := range attempts {
		displayAttempt(a)
		if !historyResults {
			continue
		}
		results, err := db.CriterionResults(a.ID)
		if err != nil {
			return fmt.Errorf("criterion results for %s: %w", a.ID, err)
		}
		for _, r := range results {
			displayResult(r)
		}
	}
	return nil
}

func displayAttempt(a state.Attempt) {
	tag := a.Response
	switch orchestrator.Status(a.Response) {
	case orchestrator.StatusSuccess:
		tag = color.GreenString(a.Response)
	case orchestrator.StatusContinue:
		tag = color.YellowString(a.Response)
	case orchestrator.StatusError:
		tag = color.RedString(a.Response)
	}

	duration := "running"
	if a.EndedAt != nil {
		duration = formatDuration(a.EndedAt.Sub(a.StartedAt))
	}

	fmt.Printf("%s  %-24s round %-3d %-11s %-8s %s  %d/%d passed  %s\n",
		a.ID, a.ArtifactID, a.Round, a.Status, tag, a.Entry().FormattedRate(),
		a.SuccessCount, a.SuccessCount+a.FailCount,
		humanize.Time(a.StartedAt)+" ("+duration+")")
	if a.Detail != "" && a.Status == models.RunStatusAborted {
		fmt.Printf("  %s\n", firstLine(a.Detail))
	}
}

func displayResult(r models.AgentResult) {
	mark := color.GreenString("✓")
	if !r.Passed() {
		mark = color.RedString("✗")
	}
	line := fmt.Sprintf("criterion %d", r.CriterionIndex)
	if !r.Passed() {
		line = firstLine(r.ReportLine())
	}
	fmt.Printf("    %s %s (%s)\n", mark, line, formatDuration(r.Duration))
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
