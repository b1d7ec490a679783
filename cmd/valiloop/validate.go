package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/valiloop/internal/orchestrator"
)

var (
	validateCriteria string
	validateParallel int
	validateJSON     bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <zip|dir>",
	Short: "Run one validation attempt",
	Long: `Run a single attempt against a zip in the downloads directory, a zip path,
or an already extracted application directory, and print the response.

The exit code is 0 for success, 2 for a regeneration request and 1 for an
error.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateCriteria, "criteria", "", "Criteria file (default from paths.criteria_file)")
	validateCmd.Flags().IntVarP(&validateParallel, "parallel", "p", 0, "Parallel count (default from validation.parallel_count)")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Print the raw JSON response")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if validateCriteria != "" {
		cfg.Paths.CriteriaFile = validateCriteria
	}
	if validateParallel > 0 {
		cfg.Validation.ParallelCount = validateParallel
	}

	a, err := buildApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	resp := a.ctrl.Validate(ctx, args[0])
	stop()
	a.close()

	if validateJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		printResponse(resp)
	}

	switch resp.Message {
	case orchestrator.StatusContinue:
		os.Exit(2)
	case orchestrator.StatusError:
		os.Exit(1)
	}
	return nil
}

func printResponse(resp orchestrator.Response) {
	switch resp.Message {
	case orchestrator.StatusSuccess:
		fmt.Printf("%s %s\n", color.GreenString("✓ success"), resp.Result)
	case orchestrator.StatusContinue:
		fmt.Printf("%s regeneration requested from %s (%s)\n\n", color.YellowString("↻ continue"), resp.Provider, resp.Model)
		fmt.Println(resp.Result)
	default:
		fmt.Printf("%s %s\n", color.RedString("✗ error"), resp.Result)
	}
}
