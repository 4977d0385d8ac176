package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cascadehq/cascade/internal/tracker"
)

var epicCmd = &cobra.Command{
	Use:   "epic <epic-id>",
	Short: "Execute an issue tracker epic",
	Long: `Execute the child issues of a tracker epic instead of a plan file.

Readiness comes from the tracker's own dependency resolution. Completed
issues receive a structured metrics comment and are closed; failed issues
are left in_progress so the failure is visible in the tracker.`,
	Args: cobra.ExactArgs(1),
	RunE: runEpic,
}

func init() {
	epicCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "Override the configured concurrency limit")
}

func runEpic(cmd *cobra.Command, args []string) error {
	epicID := args[0]

	client := tracker.NewClient(cfg.Tracker.Command)

	// Fail early if the epic has no children rather than spinning on an
	// empty ready set.
	tasks, err := client.Graph(cmd.Context(), epicID)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return fmt.Errorf("epic %q has no child issues", epicID)
	}

	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}

	fmt.Printf("%s epic %s (%d tasks, %d workers)\n",
		color.CyanString("Starting"), epicID, len(tasks), maxWorkers())

	epic := tracker.NewEpic(client, epicID, cfg.Pricing)
	summary, err := execute(cmd.Context(), epic, epic)
	if err != nil {
		return err
	}
	return reportSummary(summary)
}
