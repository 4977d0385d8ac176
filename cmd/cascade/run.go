package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/plan"
	"github.com/cascadehq/cascade/internal/scheduler"
	"github.com/cascadehq/cascade/internal/state"
)

var runMaxWorkers int

var runCmd = &cobra.Command{
	Use:   "run [plan-file]",
	Short: "Execute the plan file",
	Long: `Parse the CASCADE.md plan, initialize the state file, and execute
every task whose dependencies are satisfied, up to the concurrency limit.

Interrupting the run (Ctrl-C) terminates the active workers and records
them as failed; tasks that never started stay pending and are picked up
by the next run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVar(&runMaxWorkers, "max-workers", 0, "Override the configured concurrency limit")
}

func runRun(cmd *cobra.Command, args []string) error {
	planPath := cfg.PlanFile
	if len(args) == 1 {
		planPath = args[0]
	}

	p, err := plan.ParseFile(planPath)
	if err != nil {
		return err
	}

	store := state.NewStore(cfg.StateFile)
	if err := store.Initialize(p.ProjectName, planPath); err != nil {
		return fmt.Errorf("initializing state file: %w", err)
	}
	if err := store.RegisterTasks(p.Graph.Order()...); err != nil {
		return fmt.Errorf("registering tasks: %w", err)
	}
	if err := store.SetProjectStarted(time.Now()); err != nil {
		return fmt.Errorf("recording project start: %w", err)
	}

	if err := os.MkdirAll(cfg.LogsDir, 0o755); err != nil {
		return fmt.Errorf("creating logs directory: %w", err)
	}

	fmt.Printf("%s %s (%d tasks, %d workers)\n",
		color.CyanString("Starting"), p.ProjectName, p.Graph.Len(), maxWorkers())

	fg := scheduler.NewFileGraph(p.Graph, store)
	summary, err := execute(cmd.Context(), fg, fg)
	if err != nil {
		return err
	}

	if err := store.SetProjectCompleted(time.Now()); err != nil {
		return fmt.Errorf("recording project completion: %w", err)
	}
	return reportSummary(summary)
}

func maxWorkers() int {
	if runMaxWorkers > 0 {
		return runMaxWorkers
	}
	return cfg.MaxWorkers
}

// execute wires a scheduler to the given source and sink, streams progress
// to the terminal, and runs until done or interrupted.
func execute(parent context.Context, source scheduler.Source, sink scheduler.Sink) (scheduler.Summary, error) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewBus()
	progress := bus.Subscribe(0)

	sched := scheduler.New(source, sink, scheduler.Options{
		Command:      append([]string{cfg.Worker.Command}, cfg.Worker.Args...),
		LogsDir:      cfg.LogsDir,
		MaxWorkers:   maxWorkers(),
		PollInterval: cfg.PollInterval,
		Bus:          bus,
	})

	var summary scheduler.Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer bus.Close()
		var err error
		summary, err = sched.Run(gctx)
		return err
	})
	g.Go(func() error {
		printProgress(progress)
		return nil
	})

	if err := g.Wait(); err != nil {
		return summary, err
	}
	return summary, nil
}

func printProgress(ch <-chan events.Event) {
	for event := range ch {
		switch e := event.(type) {
		case events.TaskStarted:
			fmt.Printf("%s %s (worker %s, pid %d)\n",
				color.CyanString("▶"), e.ID, shortID(e.WorkerID), e.PID)
		case events.TaskCompleted:
			fmt.Printf("%s %s (%s, %d tokens)\n",
				color.GreenString("✓"), e.ID, e.Duration.Round(time.Second), e.Usage.Total())
		case events.TaskFailed:
			fmt.Printf("%s %s: %s\n", color.RedString("✗"), e.ID, e.Reason)
		}
	}
}

func reportSummary(summary scheduler.Summary) error {
	fmt.Println()
	fmt.Printf("%s %d completed, %d failed\n",
		color.New(color.Bold).Sprint("Done:"), summary.Completed, summary.Failed)

	if summary.Stopped {
		fmt.Println(color.YellowString("Run was interrupted; unstarted tasks remain pending."))
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d task(s) failed", summary.Failed)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
