package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/plan"
	"github.com/cascadehq/cascade/internal/state"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Worker.Command = "sh"
	cfg.Worker.Args = []string{"-c", `eval "$0"`}
	cfg.PollInterval = 10 * time.Millisecond
	return cfg
}

// TestRunCommandEndToEnd drives the run subcommand against a real plan
// file, with workers that execute each task's prompt as a shell snippet.
func TestRunCommandEndToEnd(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "CASCADE.md")
	planContent := `# Shell Project

## L1: Only Branch

### L2: Only Group

| Task ID | Name | Description | Depends On |
|---------|------|-------------|------------|
| T1 | first | true | - |
| T2 | second | true | T1 |
`
	if err := os.WriteFile(planPath, []byte(planContent), 0o644); err != nil {
		t.Fatal(err)
	}

	defer func() { cfg = nil }()
	cfg = testConfig()
	cfg.StateFile = filepath.Join(dir, "cascade_state.json")
	cfg.LogsDir = filepath.Join(dir, "logs")

	runCmd.SetContext(context.Background())
	if err := runRun(runCmd, []string{planPath}); err != nil {
		t.Fatalf("runRun() error = %v", err)
	}

	doc, err := state.NewStore(cfg.StateFile).Read()
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"T1", "T2"} {
		if doc.Tasks[id].Status != graph.StatusCompleted {
			t.Errorf("task %q status = %q, want completed", id, doc.Tasks[id].Status)
		}
	}
	if doc.Project.StartedAt == nil || doc.Project.CompletedAt == nil {
		t.Error("project timestamps not recorded")
	}

	// Worker logs land in the configured logs directory.
	if _, err := os.Stat(filepath.Join(cfg.LogsDir, "T1.log")); err != nil {
		t.Errorf("missing worker log for T1: %v", err)
	}
}

// TestRunCommandFailurePropagates checks a failing task surfaces as a
// command error and a failed status.
func TestRunCommandFailurePropagates(t *testing.T) {
	dir := t.TempDir()
	planPath := filepath.Join(dir, "CASCADE.md")
	planContent := `# Failing Project

## L1: Only Branch

### L2: Only Group

| Task ID | Name | Description | Depends On |
|---------|------|-------------|------------|
| T1 | boom | exit 3 | - |
`
	if err := os.WriteFile(planPath, []byte(planContent), 0o644); err != nil {
		t.Fatal(err)
	}

	defer func() { cfg = nil }()
	cfg = testConfig()
	cfg.StateFile = filepath.Join(dir, "cascade_state.json")
	cfg.LogsDir = filepath.Join(dir, "logs")

	runCmd.SetContext(context.Background())
	if err := runRun(runCmd, []string{planPath}); err == nil {
		t.Fatal("runRun() succeeded, want error for failed task")
	}

	doc, err := state.NewStore(cfg.StateFile).Read()
	if err != nil {
		t.Fatal(err)
	}
	if doc.Tasks["T1"].Status != graph.StatusFailed {
		t.Errorf("task T1 status = %q, want failed", doc.Tasks["T1"].Status)
	}
}

func TestInitCommandWritesTemplate(t *testing.T) {
	dir := t.TempDir()

	defer func() { cfg = nil }()
	cfg = testConfig()
	cfg.PlanFile = filepath.Join(dir, "CASCADE.md")

	if err := runInit(initCmd, nil); err != nil {
		t.Fatalf("runInit() error = %v", err)
	}

	content, err := os.ReadFile(cfg.PlanFile)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := plan.Parse(string(content)); err != nil {
		t.Errorf("generated template does not parse: %v", err)
	}

	// A second init without --force must refuse to clobber.
	if err := runInit(initCmd, nil); err == nil {
		t.Error("runInit() overwrote an existing plan without --force")
	}
}
