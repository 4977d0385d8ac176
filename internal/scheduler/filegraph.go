package scheduler

import (
	"context"
	"fmt"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/state"
	"github.com/cascadehq/cascade/internal/worker"
)

// FileGraph adapts a parsed plan graph and the state file to the Source and
// Sink interfaces. Readiness comes from the graph evaluated against the
// statuses in the state file; lifecycle updates are written back to it.
type FileGraph struct {
	graph *graph.Graph
	store *state.Store
}

// NewFileGraph creates a FileGraph over a dependency graph and state store.
func NewFileGraph(g *graph.Graph, store *state.Store) *FileGraph {
	return &FileGraph{graph: g, store: store}
}

// Ready returns pending tasks whose dependencies have all completed.
func (f *FileGraph) Ready(ctx context.Context) ([]string, error) {
	statuses, err := f.store.Statuses()
	if err != nil {
		return nil, fmt.Errorf("reading task statuses: %w", err)
	}
	return f.graph.Ready(statuses), nil
}

// Prompt returns the task's description, falling back to its name.
func (f *FileGraph) Prompt(ctx context.Context, id string) (string, error) {
	task, ok := f.graph.Task(id)
	if !ok {
		return "", fmt.Errorf("unknown task %q", id)
	}
	if task.Description != "" {
		return task.Description, nil
	}
	if task.Name != "" {
		return task.Name, nil
	}
	return "", fmt.Errorf("task %q has no description or name", id)
}

// TaskStarted claims the task in the state file.
func (f *FileGraph) TaskStarted(ctx context.Context, id string, info StartInfo) error {
	return f.store.AssignTask(id, info.WorkerID, info.PID, info.StartedAt)
}

// TaskUsage records interim token usage.
func (f *FileGraph) TaskUsage(ctx context.Context, id string, usage worker.Usage) error {
	return f.store.UpdateTokens(id, usage)
}

// TaskCompleted records a successful finish.
func (f *FileGraph) TaskCompleted(ctx context.Context, id string, c Completion) error {
	if err := f.store.UpdateTokens(id, c.Usage); err != nil {
		return err
	}
	return f.store.CompleteTask(id, state.Completion{
		CompletedAt:     c.CompletedAt,
		DurationSeconds: int64(c.Duration.Seconds()),
	})
}

// TaskFailed records a failed finish.
func (f *FileGraph) TaskFailed(ctx context.Context, id string, reason string, c Completion) error {
	if err := f.store.UpdateTokens(id, c.Usage); err != nil {
		return err
	}
	return f.store.FailTask(id, reason)
}
