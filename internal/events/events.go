// Package events carries scheduler progress notifications to in-process
// consumers such as the CLI progress printer. This is internal
// observability only; external readers (the dashboard) poll the state file.
package events

import (
	"time"

	"github.com/cascadehq/cascade/internal/worker"
)

// Event is the interface implemented by all scheduler events.
type Event interface {
	EventType() string
	TaskID() string
}

const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeRunFinished   = "run.finished"
)

// TaskStarted is published when a worker is spawned for a task.
type TaskStarted struct {
	ID        string
	WorkerID  string
	PID       int
	Timestamp time.Time
}

func (e TaskStarted) EventType() string { return EventTypeTaskStarted }
func (e TaskStarted) TaskID() string    { return e.ID }

// TaskCompleted is published when a task's worker exits with code zero.
type TaskCompleted struct {
	ID        string
	Duration  time.Duration
	Usage     worker.Usage
	Timestamp time.Time
}

func (e TaskCompleted) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompleted) TaskID() string    { return e.ID }

// TaskFailed is published when a task's worker exits non-zero.
type TaskFailed struct {
	ID        string
	Reason    string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailed) EventType() string { return EventTypeTaskFailed }
func (e TaskFailed) TaskID() string    { return e.ID }

// RunFinished is published once when the scheduler loop ends.
type RunFinished struct {
	Completed int
	Failed    int
	Stopped   bool
	Timestamp time.Time
}

func (e RunFinished) EventType() string { return EventTypeRunFinished }
func (e RunFinished) TaskID() string    { return "" }
