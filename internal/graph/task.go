package graph

// Status is the lifecycle state of a task as recorded in the shared state
// document. Transitions are monotonic: a task never returns to pending and
// never leaves a terminal state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is absorbing.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task is one unit of work in the dependency graph. Tasks are immutable once
// the graph is built; execution state lives in the state store, not here.
type Task struct {
	ID          string   // Unique identifier (e.g., "F1", "P3")
	Name        string   // Human-readable name
	Description string   // Prompt text handed to the worker
	DependsOn   []string // Task IDs that must complete before this task
	Branch      string   // Hierarchy label (L1)
	Group       string   // Hierarchy label (L2)
}
