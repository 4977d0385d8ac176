// Package state provides the durable run state shared between the scheduler
// process and independent reader processes (the dashboard): one
// human-readable JSON document guarded by advisory file locks. The mutation
// surface is a small closed set of operations; nothing else may write the
// document.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/worker"
)

// ErrNotInitialized is returned when the state file does not exist yet.
var ErrNotInitialized = errors.New("state file not initialized")

// ProjectRecord holds project-level metadata for one run.
type ProjectRecord struct {
	Name        string     `json:"name"`
	Source      string     `json:"source"` // Plan path or tracker epic id
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// TaskRecord is the per-task execution state as persisted in the document.
type TaskRecord struct {
	Status          graph.Status `json:"status"`
	WorkerID        string       `json:"worker_id,omitempty"`
	PID             int          `json:"pid,omitempty"`
	StartedAt       *time.Time   `json:"started_at,omitempty"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
	DurationSeconds int64        `json:"duration_seconds"`
	TokenUsage      worker.Usage `json:"token_usage"`
	Error           string       `json:"error,omitempty"`
	CommitSHA       string       `json:"commit_sha,omitempty"`
	FilesChanged    []string     `json:"files_changed,omitempty"`
}

// Document is the full state file schema.
type Document struct {
	Project ProjectRecord         `json:"project"`
	Tasks   map[string]TaskRecord `json:"tasks"`
}

// Completion carries the terminal metadata recorded when a task succeeds.
type Completion struct {
	CompletedAt     time.Time
	DurationSeconds int64
	CommitSHA       string   // Optional
	FilesChanged    []string // Optional
}

// Store reads and mutates one state file. Every operation opens the file,
// takes an advisory lock (shared for reads, exclusive for the full
// read-modify-write), and releases it before returning, so multiple OS
// processes can share the document safely.
type Store struct {
	path string
}

// NewStore creates a store for the given state file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// Initialize creates the state file with an empty task map. If the file
// already exists it is left untouched; an existing run is never clobbered.
func (s *Store) Initialize(projectName, source string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return fmt.Errorf("create state file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	doc := &Document{
		Project: ProjectRecord{Name: projectName, Source: source},
		Tasks:   make(map[string]TaskRecord),
	}
	return writeDocument(f, doc)
}

// Read returns the current document under a shared lock.
func (s *Store) Read() (*Document, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotInitialized, s.path)
		}
		return nil, fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("lock state file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var doc Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]TaskRecord)
	}
	return &doc, nil
}

// Statuses returns the task id to status map from the current document.
func (s *Store) Statuses() (map[string]graph.Status, error) {
	doc, err := s.Read()
	if err != nil {
		return nil, err
	}
	statuses := make(map[string]graph.Status, len(doc.Tasks))
	for id, task := range doc.Tasks {
		statuses[id] = task.Status
	}
	return statuses, nil
}

// RegisterTasks creates pending records for the given task ids if they do
// not exist yet. Existing records are left untouched.
func (s *Store) RegisterTasks(ids ...string) error {
	return s.mutate(func(doc *Document) error {
		for _, id := range ids {
			if _, ok := doc.Tasks[id]; !ok {
				doc.Tasks[id] = emptyTask()
			}
		}
		return nil
	})
}

// AssignTask marks a task in_progress and records its worker id, process id,
// and start time. Only a pending (or unknown) task may be assigned.
func (s *Store) AssignTask(id, workerID string, pid int, startedAt time.Time) error {
	return s.mutate(func(doc *Document) error {
		task := doc.ensure(id)
		if task.Status != graph.StatusPending {
			return fmt.Errorf("task %q is %s, cannot assign", id, task.Status)
		}
		task.Status = graph.StatusInProgress
		task.WorkerID = workerID
		task.PID = pid
		started := startedAt.UTC()
		task.StartedAt = &started
		doc.Tasks[id] = task
		return nil
	})
}

// UpdateTokens replaces a task's token counters with the given usage.
func (s *Store) UpdateTokens(id string, usage worker.Usage) error {
	return s.mutate(func(doc *Document) error {
		task := doc.ensure(id)
		task.TokenUsage = usage
		doc.Tasks[id] = task
		return nil
	})
}

// CompleteTask marks a task completed with its duration and optional commit
// metadata. Completing a task that already reached a terminal state is an
// error.
func (s *Store) CompleteTask(id string, c Completion) error {
	return s.mutate(func(doc *Document) error {
		task := doc.ensure(id)
		if task.Status.Terminal() {
			return fmt.Errorf("task %q is already %s", id, task.Status)
		}
		task.Status = graph.StatusCompleted
		completed := c.CompletedAt.UTC()
		task.CompletedAt = &completed
		task.DurationSeconds = c.DurationSeconds
		if c.CommitSHA != "" {
			task.CommitSHA = c.CommitSHA
		}
		if c.FilesChanged != nil {
			task.FilesChanged = c.FilesChanged
		}
		doc.Tasks[id] = task
		return nil
	})
}

// FailTask marks a task failed with an error message. Failing a task that
// already reached a terminal state is an error.
func (s *Store) FailTask(id, errMsg string) error {
	return s.mutate(func(doc *Document) error {
		task := doc.ensure(id)
		if task.Status.Terminal() {
			return fmt.Errorf("task %q is already %s", id, task.Status)
		}
		task.Status = graph.StatusFailed
		task.Error = errMsg
		now := time.Now().UTC()
		task.CompletedAt = &now
		doc.Tasks[id] = task
		return nil
	})
}

// SetProjectStarted records the project start time.
func (s *Store) SetProjectStarted(t time.Time) error {
	return s.mutate(func(doc *Document) error {
		started := t.UTC()
		doc.Project.StartedAt = &started
		return nil
	})
}

// SetProjectCompleted records the project completion time.
func (s *Store) SetProjectCompleted(t time.Time) error {
	return s.mutate(func(doc *Document) error {
		completed := t.UTC()
		doc.Project.CompletedAt = &completed
		return nil
	})
}

// mutate performs one read-modify-write cycle under an exclusive lock:
// parse the current document, apply fn, truncate, rewrite, flush.
func (s *Store) mutate(fn func(*Document) error) error {
	f, err := os.OpenFile(s.path, os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotInitialized, s.path)
		}
		return fmt.Errorf("open state file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("lock state file: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var doc Document
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}
	if doc.Tasks == nil {
		doc.Tasks = make(map[string]TaskRecord)
	}

	if err := fn(&doc); err != nil {
		return err
	}

	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek state file: %w", err)
	}
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate state file: %w", err)
	}
	return writeDocument(f, &doc)
}

func writeDocument(f *os.File, doc *Document) error {
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

func (d *Document) ensure(id string) TaskRecord {
	if task, ok := d.Tasks[id]; ok {
		return task
	}
	return emptyTask()
}

func emptyTask() TaskRecord {
	return TaskRecord{Status: graph.StatusPending}
}
