// Package scheduler runs the polling execution loop: it asks a Source for
// ready tasks, spawns one worker subprocess per task up to the concurrency
// limit, and reports progress to a Sink as workers exit.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cascadehq/cascade/internal/events"
	"github.com/cascadehq/cascade/internal/worker"
)

// StartInfo carries worker identity recorded when a task starts.
type StartInfo struct {
	WorkerID  string
	PID       int
	StartedAt time.Time
}

// Completion carries the metrics recorded when a task's worker exits.
type Completion struct {
	ExitCode    int
	Duration    time.Duration
	Usage       worker.Usage
	CompletedAt time.Time
}

// Source supplies tasks to execute. Implementations back onto the plan
// graph plus the state file, or onto the issue tracker.
type Source interface {
	// Ready returns the ids of tasks whose dependencies are all satisfied
	// and which have not started yet.
	Ready(ctx context.Context) ([]string, error)

	// Prompt returns the prompt text handed to the worker for a task.
	Prompt(ctx context.Context, id string) (string, error)
}

// Sink receives task lifecycle notifications from the scheduler. Sink
// errors are infrastructure failures and stop the loop; they are not
// retried.
type Sink interface {
	TaskStarted(ctx context.Context, id string, info StartInfo) error
	TaskUsage(ctx context.Context, id string, usage worker.Usage) error
	TaskCompleted(ctx context.Context, id string, c Completion) error
	TaskFailed(ctx context.Context, id string, reason string, c Completion) error
}

// Summary reports what the run accomplished.
type Summary struct {
	Completed int
	Failed    int
	Stopped   bool
}

// Options configures a Scheduler.
type Options struct {
	// Command is the worker command line; the task prompt is appended as
	// the final argument.
	Command []string

	// LogsDir is where per-task worker logs are written.
	LogsDir string

	// WorkDir is the working directory for worker subprocesses. Empty
	// means inherit the scheduler's.
	WorkDir string

	// MaxWorkers caps concurrent workers (default 3).
	MaxWorkers int

	// PollInterval is the pause between loop iterations (default 2s).
	PollInterval time.Duration

	// Bus receives progress events when non-nil.
	Bus *events.Bus
}

// Scheduler drives tasks from a Source through workers into a Sink.
type Scheduler struct {
	source  Source
	sink    Sink
	opts    Options
	stopped atomic.Bool

	mu         sync.Mutex
	active     map[string]*worker.Worker
	startTimes map[string]time.Time
}

// New creates a Scheduler.
func New(source Source, sink Sink, opts Options) *Scheduler {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 3
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &Scheduler{
		source:     source,
		sink:       sink,
		opts:       opts,
		active:     make(map[string]*worker.Worker),
		startTimes: make(map[string]time.Time),
	}
}

// Active returns the ids of tasks currently running.
func (s *Scheduler) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids
}

// Stop requests a cooperative stop: no new tasks are admitted, workers
// already running are left to finish. Checked once per loop iteration.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)
}

// Run executes the polling loop until no task is ready and no worker is
// active, until Stop is called and the in-flight workers drain, or until
// ctx is cancelled. Cancellation is the hard path: remaining workers are
// terminated (SIGTERM, then SIGKILL after a grace period) and recorded as
// failed. The returned error reflects source or sink failures; per-task
// failures land in the summary, not the error.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	for {
		if ctx.Err() != nil {
			s.terminateActive(&summary)
			summary.Stopped = true
			s.publishFinished(summary)
			return summary, nil
		}

		if err := s.monitor(ctx, &summary); err != nil {
			return summary, err
		}

		var ready []string
		if !s.stopped.Load() {
			var err error
			ready, err = s.source.Ready(ctx)
			if err != nil {
				return summary, fmt.Errorf("listing ready tasks: %w", err)
			}
			if err := s.admit(ctx, ready); err != nil {
				return summary, err
			}
		}

		s.mu.Lock()
		running := len(s.active)
		s.mu.Unlock()

		if running == 0 && len(ready) == 0 {
			summary.Stopped = s.stopped.Load()
			s.publishFinished(summary)
			return summary, nil
		}

		select {
		case <-ctx.Done():
		case <-time.After(s.opts.PollInterval):
		}
	}
}

// monitor pushes interim token usage for running workers and finalizes
// every worker whose process has exited.
func (s *Scheduler) monitor(ctx context.Context, summary *Summary) error {
	s.mu.Lock()
	running := make(map[string]*worker.Worker)
	exited := make(map[string]*worker.Worker)
	for id, w := range s.active {
		if w.Alive() {
			running[id] = w
		} else {
			exited[id] = w
			delete(s.active, id)
		}
	}
	s.mu.Unlock()

	for id, w := range running {
		if usage := w.Usage(); !usage.IsZero() {
			if err := s.sink.TaskUsage(ctx, id, usage); err != nil {
				return fmt.Errorf("recording usage for task %q: %w", id, err)
			}
		}
	}

	for id, w := range exited {
		code, err := w.Wait(0)
		if err != nil {
			return fmt.Errorf("waiting for worker of task %q: %w", id, err)
		}
		c := s.completion(id, code, w.Usage())

		if code == 0 {
			summary.Completed++
			if err := s.sink.TaskCompleted(ctx, id, c); err != nil {
				return fmt.Errorf("recording completion of task %q: %w", id, err)
			}
			s.publish(events.TaskCompleted{ID: id, Duration: c.Duration, Usage: c.Usage, Timestamp: c.CompletedAt})
		} else {
			summary.Failed++
			reason := fmt.Sprintf("worker exited with code %d", code)
			if err := s.sink.TaskFailed(ctx, id, reason, c); err != nil {
				return fmt.Errorf("recording failure of task %q: %w", id, err)
			}
			s.publish(events.TaskFailed{ID: id, Reason: reason, Duration: c.Duration, Timestamp: c.CompletedAt})
		}
	}
	return nil
}

// admit spawns workers for ready tasks, respecting the concurrency cap. A
// spawn failure happens before any sink mutation, so the task is still
// pending when the error surfaces to the caller.
func (s *Scheduler) admit(ctx context.Context, ready []string) error {
	for _, id := range ready {
		s.mu.Lock()
		_, running := s.active[id]
		slots := s.opts.MaxWorkers - len(s.active)
		s.mu.Unlock()

		if running {
			continue
		}
		if slots <= 0 {
			return nil
		}

		prompt, err := s.source.Prompt(ctx, id)
		if err != nil {
			return fmt.Errorf("loading prompt for task %q: %w", id, err)
		}

		w := worker.New(id, s.opts.LogsDir)
		command := append(append([]string{}, s.opts.Command...), prompt)
		if err := w.Start(command, s.opts.WorkDir); err != nil {
			return fmt.Errorf("spawning worker for task %q: %w", id, err)
		}

		now := time.Now()
		s.mu.Lock()
		s.active[id] = w
		s.startTimes[id] = now
		s.mu.Unlock()

		info := StartInfo{WorkerID: w.ID(), PID: w.PID(), StartedAt: now}
		if err := s.sink.TaskStarted(ctx, id, info); err != nil {
			return fmt.Errorf("recording start of task %q: %w", id, err)
		}
		s.publish(events.TaskStarted{ID: id, WorkerID: info.WorkerID, PID: info.PID, Timestamp: now})
	}
	return nil
}

// terminateActive force-stops every remaining worker and records the tasks
// as failed. Called on context cancellation; the sink calls use a fresh
// context since the run context is already dead.
func (s *Scheduler) terminateActive(summary *Summary) {
	s.mu.Lock()
	remaining := make(map[string]*worker.Worker, len(s.active))
	for id, w := range s.active {
		remaining[id] = w
		delete(s.active, id)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for id, w := range remaining {
		log.Printf("Terminating worker for task %q", id)
		w.Terminate()

		code, _ := w.ExitCode()
		c := s.completion(id, code, w.Usage())
		summary.Failed++

		if err := s.sink.TaskFailed(ctx, id, "terminated by scheduler shutdown", c); err != nil {
			log.Printf("ERROR: failed to record termination of task %q: %v", id, err)
		}
		s.publish(events.TaskFailed{ID: id, Reason: "terminated by scheduler shutdown", Duration: c.Duration, Timestamp: c.CompletedAt})
	}
}

func (s *Scheduler) completion(id string, code int, usage worker.Usage) Completion {
	now := time.Now()
	s.mu.Lock()
	started, ok := s.startTimes[id]
	delete(s.startTimes, id)
	s.mu.Unlock()

	var duration time.Duration
	if ok {
		duration = now.Sub(started)
	}
	return Completion{ExitCode: code, Duration: duration, Usage: usage, CompletedAt: now}
}

func (s *Scheduler) publish(event events.Event) {
	if s.opts.Bus != nil {
		s.opts.Bus.Publish(event)
	}
}

func (s *Scheduler) publishFinished(summary Summary) {
	s.publish(events.RunFinished{
		Completed: summary.Completed,
		Failed:    summary.Failed,
		Stopped:   summary.Stopped,
		Timestamp: time.Now(),
	})
}
