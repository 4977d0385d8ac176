package scheduler

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cascadehq/cascade/internal/worker"
)

// shellEval makes workers run each task's prompt as a shell snippet, so
// tests can give every task its own behavior through the prompt alone.
var shellEval = []string{"sh", "-c", `eval "$0"`}

// board is an in-memory Source and Sink for exercising the loop without a
// plan file or state file.
type board struct {
	mu       sync.Mutex
	deps     map[string][]string
	prompts  map[string]string
	statuses map[string]string

	running    int
	maxRunning int
	failures   map[string]string
}

func newBoard() *board {
	return &board{
		deps:     make(map[string][]string),
		prompts:  make(map[string]string),
		statuses: make(map[string]string),
		failures: make(map[string]string),
	}
}

func (b *board) add(id, prompt string, deps ...string) {
	b.deps[id] = deps
	b.prompts[id] = prompt
	b.statuses[id] = "pending"
}

func (b *board) Ready(ctx context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var ready []string
	for id, deps := range b.deps {
		if b.statuses[id] != "pending" {
			continue
		}
		ok := true
		for _, dep := range deps {
			if b.statuses[dep] != "completed" {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready, nil
}

func (b *board) Prompt(ctx context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prompts[id], nil
}

func (b *board) TaskStarted(ctx context.Context, id string, info StartInfo) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[id] = "in_progress"
	b.running++
	if b.running > b.maxRunning {
		b.maxRunning = b.running
	}
	return nil
}

func (b *board) TaskUsage(ctx context.Context, id string, usage worker.Usage) error {
	return nil
}

func (b *board) TaskCompleted(ctx context.Context, id string, c Completion) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[id] = "completed"
	b.running--
	return nil
}

func (b *board) TaskFailed(ctx context.Context, id string, reason string, c Completion) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statuses[id] = "failed"
	b.failures[id] = reason
	b.running--
	return nil
}

func (b *board) status(id string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statuses[id]
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Command:      shellEval,
		LogsDir:      t.TempDir(),
		MaxWorkers:   3,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestRunLinearChain(t *testing.T) {
	b := newBoard()
	b.add("task-a", "true")
	b.add("task-b", "true", "task-a")
	b.add("task-c", "true", "task-b")

	sched := New(b, b, testOptions(t))
	summary, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Completed != 3 || summary.Failed != 0 || summary.Stopped {
		t.Errorf("summary = %+v, want 3 completed", summary)
	}
	for _, id := range []string{"task-a", "task-b", "task-c"} {
		if got := b.status(id); got != "completed" {
			t.Errorf("status[%s] = %q, want completed", id, got)
		}
	}
}

func TestRunFailureBlocksDependents(t *testing.T) {
	b := newBoard()
	b.add("task-a", "exit 1")
	b.add("task-b", "true", "task-a")
	b.add("task-c", "true")

	sched := New(b, b, testOptions(t))
	summary, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if summary.Completed != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 1 completed 1 failed", summary)
	}
	if got := b.status("task-a"); got != "failed" {
		t.Errorf("status[task-a] = %q, want failed", got)
	}
	if got := b.status("task-b"); got != "pending" {
		t.Errorf("status[task-b] = %q, want pending (blocked by failed dependency)", got)
	}
	if got := b.status("task-c"); got != "completed" {
		t.Errorf("status[task-c] = %q, want completed", got)
	}
	if reason := b.failures["task-a"]; reason != "worker exited with code 1" {
		t.Errorf("failure reason = %q", reason)
	}
}

func TestRunDiamond(t *testing.T) {
	b := newBoard()
	b.add("task-a", "true")
	b.add("task-b", "true", "task-a")
	b.add("task-c", "true", "task-a")
	b.add("task-d", "true", "task-b", "task-c")

	sched := New(b, b, testOptions(t))
	summary, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Completed != 4 {
		t.Errorf("summary = %+v, want 4 completed", summary)
	}
}

func TestRunRespectsConcurrencyCap(t *testing.T) {
	b := newBoard()
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5"} {
		b.add(id, "sleep 0.1")
	}

	opts := testOptions(t)
	opts.MaxWorkers = 2
	sched := New(b, b, opts)

	summary, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Completed != 5 {
		t.Errorf("summary = %+v, want 5 completed", summary)
	}

	b.mu.Lock()
	maxRunning := b.maxRunning
	b.mu.Unlock()
	if maxRunning > 2 {
		t.Errorf("max concurrent workers = %d, want <= 2", maxRunning)
	}
}

func TestRunCancelTerminatesWorkers(t *testing.T) {
	b := newBoard()
	b.add("task-a", "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	sched := New(b, b, testOptions(t))

	go func() {
		// Give the worker time to start before pulling the plug.
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	summary, err := sched.Run(ctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !summary.Stopped {
		t.Error("summary.Stopped = false, want true")
	}
	if summary.Failed != 1 {
		t.Errorf("summary.Failed = %d, want 1", summary.Failed)
	}
	if got := b.status("task-a"); got != "failed" {
		t.Errorf("status[task-a] = %q, want failed", got)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("Run() took %s after cancel, terminate did not cut the sleep short", elapsed)
	}
}

func TestStopDrainsInFlightWorkers(t *testing.T) {
	b := newBoard()
	b.add("task-a", "sleep 0.2")
	b.add("task-b", "sleep 0.2")

	opts := testOptions(t)
	opts.MaxWorkers = 1
	sched := New(b, b, opts)

	done := make(chan Summary, 1)
	go func() {
		summary, _ := sched.Run(context.Background())
		done <- summary
	}()

	// Wait for the first worker, then request a cooperative stop.
	deadline := time.After(5 * time.Second)
	for len(sched.Active()) == 0 {
		select {
		case <-deadline:
			t.Fatal("no worker ever started")
		case <-time.After(5 * time.Millisecond):
		}
	}
	sched.Stop()

	summary := <-done
	if !summary.Stopped {
		t.Error("summary.Stopped = false, want true")
	}
	if summary.Completed != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want the in-flight task completed and nothing failed", summary)
	}

	statuses := []string{b.status("task-a"), b.status("task-b")}
	sort.Strings(statuses)
	if !reflect.DeepEqual(statuses, []string{"completed", "pending"}) {
		t.Errorf("statuses = %v, want one completed and one pending", statuses)
	}
}

// failingSink simulates an unreachable state file: completions cannot be
// recorded and must stop the loop.
type failingSink struct {
	*board
	err error
}

func (f failingSink) TaskCompleted(ctx context.Context, id string, c Completion) error {
	return f.err
}

func TestSinkErrorStopsLoop(t *testing.T) {
	b := newBoard()
	b.add("task-a", "true")

	sink := failingSink{board: b, err: errors.New("state file unreadable")}
	sched := New(b, sink, testOptions(t))

	_, err := sched.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "state file unreadable") {
		t.Errorf("Run() error = %v, want sink error propagated", err)
	}
}

func TestSpawnFailureStopsLoop(t *testing.T) {
	b := newBoard()
	b.add("task-a", "true")

	opts := testOptions(t)
	opts.Command = []string{"/no/such/worker/binary"}
	sched := New(b, b, opts)

	done := make(chan error, 1)
	go func() {
		_, err := sched.Run(context.Background())
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "spawning worker") {
			t.Errorf("Run() error = %v, want spawn error", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() kept polling instead of returning the spawn error")
	}

	// The failure happens before any sink call, so the task can be
	// retried on a later run.
	if got := b.status("task-a"); got != "pending" {
		t.Errorf("status[task-a] = %q, want pending", got)
	}
}

func TestRunEmptySource(t *testing.T) {
	b := newBoard()

	sched := New(b, b, testOptions(t))
	summary, err := sched.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Completed != 0 || summary.Failed != 0 || summary.Stopped {
		t.Errorf("summary = %+v, want all zero", summary)
	}
}

func TestActive(t *testing.T) {
	b := newBoard()
	b.add("task-a", "sleep 5")

	sched := New(b, b, testOptions(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		summary, _ := sched.Run(ctx)
		done <- summary
	}()

	deadline := time.After(5 * time.Second)
	for {
		if ids := sched.Active(); len(ids) == 1 && ids[0] == "task-a" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("task-a never showed up in Active()")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	<-done
}
