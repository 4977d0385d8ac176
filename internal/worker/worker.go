// Package worker manages one OS subprocess executing one task: spawn with
// combined output captured to a per-task log file, non-blocking liveness and
// exit-code polls, bounded waits, and graceful termination.
package worker

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// Status is the worker state machine: Pending -> Running -> {Completed,
// Failed}. Terminal states are absorbing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ErrWaitTimeout is returned by Wait when the process does not exit within
// the given timeout.
var ErrWaitTimeout = errors.New("timed out waiting for worker to exit")

// terminateGrace is how long Terminate waits after SIGTERM before SIGKILL.
const terminateGrace = 5 * time.Second

// Worker runs a single subprocess for a single task.
type Worker struct {
	taskID  string
	id      string
	logPath string

	mu       sync.Mutex
	status   Status
	cmd      *exec.Cmd
	pid      int
	exitCode int
	usage    Usage

	done chan struct{} // closed when the wait goroutine reaps the process
}

// New creates a worker for the given task. Output will be captured to
// <logsDir>/<taskID>.log. The worker id is a fresh UUID.
func New(taskID, logsDir string) *Worker {
	return &Worker{
		taskID:  taskID,
		id:      uuid.NewString(),
		logPath: filepath.Join(logsDir, taskID+".log"),
		status:  StatusPending,
		done:    make(chan struct{}),
	}
}

// TaskID returns the task this worker executes.
func (w *Worker) TaskID() string { return w.taskID }

// ID returns the worker identifier.
func (w *Worker) ID() string { return w.id }

// PID returns the subprocess id, or 0 before Start.
func (w *Worker) PID() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pid
}

// LogPath returns the path of the captured output log.
func (w *Worker) LogPath() string { return w.logPath }

// Status returns the current worker status.
func (w *Worker) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Start creates (or truncates) the log file and spawns the command with
// stdout and stderr merged into it. The subprocess runs in its own process
// group so Terminate can stop the whole tree. A spawn failure leaves the
// worker in Pending.
func (w *Worker) Start(command []string, workDir string) error {
	if len(command) == 0 {
		return errors.New("empty worker command")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.status != StatusPending {
		return fmt.Errorf("worker for task %q already started", w.taskID)
	}

	if err := os.MkdirAll(filepath.Dir(w.logPath), 0o755); err != nil {
		return fmt.Errorf("create logs directory: %w", err)
	}
	logFile, err := os.Create(w.logPath)
	if err != nil {
		return fmt.Errorf("create log file: %w", err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Dir = workDir
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true, // New process group for clean tree termination
	}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("start worker for task %q: %w", w.taskID, err)
	}

	w.cmd = cmd
	w.pid = cmd.Process.Pid
	w.status = StatusRunning

	go func() {
		err := cmd.Wait()
		logFile.Close()

		w.mu.Lock()
		w.exitCode = exitCodeFromWait(cmd, err)
		w.mu.Unlock()
		close(w.done)
	}()

	return nil
}

// Alive reports whether the subprocess is still running. Non-blocking.
func (w *Worker) Alive() bool {
	w.mu.Lock()
	started := w.cmd != nil
	w.mu.Unlock()
	if !started {
		return false
	}

	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code once the process has exited. The second
// return value is false while the process is still running or before Start.
func (w *Worker) ExitCode() (int, bool) {
	w.mu.Lock()
	started := w.cmd != nil
	w.mu.Unlock()
	if !started {
		return 0, false
	}

	select {
	case <-w.done:
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.exitCode, true
	default:
		return 0, false
	}
}

// Wait blocks until the subprocess exits, then sets the terminal status from
// the exit code (0 completes, anything else fails) and re-derives token
// usage from the full log. Safe to call repeatedly. A timeout of zero waits
// forever; otherwise ErrWaitTimeout is returned if the process outlives it.
func (w *Worker) Wait(timeout time.Duration) (int, error) {
	w.mu.Lock()
	started := w.cmd != nil
	w.mu.Unlock()
	if !started {
		return 0, errors.New("cannot wait on a worker that has not been started")
	}

	if timeout > 0 {
		select {
		case <-w.done:
		case <-time.After(timeout):
			return 0, ErrWaitTimeout
		}
	} else {
		<-w.done
	}

	w.mu.Lock()
	code := w.exitCode
	if !w.status.terminal() {
		if code == 0 {
			w.status = StatusCompleted
		} else {
			w.status = StatusFailed
		}
	}
	w.mu.Unlock()

	w.refreshUsage()
	return code, nil
}

// Terminate sends SIGTERM to the worker's process group, waits a bounded
// grace period, and force-kills if the process is still alive. The worker
// always ends up Failed.
func (w *Worker) Terminate() {
	w.mu.Lock()
	started := w.cmd != nil
	pid := w.pid
	w.mu.Unlock()

	if started && w.Alive() {
		// Negative pid targets the whole process group.
		_ = syscall.Kill(-pid, syscall.SIGTERM)

		select {
		case <-w.done:
		case <-time.After(terminateGrace):
			_ = syscall.Kill(-pid, syscall.SIGKILL)
			<-w.done
		}
	}

	w.mu.Lock()
	w.status = StatusFailed
	w.mu.Unlock()

	if started {
		w.refreshUsage()
	}
}

// Usage returns the accumulated token usage parsed from the worker's log.
// While the process is running this re-scans the log, so it is safe to call
// at any time; a worker that never produced usage records reports zeros.
func (w *Worker) Usage() Usage {
	w.refreshUsage()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usage
}

func (w *Worker) refreshUsage() {
	usage, err := ParseUsageLog(w.logPath)
	if err != nil {
		// Keep the last known counters if the log is unreadable.
		return
	}

	w.mu.Lock()
	w.usage = usage
	w.mu.Unlock()
}

func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func exitCodeFromWait(cmd *exec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}
