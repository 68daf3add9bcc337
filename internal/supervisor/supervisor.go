package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-locust-swarm/internal/process"
)

// DefaultGracePeriod is how long Shutdown waits after SIGTERM before SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// reapTimeout bounds the wait for the kernel to reap a SIGKILLed worker.
const reapTimeout = 5 * time.Second

// Callbacks contains optional callback functions for supervisor events.
// They are invoked without internal locks held.
type Callbacks struct {
	// OnStateChange is called when the worker state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when the worker process starts.
	OnStart func(pid int)

	// OnExit is called once when the worker process exits.
	OnExit func(exitCode int, uptime time.Duration)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Logger      *slog.Logger
	GracePeriod time.Duration
	Callbacks   Callbacks
}

// Supervisor owns exactly one worker process and its output file.
//
// Poll never blocks. Shutdown may run concurrently with Poll; the
// Running -> terminal transition happens once, under mu.
type Supervisor struct {
	logger    *slog.Logger
	grace     time.Duration
	callbacks Callbacks

	mu        sync.Mutex
	state     State
	exitCode  int
	err       error
	startTime time.Time
	endTime   time.Time
	stopping  bool

	cmd     *exec.Cmd
	done    chan struct{} // closed when cmd.Wait returns
	waitErr error         // valid after done is closed

	output    *os.File
	closeOnce sync.Once
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return &Supervisor{
		logger:    logger,
		grace:     grace,
		callbacks: cfg.Callbacks,
		state:     StateNotStarted,
		exitCode:  -1,
	}
}

// Start opens the output file, spawns the worker and moves to Running.
// A spawn failure returns a *LaunchError and leaves the supervisor Failed.
func (s *Supervisor) Start(ctx context.Context, spec *process.LaunchSpec) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	output, err := openOutput(spec.OutputPath)
	if err != nil {
		launchErr := &LaunchError{Executable: spec.Executable, Err: err}
		old := s.failLocked(launchErr)
		s.mu.Unlock()
		s.notifyState(old, StateFailed)
		return launchErr
	}
	s.output = output

	cmd := spec.Command(ctx)
	cmd.Stdout = output
	cmd.Stderr = output

	// Own process group so signals reach the interpreter and its children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return signalGroup(cmd, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	if err := cmd.Start(); err != nil {
		s.logger.Error("worker_launch_failed",
			"executable", spec.Executable,
			"error", err,
		)
		launchErr := &LaunchError{Executable: spec.Executable, Err: err}
		old := s.failLocked(launchErr)
		s.mu.Unlock()
		s.closeOutput()
		s.notifyState(old, StateFailed)
		return launchErr
	}

	s.cmd = cmd
	s.startTime = time.Now()
	s.done = make(chan struct{})
	old := s.state
	s.state = StateRunning
	pid := cmd.Process.Pid
	done := s.done
	s.mu.Unlock()

	go func() {
		err := cmd.Wait()
		s.mu.Lock()
		s.waitErr = err
		s.mu.Unlock()
		close(done)
	}()

	s.logger.Info("worker_started",
		"pid", pid,
		"executable", spec.Executable,
		"output", spec.OutputPath,
	)
	s.notifyState(old, StateRunning)
	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(pid)
	}
	return nil
}

// Poll reports whether the worker has exited, without blocking.
// It returns (false, nil) while the worker runs, (true, nil) after a clean
// exit and (true, *WorkerExitError) after a non-zero exit. Once terminal,
// every call returns the same result.
func (s *Supervisor) Poll() (bool, error) {
	s.mu.Lock()
	switch s.state {
	case StateNotStarted:
		s.mu.Unlock()
		return false, ErrNotStarted
	case StateFinished, StateFailed:
		err := s.err
		s.mu.Unlock()
		return true, err
	}
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
		return s.finish()
	default:
		return false, nil
	}
}

// Shutdown stops a running worker: SIGTERM to its process group, then
// SIGKILL once the grace period expires. The output file is closed exactly
// once on every path. Calling Shutdown before Start, after the worker
// exited, or a second time is a no-op.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	if s.state != StateRunning || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	pid := cmd.Process.Pid
	s.logger.Info("worker_stopping", "pid", pid, "grace_period", s.grace.String())

	var shutdownErr error
	if err := signalGroup(cmd, syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("sigterm_failed", "pid", pid, "error", err)
	}

	select {
	case <-done:
	case <-time.After(s.grace):
		s.logger.Warn("force_killing_worker", "pid", pid)
		_ = signalGroup(cmd, syscall.SIGKILL)
		shutdownErr = ErrForceKilled

		select {
		case <-done:
		case <-time.After(reapTimeout):
			s.logger.Error("worker_not_reaped", "pid", pid)
		}
	}

	if _, err := s.finish(); err != nil {
		s.logger.Debug("worker_stopped", "pid", pid, "error", err)
	}
	s.closeOutput()
	return shutdownErr
}

// finish records the exit outcome. Only the first caller transitions the
// state; later callers get the recorded result.
func (s *Supervisor) finish() (bool, error) {
	s.mu.Lock()
	if s.state.IsTerminal() {
		err := s.err
		s.mu.Unlock()
		return true, err
	}

	select {
	case <-s.done:
	default:
		// Worker has not been reaped yet; only Shutdown's reap timeout gets here.
		s.mu.Unlock()
		return false, nil
	}

	code := extractExitCode(s.waitErr)
	old := s.state
	s.exitCode = code
	s.endTime = time.Now()
	uptime := s.endTime.Sub(s.startTime)
	if code == 0 {
		s.state = StateFinished
		s.err = nil
	} else {
		s.state = StateFailed
		s.err = &WorkerExitError{Code: code}
	}
	newState, err := s.state, s.err
	pid := s.cmd.Process.Pid
	s.mu.Unlock()

	s.closeOutput()

	s.logger.Info("worker_exited",
		"pid", pid,
		"exit_code", code,
		"uptime", uptime.String(),
	)
	s.notifyState(old, newState)
	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(code, uptime)
	}
	return true, err
}

// failLocked moves to Failed with a launch error. Caller holds mu.
func (s *Supervisor) failLocked(err error) State {
	old := s.state
	s.state = StateFailed
	s.err = err
	return old
}

func (s *Supervisor) closeOutput() {
	s.closeOnce.Do(func() {
		if s.output == nil {
			return
		}
		if err := s.output.Close(); err != nil {
			s.logger.Warn("output_close_failed", "path", s.output.Name(), "error", err)
		}
	})
}

func (s *Supervisor) notifyState(oldState, newState State) {
	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ExitCode returns the worker's exit code, or -1 if it has not exited.
func (s *Supervisor) ExitCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode
}

// PID returns the worker's process id, or 0 if it was never started.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Uptime returns how long the worker has been (or was) running.
func (s *Supervisor) Uptime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.startTime.IsZero():
		return 0
	case s.endTime.IsZero():
		return time.Since(s.startTime)
	default:
		return s.endTime.Sub(s.startTime)
	}
}

// openOutput creates the file receiving merged stdout/stderr.
func openOutput(path string) (*os.File, error) {
	if path == "" {
		path = os.DevNull
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// signalGroup sends sig to the worker's process group, falling back to the
// process itself.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return os.ErrProcessDone
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		return syscall.Kill(-pgid, sig)
	}
	return cmd.Process.Signal(sig)
}

// extractExitCode extracts the exit code from a Wait() error.
func extractExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				// Signal exit: 128 + signal number
				return 128 + int(status.Signal())
			}
			return status.ExitStatus()
		}
	}

	// Unknown error, assume exit code 1
	return 1
}
