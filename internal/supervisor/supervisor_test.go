package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-locust-swarm/internal/process"
)

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// shellSpec creates a launch spec running script under /bin/sh.
func shellSpec(t *testing.T, script string) *process.LaunchSpec {
	t.Helper()
	return &process.LaunchSpec{
		Executable: "/bin/sh",
		Args:       []string{"-c", script},
		Env:        map[string]string{"LOCUST_SWARM_TEST": "1"},
		OutputPath: filepath.Join(t.TempDir(), "locust.out"),
	}
}

func newTestSupervisor(cb Callbacks) *Supervisor {
	return New(Config{
		Logger:      newTestLogger(),
		GracePeriod: 300 * time.Millisecond,
		Callbacks:   cb,
	})
}

// pollUntilDone polls until the worker reaches a terminal state.
func pollUntilDone(t *testing.T, s *Supervisor) error {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		done, err := s.Poll()
		if done {
			return err
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("worker did not exit in time")
	return nil
}

// =============================================================================
// Table-Driven Tests: State
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "not_started"},
		{StateRunning, "running"},
		{StateFinished, "finished"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.String())
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	assert.False(t, StateNotStarted.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.True(t, StateFinished.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
}

func TestExtractExitCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"nil error", nil, 0},
		{"generic error", errors.New("some error"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, extractExitCode(tt.err))
		})
	}
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	s := New(Config{})
	assert.Equal(t, StateNotStarted, s.State())
	assert.Equal(t, DefaultGracePeriod, s.grace)
	assert.Equal(t, -1, s.ExitCode())
	assert.Zero(t, s.PID())
	assert.Zero(t, s.Uptime())
}

func TestPoll_BeforeStart(t *testing.T) {
	s := newTestSupervisor(Callbacks{})

	done, err := s.Poll()
	assert.False(t, done)
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.Equal(t, StateNotStarted, s.State())
}

func TestStart_CleanExit(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "exit 0")))

	require.NoError(t, pollUntilDone(t, s))
	assert.Equal(t, StateFinished, s.State())
	assert.Equal(t, 0, s.ExitCode())
}

func TestStart_NonZeroExit(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "exit 2")))

	err := pollUntilDone(t, s)
	var exitErr *WorkerExitError
	require.True(t, errors.As(err, &exitErr), "want *WorkerExitError, got %v", err)
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 2, s.ExitCode())
}

func TestPoll_TerminalIsIdempotent(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "exit 3")))
	first := pollUntilDone(t, s)

	for i := 0; i < 5; i++ {
		done, err := s.Poll()
		assert.True(t, done)
		assert.Equal(t, first, err)
		assert.Equal(t, StateFailed, s.State())
	}
}

func TestPoll_WhileRunning(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "sleep 5")))
	t.Cleanup(func() { _ = s.Shutdown() })

	for i := 0; i < 20; i++ {
		start := time.Now()
		done, err := s.Poll()
		assert.Less(t, time.Since(start), 100*time.Millisecond, "Poll must not block")
		assert.False(t, done)
		assert.NoError(t, err)
		assert.Equal(t, StateRunning, s.State())
	}
	assert.NotZero(t, s.PID())
	assert.Greater(t, s.Uptime(), time.Duration(0))
}

func TestStart_Twice(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	spec := shellSpec(t, "exit 0")
	require.NoError(t, s.Start(context.Background(), spec))

	assert.ErrorIs(t, s.Start(context.Background(), spec), ErrAlreadyStarted)
	require.NoError(t, pollUntilDone(t, s))
}

func TestStart_LaunchError(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	spec := &process.LaunchSpec{
		Executable: "/nonexistent/python-for-locust",
		OutputPath: filepath.Join(t.TempDir(), "locust.out"),
	}

	err := s.Start(context.Background(), spec)
	var launchErr *LaunchError
	require.True(t, errors.As(err, &launchErr), "want *LaunchError, got %v", err)
	assert.Equal(t, "/nonexistent/python-for-locust", launchErr.Executable)
	assert.Equal(t, StateFailed, s.State())

	done, pollErr := s.Poll()
	assert.True(t, done)
	assert.ErrorAs(t, pollErr, &launchErr)

	assert.NoError(t, s.Shutdown())
}

func TestStart_OutputNotWritable(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	spec := shellSpec(t, "exit 0")
	spec.OutputPath = filepath.Join(t.TempDir(), "missing-dir", "locust.out")

	var launchErr *LaunchError
	assert.ErrorAs(t, s.Start(context.Background(), spec), &launchErr)
	assert.Equal(t, StateFailed, s.State())
}

func TestStart_RedirectsOutput(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	spec := shellSpec(t, `echo "to stdout"; echo "to stderr" >&2; echo "env=$LOCUST_SWARM_TEST"`)
	require.NoError(t, s.Start(context.Background(), spec))
	require.NoError(t, pollUntilDone(t, s))

	data, err := os.ReadFile(spec.OutputPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "to stdout")
	assert.Contains(t, string(data), "to stderr")
	assert.Contains(t, string(data), "env=1")
}

// =============================================================================
// Shutdown
// =============================================================================

func TestShutdown_BeforeStart(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	assert.NoError(t, s.Shutdown())
	assert.NoError(t, s.Shutdown())
	assert.Equal(t, StateNotStarted, s.State())
}

func TestShutdown_Graceful(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "sleep 30")))

	start := time.Now()
	require.NoError(t, s.Shutdown())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, s.State().IsTerminal())

	// Second call is a no-op
	assert.NoError(t, s.Shutdown())

	done, _ := s.Poll()
	assert.True(t, done)
}

func TestShutdown_ForceKill(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "trap '' TERM; sleep 30")))

	// Give the shell time to install the trap
	time.Sleep(100 * time.Millisecond)

	err := s.Shutdown()
	assert.ErrorIs(t, err, ErrForceKilled)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, 137, s.ExitCode())

	assert.NoError(t, s.Shutdown())
}

func TestShutdown_AfterExit(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "exit 0")))
	require.NoError(t, pollUntilDone(t, s))

	assert.NoError(t, s.Shutdown())
	assert.NoError(t, s.Shutdown())
	assert.Equal(t, StateFinished, s.State())
}

func TestShutdown_ConcurrentWithPoll(t *testing.T) {
	var exits atomic.Int32
	s := newTestSupervisor(Callbacks{
		OnExit: func(int, time.Duration) { exits.Add(1) },
	})
	require.NoError(t, s.Start(context.Background(), shellSpec(t, "sleep 30")))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_, _ = s.Poll()
				}
			}
		}()
	}

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Shutdown()
		}()
	}

	require.Eventually(t, func() bool { return s.State().IsTerminal() }, 5*time.Second, 10*time.Millisecond)
	close(stop)
	wg.Wait()

	assert.Equal(t, int32(1), exits.Load(), "exit must be recorded exactly once")
}

func TestShutdown_ContextCancel(t *testing.T) {
	s := newTestSupervisor(Callbacks{})
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, shellSpec(t, "sleep 30")))

	cancel()
	err := pollUntilDone(t, s)
	var exitErr *WorkerExitError
	assert.ErrorAs(t, err, &exitErr)
}

// =============================================================================
// Callbacks
// =============================================================================

func TestCallbacks(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	var startedPID, exitCode int

	s := newTestSupervisor(Callbacks{
		OnStateChange: func(oldState, newState State) {
			mu.Lock()
			transitions = append(transitions, oldState.String()+"->"+newState.String())
			mu.Unlock()
		},
		OnStart: func(pid int) { startedPID = pid },
		OnExit:  func(code int, _ time.Duration) { exitCode = code },
	})

	require.NoError(t, s.Start(context.Background(), shellSpec(t, "exit 4")))
	_ = pollUntilDone(t, s)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"not_started->running", "running->failed"}, transitions)
	assert.Equal(t, s.PID(), startedPID)
	assert.Equal(t, 4, exitCode)
}
