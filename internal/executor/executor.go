// Package executor runs one load test. It prepares the artifacts and the
// results provider, launches the locust worker under supervision and feeds
// its results to the aggregator until the worker exits.
package executor

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-locust-swarm/internal/aggregator"
	"github.com/randomizedcoder/go-locust-swarm/internal/artifacts"
	"github.com/randomizedcoder/go-locust-swarm/internal/config"
	"github.com/randomizedcoder/go-locust-swarm/internal/jtl"
	"github.com/randomizedcoder/go-locust-swarm/internal/load"
	"github.com/randomizedcoder/go-locust-swarm/internal/logging"
	"github.com/randomizedcoder/go-locust-swarm/internal/metrics"
	"github.com/randomizedcoder/go-locust-swarm/internal/process"
	"github.com/randomizedcoder/go-locust-swarm/internal/results"
	"github.com/randomizedcoder/go-locust-swarm/internal/supervisor"
	"github.com/randomizedcoder/go-locust-swarm/internal/widget"
)

//go:embed locust-wrapper.py
var wrapperScript []byte

// Tool probes for the worker runtime.
type Tool interface {
	Name() string
	Interpreter() string
	Version() string
	Check(ctx context.Context) error
	Installed(ctx context.Context) bool
	Install() error
}

// Executor drives a single worker through Prepare, Startup, Check and
// Shutdown. Check and Shutdown may be called from different goroutines.
type Executor struct {
	config  *config.Config
	logger  *slog.Logger
	version string

	tool       Tool
	registry   *prometheus.Registry
	metrics    *metrics.Collector
	aggregator *aggregator.Aggregator
	widget     *widget.Widget

	artifacts  *artifacts.Dir
	runLog     *logging.RunLog
	source     results.Source
	provider   results.Provider
	wrapper    string
	spec       *process.LaunchSpec
	supervisor *supervisor.Supervisor

	mu           sync.Mutex
	startTime    time.Time
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates an executor for the given configuration.
func New(cfg *config.Config, logger *slog.Logger, version string) *Executor {
	registry := prometheus.NewRegistry()
	intent := cfg.Intent()
	collector := metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		TargetClients: cfg.Clients,
		HatchRate:     intent.HatchRate(),
		Script:        cfg.Script,
		Role:          intent.Role.String(),
		Version:       version,
	}, registry)

	e := &Executor{
		config:   cfg,
		logger:   logger,
		version:  version,
		tool:     process.NewLocustTool(cfg.Interpreter),
		registry: registry,
		metrics:  collector,
		aggregator: aggregator.New(aggregator.Config{
			Logger:   logger,
			Recorder: collector,
			Gatherer: registry,
		}),
	}

	e.supervisor = supervisor.New(supervisor.Config{
		Logger:      logger,
		GracePeriod: cfg.GracePeriod,
		Callbacks: supervisor.Callbacks{
			OnStateChange: e.onStateChange,
			OnStart:       e.onStart,
			OnExit:        e.onExit,
		},
	})
	return e
}

// =============================================================================
// Lifecycle
// =============================================================================

// Prepare checks that locust is importable, opens the artifacts directory,
// selects the results provider for the role and attaches it to the
// aggregator. Nothing is launched yet.
func (e *Executor) Prepare(ctx context.Context) error {
	if !e.tool.Installed(ctx) {
		e.logger.Error("tool_missing", "tool", e.tool.Name(), "interpreter", e.tool.Interpreter())
		return e.tool.Install()
	}
	e.logger.Debug("tool_found", "tool", e.tool.Name(), "version", e.tool.Version())

	if _, err := os.Stat(e.config.Script); err != nil {
		return &process.ConfigurationError{
			Field:   "script",
			Message: fmt.Sprintf("locust file not found: %s", e.config.Script),
		}
	}

	dir, err := artifacts.Open(e.config.ArtifactsDir, e.logger)
	if err != nil {
		return fmt.Errorf("open artifacts: %w", err)
	}
	e.artifacts = dir

	role, _ := load.ParseRole(e.config.Role)
	if err := e.openRunLog(dir, role); err != nil {
		return err
	}

	if _, err := dir.Existing(e.config.Script); err != nil {
		return fmt.Errorf("copy locustfile: %w", err)
	}

	e.source, err = results.Select(role, dir)
	if err != nil {
		return fmt.Errorf("select results source: %w", err)
	}

	e.provider, err = e.source.Open(results.OpenOptions{
		Parser: e.openJTL,
		Merge: results.MergeConfig{
			Lag:      e.config.MergeLag,
			Interval: e.config.Interval,
		},
		Logger: e.logger,
	})
	if err != nil {
		return fmt.Errorf("open results provider: %w", err)
	}
	e.aggregator.Attach(e.provider)

	if e.wrapper, err = e.resolveWrapper(); err != nil {
		return err
	}

	if _, err := dir.WriteYAML("effective", e.config.Effective()); err != nil {
		e.logger.Warn("effective_config_not_written", "error", err)
	}

	e.logger.Info("prepared",
		"artifacts_dir", dir.Path(),
		"results", e.source.Kind.String(),
		"results_path", e.source.Path,
	)
	return nil
}

// openRunLog tees the executor's logger into swarm.log in the run
// directory, tagged with the run id and role.
func (e *Executor) openRunLog(dir *artifacts.Dir, role load.Role) error {
	path, err := dir.Create("swarm", ".log")
	if err != nil {
		return fmt.Errorf("allocate run log: %w", err)
	}
	runLog, err := logging.OpenRunLog(e.logger, path, dir.Name(), role.String())
	if err != nil {
		return err
	}
	e.runLog = runLog
	e.logger = runLog.Logger()
	return nil
}

// openJTL is the parser a LocalFile hands its path to once the file exists.
func (e *Executor) openJTL(path string) (results.Provider, error) {
	return jtl.NewReader(path, jtl.Options{
		Interval: e.config.Interval,
		Lag:      e.config.JTLLag,
		Logger:   e.logger,
	}), nil
}

// resolveWrapper returns the configured wrapper, or writes the bundled one
// into the artifacts directory.
func (e *Executor) resolveWrapper() (string, error) {
	if e.config.Wrapper != "" {
		return e.config.Wrapper, nil
	}
	path, err := e.artifacts.Create("locust-wrapper", ".py")
	if err != nil {
		return "", fmt.Errorf("allocate wrapper: %w", err)
	}
	if err := os.WriteFile(path, wrapperScript, 0o644); err != nil {
		return "", fmt.Errorf("write wrapper: %w", err)
	}
	return path, nil
}

// Startup builds the launch spec and starts the worker.
func (e *Executor) Startup(ctx context.Context) error {
	if e.artifacts == nil {
		return errors.New("executor: Startup called before Prepare")
	}

	logPath, err := e.artifacts.Create("locust", ".log")
	if err != nil {
		return fmt.Errorf("allocate log artifact: %w", err)
	}
	outPath, err := e.artifacts.Create("locust", ".out")
	if err != nil {
		return fmt.Errorf("allocate output artifact: %w", err)
	}

	e.spec, err = process.Build(e.config.Intent(), process.BuildOptions{
		Interpreter:  e.config.Interpreter,
		WrapperPath:  e.wrapper,
		ScriptPath:   e.config.Script,
		LogPath:      logPath,
		OutputPath:   outPath,
		Results:      e.source.Target(),
		ArtifactsDir: e.artifacts.Path(),
		WorkDir:      e.config.WorkDir,
	})
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.startTime = time.Now()
	e.mu.Unlock()

	e.logger.Info("worker_starting",
		"clients", e.config.Clients,
		"hatch_rate", e.spec.HatchRate,
		"role", e.config.Role,
	)
	e.logger.Debug("worker_command", "command", e.spec.CommandString())

	return e.supervisor.Start(ctx, e.spec)
}

// Check refreshes the widget, polls the worker and pulls new results.
// It reports true once the worker has exited; a non-zero exit is returned
// as a *supervisor.WorkerExitError.
func (e *Executor) Check() (bool, error) {
	e.metrics.UpdateElapsed()
	if e.widget != nil {
		e.widget.Update(e.Status())
	}

	done, err := e.supervisor.Poll()
	e.aggregator.Pull(false)

	if done {
		e.logger.Info("locust_exit_code", "exit_code", e.supervisor.ExitCode())
	}
	return done, err
}

// Shutdown stops the worker if it still runs, drains every buffered result
// and writes the metrics snapshot. It is safe to call more than once.
func (e *Executor) Shutdown() error {
	e.shutdownOnce.Do(func() {
		e.shutdownErr = e.shutdown()
	})
	return e.shutdownErr
}

func (e *Executor) shutdown() error {
	var errs []error

	if err := e.supervisor.Shutdown(); err != nil {
		errs = append(errs, err)
	}

	// Final pass: everything the provider still holds is yielded now.
	n := e.aggregator.Pull(true)
	e.logger.Debug("final_pull", "datapoints", n)

	if e.supervisor.State() == supervisor.StateFailed && e.spec != nil {
		e.reportWorkerOutput(e.spec.OutputPath)
	}

	if closer, ok := e.provider.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close results provider: %w", err))
		}
	}

	if e.artifacts != nil {
		if err := e.writeSnapshot(); err != nil {
			e.logger.Warn("metrics_snapshot_failed", "error", err)
		}
		if err := e.artifacts.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close artifacts: %w", err))
		}
	}

	if e.runLog != nil {
		e.logger.Debug("run_log_closing", "path", e.runLog.Path())
		if err := e.runLog.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close run log: %w", err))
		}
	}

	return errors.Join(errs...)
}

func (e *Executor) writeSnapshot() error {
	path, err := e.artifacts.Create("metrics", ".prom")
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := e.aggregator.WriteSnapshot(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// reportWorkerOutput logs the last lines of a failed worker's output.
func (e *Executor) reportWorkerOutput(path string) {
	h := logging.NewOutputHandler(e.logger, false)
	if err := h.HandleFile(path); err != nil {
		e.logger.Debug("worker_output_unreadable", "path", path, "error", err)
		return
	}
	e.logger.Warn("worker_failed_output",
		"path", path,
		"error_counts", h.CountErrors(),
		"last_lines", h.RecentLines(10),
	)
}

// =============================================================================
// Callback handlers
// =============================================================================

func (e *Executor) onStateChange(oldState, newState supervisor.State) {
	e.metrics.SetWorkerState(oldState.String(), newState.String())
}

func (e *Executor) onStart(pid int) {
	e.metrics.WorkerStarted()
	e.logger.Debug("worker_process_started", "pid", pid)
}

func (e *Executor) onExit(exitCode int, uptime time.Duration) {
	e.metrics.RecordExit(exitCode, uptime)
}

// =============================================================================
// Accessors
// =============================================================================

// SetWidget attaches the progress display refreshed by Check.
func (e *Executor) SetWidget(w *widget.Widget) {
	e.widget = w
}

// Status returns the current progress for the widget.
func (e *Executor) Status() widget.Status {
	e.mu.Lock()
	start := e.startTime
	e.mu.Unlock()

	totals := e.aggregator.Totals()
	s := widget.Status{
		State:         e.supervisor.State().String(),
		PID:           e.supervisor.PID(),
		ExitCode:      e.supervisor.ExitCode(),
		Duration:      e.config.Duration,
		TargetClients: e.config.Clients,
		Datapoints:    totals.Datapoints,
		Samples:       totals.Samples,
		Failures:      totals.Failures,
		Throughput:    totals.Latest.Throughput(),
		AvgRT:         totals.AvgRT,
		P90:           totals.Latest.P90,
		MaxRT:         totals.MaxRT,
		LastPointAt:   totals.Last,
	}
	if !start.IsZero() {
		s.Elapsed = time.Since(start)
	}
	if e.spec != nil {
		s.HatchRate = e.spec.HatchRate
	}
	return s
}

// Registry returns the Prometheus registry the run's metrics live in.
func (e *Executor) Registry() *prometheus.Registry {
	return e.registry
}

// Metrics returns the metrics collector.
func (e *Executor) Metrics() *metrics.Collector {
	return e.metrics
}

// Totals returns the cumulative results pulled so far.
func (e *Executor) Totals() aggregator.Totals {
	return e.aggregator.Totals()
}

// Artifacts returns the run's artifacts directory, nil before Prepare.
func (e *Executor) Artifacts() *artifacts.Dir {
	return e.artifacts
}

// Spec returns the launch spec, nil before Startup.
func (e *Executor) Spec() *process.LaunchSpec {
	return e.spec
}

// ExitCode returns the worker's exit code, or -1 while it runs.
func (e *Executor) ExitCode() int {
	return e.supervisor.ExitCode()
}
