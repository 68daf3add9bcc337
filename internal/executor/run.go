package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-locust-swarm/internal/metrics"
	"github.com/randomizedcoder/go-locust-swarm/internal/preflight"
	"github.com/randomizedcoder/go-locust-swarm/internal/widget"
)

// Run executes the load test. It blocks until the worker exits, the
// configured duration elapses, a signal arrives or ctx is cancelled.
// A non-zero worker exit is returned after shutdown completes.
func (e *Executor) Run(ctx context.Context) error {
	// Run preflight checks
	if !e.config.SkipPreflight {
		result := preflight.RunAll(ctx, e.config.Clients, e.tool)
		preflight.PrintResults(result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use --skip-preflight to override)")
		}
	}

	if err := e.Prepare(ctx); err != nil {
		e.shutdownQuietly()
		return fmt.Errorf("prepare: %w", err)
	}

	// Start metrics server
	var metricsServer *metrics.Server
	if e.config.MetricsAddr != "" {
		metricsServer = metrics.NewServer(e.config.MetricsAddr, e.registry, e.logger)
		if err := metricsServer.Start(); err != nil {
			e.shutdownQuietly()
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	w := widget.New(widget.Config{
		Script:  e.config.Script,
		Enabled: e.config.TUIEnabled,
		Logger:  e.logger,
		OnQuit:  cancel,
	})
	e.SetWidget(w)

	if err := e.Startup(ctx); err != nil {
		e.shutdownQuietly()
		e.stopMetrics(metricsServer)
		return fmt.Errorf("startup: %w", err)
	}
	w.Start()

	runErr := e.monitor(ctx, sigCh)

	w.Stop()
	e.shutdownQuietly()
	e.stopMetrics(metricsServer)

	e.WriteExitSummary(os.Stdout)
	return runErr
}

// monitor calls Check every CheckInterval until the run ends.
func (e *Executor) monitor(ctx context.Context, sigCh <-chan os.Signal) error {
	ticker := time.NewTicker(e.config.CheckInterval)
	defer ticker.Stop()

	// Setup duration timer if configured
	var durationTimer <-chan time.Time
	if e.config.Duration > 0 {
		timer := time.NewTimer(e.config.Duration)
		defer timer.Stop()
		durationTimer = timer.C
	}

	for {
		select {
		case <-ticker.C:
			done, err := e.Check()
			if done {
				return err
			}
		case sig := <-sigCh:
			e.logger.Info("received_signal", "signal", sig.String())
			return nil
		case <-durationTimer:
			e.logger.Info("duration_elapsed", "duration", e.config.Duration.String())
			return nil
		case <-ctx.Done():
			e.logger.Info("context_cancelled")
			return nil
		}
	}
}

// shutdownQuietly runs Shutdown and logs what it returns. Run reports the
// start or worker error, not the cleanup one.
func (e *Executor) shutdownQuietly() {
	if err := e.Shutdown(); err != nil {
		e.logger.Warn("shutdown_incomplete", "error", err)
	}
}

func (e *Executor) stopMetrics(s *metrics.Server) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		e.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// WriteExitSummary writes a summary of the run to w.
func (e *Executor) WriteExitSummary(w io.Writer) {
	summary := e.metrics.GenerateSummary()
	totals := e.aggregator.Totals()

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                    go-locust-swarm Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Target Clients:         %d\n", summary.TargetClients)
	fmt.Fprintf(w, "Hatch Rate:             %d/s\n", summary.HatchRate)
	fmt.Fprintf(w, "Worker Uptime:          %s\n", formatDuration(summary.WorkerUptime))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Results:")
	fmt.Fprintf(w, "  Datapoints:           %d\n", totals.Datapoints)
	fmt.Fprintf(w, "  Requests:             %d\n", totals.Samples)
	fmt.Fprintf(w, "  Failures:             %d (%.2f%%)\n", totals.Failures, totals.FailureRate()*100)
	if totals.Samples > 0 {
		fmt.Fprintf(w, "  Avg Response Time:    %d ms\n", totals.AvgRT.Milliseconds())
		fmt.Fprintf(w, "  Max Response Time:    %d ms\n", totals.MaxRT.Milliseconds())
	}
	fmt.Fprintln(w)

	if len(totals.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, msg := range slices.Sorted(maps.Keys(totals.Errors)) {
			fmt.Fprintf(w, "  %6d  %s\n", totals.Errors[msg], msg)
		}
		fmt.Fprintln(w)
	}

	if len(summary.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		for _, code := range slices.Sorted(maps.Keys(summary.ExitCodes)) {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if e.artifacts != nil {
		fmt.Fprintf(w, "Artifacts:              %s\n", e.artifacts.Path())
	}
	if e.config.MetricsAddr != "" {
		fmt.Fprintf(w, "Metrics endpoint was:   http://%s/metrics\n", e.config.MetricsAddr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}
