// Package main provides the go-locust-swarm CLI entry point.
//
// go-locust-swarm runs a locust load test as a supervised worker process
// and turns the worker's results into per-second datapoints, Prometheus
// metrics and run artifacts.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-locust-swarm/internal/config"
	"github.com/randomizedcoder/go-locust-swarm/internal/executor"
	"github.com/randomizedcoder/go-locust-swarm/internal/logging"
	"github.com/randomizedcoder/go-locust-swarm/internal/widget"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-locust-swarm
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "go-locust-swarm [flags] <locustfile>",
		Short: "Run a locust load test as a supervised worker",
		Long: `go-locust-swarm launches locust with the requested load, watches the
worker process and reads its results while it runs.

A standalone run reads the worker's own JTL file. A coordinator run starts
locust as a master and merges the samples its remote workers report.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), args)
			if err != nil {
				return err
			}
			return runSwarm(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	cmd.SetVersionTemplate("go-locust-swarm {{.Version}}\n")
	config.RegisterFlags(cmd)
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "go-locust-swarm %s\n", version)
		},
	}
}

func runSwarm(ctx context.Context, cfg *config.Config, out io.Writer) error {
	// When the sidebar owns the terminal, logs would corrupt it
	var logger *slog.Logger
	if cfg.TUIEnabled && widget.IsTerminal(os.Stdout) && !cfg.PrintCmd {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose)
	}
	logging.SetDefault(logger)

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Apply --check mode modifications
	if cfg.Check {
		config.ApplyCheckMode(cfg)
		logger.Info("check_mode_enabled", "clients", cfg.Clients, "duration", cfg.Duration.String())
	}

	// Handle --print-cmd mode
	if cfg.PrintCmd {
		return printCommand(cfg, out)
	}

	logger.Info("starting",
		"version", version,
		"script", cfg.Script,
		"clients", cfg.Clients,
		"role", cfg.Role,
		"metrics_addr", cfg.MetricsAddr,
	)
	printBanner(cfg, out)

	return executor.New(cfg, logger, version).Run(ctx)
}

// printBanner prints the startup banner.
func printBanner(cfg *config.Config, w io.Writer) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                         go-locust-swarm                           ║")
	fmt.Fprintln(w, "║          Locust Load Testing with Worker Supervision              ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Script:      %s\n", cfg.Script)
	fmt.Fprintf(w, "  Load:        %d clients at %d/sec\n", cfg.Clients, cfg.Intent().HatchRate())
	fmt.Fprintf(w, "  Role:        %s\n", cfg.Role)
	if cfg.Host != "" {
		fmt.Fprintf(w, "  Host:        %s\n", cfg.Host)
	}
	if cfg.Duration > 0 {
		fmt.Fprintf(w, "  Duration:    %s\n", cfg.Duration)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}

// printCommand prints the worker command that would be run.
func printCommand(cfg *config.Config, w io.Writer) error {
	command, err := executor.CommandPreview(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "# Worker command that would be run:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, command)
	return nil
}
