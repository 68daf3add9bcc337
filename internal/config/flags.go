package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment variable overrides (LOCUST_SWARM_CLIENTS...).
const EnvPrefix = "LOCUST_SWARM"

// RegisterFlags registers all CLI flags on a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	d := DefaultConfig()

	// Load flags
	flags.IntP("clients", "c", d.Clients, "Number of concurrent clients")
	flags.Duration("ramp-up", d.RampUp, "Time to start all clients (0 = all at once)")
	flags.Int("iterations", d.Iterations, "Requests per client before stopping (0 = unlimited)")
	flags.String("host", d.Host, "Target host passed to the locustfile")
	flags.String("role", d.Role, `Worker role: "standalone" or "coordinator"`)
	flags.DurationP("duration", "d", d.Duration, "Stop the worker after this long (0 = until it exits)")

	// Worker flags
	flags.String("interpreter", d.Interpreter, "Python interpreter that runs locust")
	flags.String("wrapper", d.Wrapper, "Locust wrapper script (default: bundled wrapper)")
	flags.String("artifacts-dir", d.ArtifactsDir, "Base directory for run artifacts")
	flags.String("work-dir", d.WorkDir, "Directory appended to PYTHONPATH (default: current directory)")

	// Timing flags
	flags.Duration("check-interval", d.CheckInterval, "How often the worker is polled")
	flags.Duration("grace-period", d.GracePeriod, "Wait after SIGTERM before SIGKILL")

	// Results flags
	flags.Duration("interval", d.Interval, "Datapoint width")
	flags.Duration("merge-lag", d.MergeLag, "Max wait for a straggling remote worker (coordinator)")
	flags.Duration("jtl-lag", d.JTLLag, "Delay before an interval of the local result file is final")

	// Observability flags
	flags.String("metrics", d.MetricsAddr, "Prometheus metrics address (empty = disabled)")
	flags.BoolP("verbose", "v", d.Verbose, "Verbose logging")
	flags.String("log-format", d.LogFormat, `Log format: "json" or "text"`)
	flags.String("log-level", d.LogLevel, `Log level: "debug", "info", "warn" or "error"`)
	flags.Bool("tui", d.TUIEnabled, "Show the live sidebar when stdout is a terminal")

	// Safety & diagnostics
	flags.Bool("print-cmd", d.PrintCmd, "Print the worker command and exit")
	flags.Bool("check", d.Check, "Validate config and run 1 client for 10 seconds")
	flags.Bool("skip-preflight", d.SkipPreflight, "Skip preflight checks")

	flags.String("config", "", "Path to configuration file (JSON or YAML)")
}

// Load resolves the configuration from flags, LOCUST_SWARM_* environment
// variables and an optional config file, in that order of precedence.
// The first positional argument is the locustfile.
func Load(flags *pflag.FlagSet, args []string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	configPath := v.GetString("config")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}

	cfg := &Config{
		Script:     v.GetString("script"),
		Clients:    v.GetInt("clients"),
		RampUp:     v.GetDuration("ramp-up"),
		Iterations: v.GetInt("iterations"),
		Host:       v.GetString("host"),
		Role:       strings.ToLower(v.GetString("role")),
		Duration:   v.GetDuration("duration"),

		Interpreter:  v.GetString("interpreter"),
		Wrapper:      v.GetString("wrapper"),
		ArtifactsDir: v.GetString("artifacts-dir"),
		WorkDir:      v.GetString("work-dir"),

		CheckInterval: v.GetDuration("check-interval"),
		GracePeriod:   v.GetDuration("grace-period"),

		Interval: v.GetDuration("interval"),
		MergeLag: v.GetDuration("merge-lag"),
		JTLLag:   v.GetDuration("jtl-lag"),

		MetricsAddr: v.GetString("metrics"),
		Verbose:     v.GetBool("verbose"),
		LogFormat:   strings.ToLower(v.GetString("log-format")),
		LogLevel:    v.GetString("log-level"),
		TUIEnabled:  v.GetBool("tui"),

		PrintCmd:      v.GetBool("print-cmd"),
		Check:         v.GetBool("check"),
		SkipPreflight: v.GetBool("skip-preflight"),

		ConfigFile: configPath,
	}

	// Positional argument: locustfile
	if len(args) >= 1 {
		cfg.Script = args[0]
	}

	if cfg.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.WorkDir = wd
	}

	return cfg, nil
}
