// Package config provides configuration management for go-locust-swarm.
package config

import (
	"time"

	"github.com/randomizedcoder/go-locust-swarm/internal/load"
)

// Config holds all configuration options for a run.
type Config struct {
	// Load
	Script     string        `json:"script"`
	Clients    int           `json:"clients"`
	RampUp     time.Duration `json:"ramp_up"`    // 0 = start all clients at once
	Iterations int           `json:"iterations"` // 0 = no per-client request cap
	Host       string        `json:"host"`
	Role       string        `json:"role"`     // standalone, coordinator
	Duration   time.Duration `json:"duration"` // 0 = until the worker exits

	// Worker
	Interpreter  string `json:"interpreter"`
	Wrapper      string `json:"wrapper"` // empty = bundled wrapper
	ArtifactsDir string `json:"artifacts_dir"`
	WorkDir      string `json:"work_dir"`

	// Timing
	CheckInterval time.Duration `json:"check_interval"`
	GracePeriod   time.Duration `json:"grace_period"`

	// Results
	Interval time.Duration `json:"interval"`
	MergeLag time.Duration `json:"merge_lag"`
	JTLLag   time.Duration `json:"jtl_lag"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	LogLevel    string `json:"log_level"`
	TUIEnabled  bool   `json:"tui_enabled"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`

	// ConfigFile is the file the settings were read from, if any.
	ConfigFile string `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Load
		Clients: 1,
		Role:    load.RoleStandalone.String(),

		// Worker
		Interpreter:  "python3",
		ArtifactsDir: "artifacts",

		// Timing
		CheckInterval: time.Second,
		GracePeriod:   10 * time.Second,

		// Results
		Interval: time.Second,
		MergeLag: 5 * time.Second,
		JTLLag:   2 * time.Second,

		// Observability
		MetricsAddr: "0.0.0.0:17091",
		LogFormat:   "json",
		LogLevel:    "info",
		TUIEnabled:  true,
	}
}

// Intent returns the load intent the worker is launched with.
func (c *Config) Intent() load.Intent {
	role, _ := load.ParseRole(c.Role)
	return load.Intent{
		Concurrency: c.Clients,
		RampUp:      c.RampUp,
		Iterations:  c.Iterations,
		TargetHost:  c.Host,
		Role:        role,
	}
}

// Effective returns the resolved settings in a form suitable for dumping
// next to the run's artifacts.
func (c *Config) Effective() map[string]any {
	return map[string]any{
		"script":         c.Script,
		"clients":        c.Clients,
		"ramp_up":        c.RampUp.String(),
		"iterations":     c.Iterations,
		"host":           c.Host,
		"role":           c.Role,
		"duration":       c.Duration.String(),
		"interpreter":    c.Interpreter,
		"wrapper":        c.Wrapper,
		"artifacts_dir":  c.ArtifactsDir,
		"work_dir":       c.WorkDir,
		"check_interval": c.CheckInterval.String(),
		"grace_period":   c.GracePeriod.String(),
		"interval":       c.Interval.String(),
		"merge_lag":      c.MergeLag.String(),
		"jtl_lag":        c.JTLLag.String(),
		"metrics_addr":   c.MetricsAddr,
		"check":          c.Check,
		"config_file":    c.ConfigFile,
	}
}

// ApplyCheckMode modifies config for --check mode.
func ApplyCheckMode(cfg *Config) {
	cfg.Clients = 1
	cfg.RampUp = 0
	cfg.Duration = 10 * time.Second
	cfg.Verbose = true
}
