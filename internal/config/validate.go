package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-locust-swarm/internal/load"
	"github.com/randomizedcoder/go-locust-swarm/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or every problem found joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	// Locustfile is required
	if cfg.Script == "" {
		errs = append(errs, ValidationError{
			Field:   "script",
			Message: "locustfile path is required",
		})
	}

	// Clients must be positive
	if cfg.Clients < 1 {
		errs = append(errs, ValidationError{
			Field:   "clients",
			Message: "must be at least 1",
		})
	}

	if cfg.RampUp < 0 {
		errs = append(errs, ValidationError{
			Field:   "ramp_up",
			Message: "must not be negative",
		})
	}

	if cfg.Iterations < 0 {
		errs = append(errs, ValidationError{
			Field:   "iterations",
			Message: "must not be negative",
		})
	}

	if cfg.Duration < 0 {
		errs = append(errs, ValidationError{
			Field:   "duration",
			Message: "must not be negative",
		})
	}

	// Role must be valid
	if _, ok := load.ParseRole(cfg.Role); !ok {
		errs = append(errs, ValidationError{
			Field:   "role",
			Message: fmt.Sprintf("must be 'standalone' or 'coordinator' (got %q)", cfg.Role),
		})
	}

	if cfg.Interpreter == "" {
		errs = append(errs, ValidationError{
			Field:   "interpreter",
			Message: "must not be empty",
		})
	}

	if cfg.ArtifactsDir == "" {
		errs = append(errs, ValidationError{
			Field:   "artifacts_dir",
			Message: "must not be empty",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	// Timing settings
	errs = appendPositive(errs, "check_interval", cfg.CheckInterval)
	errs = appendPositive(errs, "grace_period", cfg.GracePeriod)
	errs = appendPositive(errs, "interval", cfg.Interval)
	errs = appendPositive(errs, "merge_lag", cfg.MergeLag)
	errs = appendPositive(errs, "jtl_lag", cfg.JTLLag)

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func appendPositive(errs []error, field string, d time.Duration) []error {
	if d <= 0 {
		return append(errs, ValidationError{
			Field:   field,
			Message: "must be positive",
		})
	}
	return errs
}
