// Package process builds the worker's command line and probes for its runtime.
package process

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-locust-swarm/internal/load"
)

// Environment variables read by the worker wrapper.
const (
	EnvJTL          = "JTL"
	EnvSlavesLDJSON = "SLAVES_LDJSON"
	EnvPythonPath   = "PYTHONPATH"
)

// DefaultInterpreter runs the wrapper script when none is configured.
const DefaultInterpreter = "python3"

// ResultTarget is where the worker must write its results and which
// environment variable tells it so.
type ResultTarget struct {
	EnvVar string
	Path   string
}

// BuildOptions carries the paths the launch spec refers to.
type BuildOptions struct {
	// Interpreter runs the wrapper (default python3).
	Interpreter string

	// WrapperPath is the locust wrapper script.
	WrapperPath string

	// ScriptPath is the user's locustfile.
	ScriptPath string

	// LogPath receives the worker's own log (--logfile).
	LogPath string

	// OutputPath receives merged stdout/stderr.
	OutputPath string

	// Results is the file the active results provider reads.
	Results ResultTarget

	// ArtifactsDir and WorkDir form the PYTHONPATH search path.
	ArtifactsDir string
	WorkDir      string
}

// LaunchSpec is everything needed to start the worker. It is built once
// per run and not modified afterwards.
type LaunchSpec struct {
	Executable string
	Args       []string
	Env        map[string]string
	LogPath    string
	OutputPath string
	HatchRate  int
}

// Build derives the worker launch spec from the load intent.
// It returns a *ConfigurationError if the intent is unusable or a referenced
// file does not exist.
func Build(intent load.Intent, opts BuildOptions) (*LaunchSpec, error) {
	if intent.Concurrency <= 0 {
		return nil, &ConfigurationError{
			Field:   "concurrency",
			Message: fmt.Sprintf("must be at least 1 (got %d)", intent.Concurrency),
		}
	}
	if intent.Iterations < 0 {
		return nil, &ConfigurationError{
			Field:   "iterations",
			Message: fmt.Sprintf("must not be negative (got %d)", intent.Iterations),
		}
	}
	if opts.ScriptPath == "" {
		return nil, &ConfigurationError{Field: "script", Message: "locustfile path is required"}
	}
	if opts.Results.EnvVar == "" || opts.Results.Path == "" {
		return nil, &ConfigurationError{Field: "results", Message: "result file path is required"}
	}

	script, err := existingAbs("script", opts.ScriptPath)
	if err != nil {
		return nil, err
	}
	wrapper, err := existingAbs("wrapper", opts.WrapperPath)
	if err != nil {
		return nil, err
	}

	interpreter := opts.Interpreter
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}

	hatch := intent.HatchRate()
	spec := &LaunchSpec{
		Executable: interpreter,
		Args:       buildArgs(intent, hatch, wrapper, script, opts.LogPath),
		Env: map[string]string{
			opts.Results.EnvVar: opts.Results.Path,
			EnvPythonPath:       opts.ArtifactsDir + string(os.PathListSeparator) + opts.WorkDir,
		},
		LogPath:    opts.LogPath,
		OutputPath: opts.OutputPath,
		HatchRate:  hatch,
	}
	return spec, nil
}

// buildArgs constructs the wrapper command-line arguments.
func buildArgs(intent load.Intent, hatch int, wrapper, script, logPath string) []string {
	args := []string{
		wrapper,
		"-f", script,
		"--logfile=" + logPath,
		"--no-web",
		"--only-summary",
		"--clients=" + strconv.Itoa(intent.Concurrency),
		"--hatch-rate=" + strconv.Itoa(hatch),
	}

	// Optional per-client request cap
	if intent.Iterations > 0 {
		args = append(args, "--num-request="+strconv.Itoa(intent.Iterations))
	}

	// Workers find the master on their own; no bind address here.
	if intent.Role == load.RoleCoordinator {
		args = append(args, "--master")
	}

	if intent.TargetHost != "" {
		args = append(args, "--host="+intent.TargetHost)
	}

	return args
}

// existingAbs resolves path to an absolute, symlink-free path and checks it exists.
func existingAbs(field, path string) (string, error) {
	if path == "" {
		return "", &ConfigurationError{Field: field, Message: "path is required"}
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", &ConfigurationError{Field: field, Message: fmt.Sprintf("file not found: %s", path)}
		}
		return "", &ConfigurationError{Field: field, Message: err.Error()}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &ConfigurationError{Field: field, Message: err.Error()}
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

// Command returns a ready-to-start command. The spec's environment is
// layered over the current process environment. The command is NOT started.
func (s *LaunchSpec) Command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.Executable, s.Args...)
	cmd.Env = s.Environ()
	return cmd
}

// Environ returns os.Environ() with the spec's variables applied on top.
func (s *LaunchSpec) Environ() []string {
	overridden := make(map[string]bool, len(s.Env))
	for k := range s.Env {
		overridden[k] = true
	}

	env := make([]string, 0, len(os.Environ())+len(s.Env))
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if overridden[key] {
			continue
		}
		env = append(env, kv)
	}
	for _, k := range slices.Sorted(maps.Keys(s.Env)) {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// CommandString returns the command that would be executed (for debugging).
func (s *LaunchSpec) CommandString() string {
	keys := slices.Sorted(maps.Keys(s.Env))

	parts := make([]string, 0, len(keys)+len(s.Args)+1)
	for _, k := range keys {
		parts = append(parts, k+"="+s.Env[k])
	}
	parts = append(parts, s.Executable)
	parts = append(parts, s.Args...)
	return strings.Join(parts, " ")
}
