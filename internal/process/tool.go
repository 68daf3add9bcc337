package process

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// InstallHint is shown whenever the locust package cannot be found.
const InstallHint = "please install it like this: pip install locust " +
	"(see https://docs.locust.io/en/stable/installation.html)"

// probeTimeout bounds a single interpreter probe.
const probeTimeout = 10 * time.Second

// LocustTool checks whether the locust Python package can be imported by
// the configured interpreter.
type LocustTool struct {
	interpreter string
	version     string
}

// NewLocustTool creates a probe for the given interpreter (default python3).
func NewLocustTool(interpreter string) *LocustTool {
	if interpreter == "" {
		interpreter = DefaultInterpreter
	}
	return &LocustTool{interpreter: interpreter}
}

// Name returns "locust".
func (t *LocustTool) Name() string {
	return "locust"
}

// Interpreter returns the interpreter used for the probe.
func (t *LocustTool) Interpreter() string {
	return t.interpreter
}

// Version returns the version found by the last successful Check.
func (t *LocustTool) Version() string {
	return t.version
}

// Check runs the interpreter and imports locust. It returns a
// *ToolMissingError if either the interpreter or the package is missing.
func (t *LocustTool) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.interpreter, "-c", "import locust; print(locust.__version__)")
	output, err := cmd.Output()
	if err != nil {
		return &ToolMissingError{Tool: t.Name(), Hint: InstallHint, Err: err}
	}

	t.version = strings.TrimSpace(string(output))
	if t.version == "" {
		t.version = "unknown"
	}
	return nil
}

// Installed reports whether Check succeeds.
func (t *LocustTool) Installed(ctx context.Context) bool {
	return t.Check(ctx) == nil
}

// Install never installs anything. Installing Python packages is left to
// the operator, so this always returns a *ToolMissingError.
func (t *LocustTool) Install() error {
	return &ToolMissingError{
		Tool: t.Name(),
		Hint: fmt.Sprintf("unable to locate the locust package for %s, %s", t.interpreter, InstallHint),
	}
}
