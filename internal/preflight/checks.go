// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/randomizedcoder/go-locust-swarm/internal/process"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
	Fix      string // Remediation shown when the check fails
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Tool is the presence probe for the worker's runtime.
type Tool interface {
	Name() string
	Interpreter() string
	Version() string
	Check(ctx context.Context) error
}

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	warnMark = color.New(color.FgYellow).Sprint("⚠")
)

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := okMark
	if !c.Passed {
		status = failMark
	} else if c.Warning {
		status = warnMark
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks.
func RunAll(ctx context.Context, targetClients int, tool Tool) *Result {
	result := &Result{
		Checks: make([]Check, 0, 3),
		Passed: true,
	}

	result.add(checkFileDescriptors(targetClients))
	result.add(checkProcessLimit())
	result.add(checkTool(ctx, tool))

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(clients int) Check {
	var limit syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	// Every simulated client holds at least one keep-alive connection in
	// the single worker, plus the interpreter's own files and our result
	// file readers.
	required := clients + 100
	actual := int(limit.Cur)

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d clients)", actual, required, clients),
		Fix:      "ulimit -n 8192 (or edit /etc/security/limits.conf)",
	}
}

// checkProcessLimit reports the soft process limit. Only a single worker
// is started, so this never fails.
func checkProcessLimit() Check {
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	limit := "unknown"
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				limit = fields[3]
			}
			break
		}
	}

	return Check{
		Name:    "process_limit",
		Passed:  true,
		Message: fmt.Sprintf("ulimit -u %s", limit),
	}
}

// checkTool verifies the worker runtime can be imported.
func checkTool(ctx context.Context, tool Tool) Check {
	if err := tool.Check(ctx); err != nil {
		check := Check{
			Name:    tool.Name(),
			Passed:  false,
			Message: fmt.Sprintf("not importable by %s", tool.Interpreter()),
			Fix:     process.InstallHint,
		}
		var missing *process.ToolMissingError
		if errors.As(err, &missing) && missing.Hint != "" {
			check.Fix = missing.Hint
		}
		return check
	}

	return Check{
		Name:    tool.Name(),
		Passed:  true,
		Message: fmt.Sprintf("found via %s (version %s)", tool.Interpreter(), tool.Version()),
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	WriteResults(color.Output, result)
}

// WriteResults writes the preflight check results to w.
func WriteResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(c Check) string {
	if c.Fix != "" {
		return c.Fix
	}
	return "see documentation"
}
