// Package widget shows the run's progress next to the worker.
//
// On a terminal the sidebar is a Bubble Tea program styled with Lipgloss.
// Anywhere else every update is written to the logger at debug level.
package widget

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// Config configures a Widget.
type Config struct {
	// Script is the locustfile; its base name labels the sidebar.
	Script string

	// Enabled allows the interactive sidebar when Output is a terminal.
	Enabled bool

	// Output is where the sidebar is drawn (default os.Stdout).
	Output io.Writer

	Logger *slog.Logger

	// OnQuit is called when the operator closes the sidebar.
	OnQuit func()
}

// Widget is the progress display for one run.
type Widget struct {
	label  string
	logger *slog.Logger
	onQuit func()
	output io.Writer

	interactive bool

	mu       sync.Mutex
	program  *tea.Program
	done     chan struct{}
	stopping bool
	last     Status
}

// New creates a widget. Start must be called before updates are drawn.
func New(cfg Config) *Widget {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	return &Widget{
		label:       Label(cfg.Script),
		logger:      logger,
		onQuit:      cfg.OnQuit,
		output:      out,
		interactive: cfg.Enabled && IsTerminal(out),
	}
}

// Label returns "Script: " followed by the base name of the script.
func Label(script string) string {
	return "Script: " + filepath.Base(script)
}

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Label returns the sidebar title.
func (w *Widget) Label() string {
	return w.label
}

// Interactive reports whether the sidebar is drawn by a Bubble Tea program.
func (w *Widget) Interactive() bool {
	return w.interactive
}

// Start launches the sidebar program. It is a no-op when not interactive.
func (w *Widget) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.interactive || w.program != nil {
		return
	}

	w.program = tea.NewProgram(NewModel(w.label),
		tea.WithOutput(w.output),
		tea.WithAltScreen(),
	)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		if _, err := w.program.Run(); err != nil {
			w.logger.Warn("widget_failed", "error", err)
		}

		w.mu.Lock()
		stopping := w.stopping
		w.mu.Unlock()
		if !stopping && w.onQuit != nil {
			w.onQuit()
		}
	}()
}

// Update refreshes the display with the current status.
func (w *Widget) Update(s Status) {
	w.mu.Lock()
	w.last = s
	p := w.program
	w.mu.Unlock()

	if p != nil {
		p.Send(StatusMsg(s))
		return
	}

	w.logger.Debug("progress",
		"label", w.label,
		"state", s.State,
		"elapsed", s.Elapsed.String(),
		"datapoints", s.Datapoints,
		"samples", s.Samples,
		"failures", s.Failures,
		"throughput", s.Throughput,
		"avg_rt_ms", s.AvgRT.Milliseconds(),
	)
}

// Last returns the most recent status passed to Update.
func (w *Widget) Last() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Stop closes the sidebar and waits for the terminal to be restored.
func (w *Widget) Stop() {
	w.mu.Lock()
	p, done := w.program, w.done
	w.stopping = true
	w.mu.Unlock()

	if p == nil {
		return
	}
	p.Send(QuitMsg{})
	<-done
}
