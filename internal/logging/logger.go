// Package logging builds the slog loggers go-locust-swarm writes with and
// reads the worker's own output.
//
// A run has two sinks: the console logger built from the CLI flags, and a
// JSON run log inside the artifacts directory that always records debug
// events, so a run can be inspected after the fact even when the dashboard
// owned the terminal.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the console logger on stderr. Verbose forces debug.
func NewLogger(format, level string, verbose bool) *slog.Logger {
	lvl, _ := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	return slog.New(newHandler(os.Stderr, format, lvl, lvl == slog.LevelDebug))
}

// NewLoggerWithWriter creates a console-style logger on w.
func NewLoggerWithWriter(w io.Writer, format, level string) *slog.Logger {
	lvl, _ := ParseLevel(level)
	return slog.New(newHandler(w, format, lvl, false))
}

// newHandler returns a text handler for "text" and a JSON handler otherwise.
func newHandler(w io.Writer, format string, level slog.Leveler, source bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: level, AddSource: source}
	if strings.EqualFold(format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// ParseLevel maps a level name to its slog.Level. Unknown names map to
// info and report false.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info", "":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// SetDefault sets the default logger for the slog package.
func SetDefault(logger *slog.Logger) {
	slog.SetDefault(logger)
}

// RunLog tees a console logger into a JSON file for one run. Every record
// carries the run id and the worker role.
type RunLog struct {
	file   *os.File
	logger *slog.Logger
}

// OpenRunLog creates the run log at path. Records reach the file at debug
// level regardless of the console logger's level.
func OpenRunLog(console *slog.Logger, path, runID, role string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	h := &teeHandler{handlers: []slog.Handler{
		console.Handler(),
		slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}}
	return &RunLog{
		file:   f,
		logger: slog.New(h).With("run_id", runID, "role", role),
	}, nil
}

// Logger returns the run-scoped logger.
func (r *RunLog) Logger() *slog.Logger {
	return r.logger
}

// Path returns the run log file path.
func (r *RunLog) Path() string {
	return r.file.Name()
}

// Close closes the file. Records logged afterwards only reach the console.
func (r *RunLog) Close() error {
	return r.file.Close()
}

// teeHandler passes each record to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: hs}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: hs}
}
