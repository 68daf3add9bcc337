package logging

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the maximum number of lines kept from the worker output.
	MaxBufferedLines = 100
)

// OutputHandler keeps the tail of the worker's merged stdout/stderr for the
// exit summary and logs the interesting lines.
type OutputHandler struct {
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	mu     sync.Mutex
}

// NewOutputHandler creates a new handler for the worker's output.
func NewOutputHandler(logger *slog.Logger, verbose bool) *OutputHandler {
	return &OutputHandler{
		logger:  logger,
		verbose: verbose,
		buffer:  make([]string, MaxBufferedLines),
	}
}

// HandleFile reads the worker's output file from the start.
func (h *OutputHandler) HandleFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	h.HandleReader(f)
	return nil
}

// HandleReader reads from an io.Reader and processes each line.
func (h *OutputHandler) HandleReader(r io.Reader) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, MaxLineLength)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		h.HandleLine(scanner.Text())
	}
}

// HandleLine processes a single line of worker output.
func (h *OutputHandler) HandleLine(line string) {
	// Truncate if too long
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	// Store in circular buffer
	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	h.mu.Unlock()

	h.logLine(line)
}

// logLine logs the line at appropriate level based on content.
func (h *OutputHandler) logLine(line string) {
	level := classifyLine(line)

	// In non-verbose mode, only log warnings and errors
	if !h.verbose && level == slog.LevelDebug {
		return
	}

	h.logger.Log(context.Background(), level, "worker_output", "line", line)
}

// classifyLine determines the log level for a line based on content.
func classifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Error patterns
	if strings.HasPrefix(line, "Traceback") ||
		strings.Contains(lower, "error") ||
		strings.Contains(lower, "exception") ||
		strings.Contains(lower, "no module named") {
		return slog.LevelWarn
	}

	// Warning patterns
	if strings.Contains(lower, "warning") ||
		strings.Contains(lower, "deprecat") ||
		strings.Contains(lower, "missing") {
		return slog.LevelWarn
	}

	// Default to debug (request stats, hatching progress)
	return slog.LevelDebug
}

// RecentLines returns the most recent lines from the buffer.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > MaxBufferedLines {
		n = MaxBufferedLines
	}

	lines := make([]string, 0, n)

	// Read from circular buffer in order
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		if h.buffer[idx] != "" {
			lines = append(lines, h.buffer[idx])
		}
	}

	return lines
}

// ErrorPatterns are common failure patterns to count for the exit summary.
var ErrorPatterns = []string{
	"Traceback",
	"ImportError",
	"ModuleNotFoundError",
	"SyntaxError",
	"ConnectionError",
	"ConnectionRefusedError",
	"Timeout",
	"CatchResponseError",
	"HTTPError",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int)

	for _, line := range h.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}

	return counts
}
