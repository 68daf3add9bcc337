package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
		ok    bool
	}{
		{"debug", slog.LevelDebug, true},
		{"DEBUG", slog.LevelDebug, true},
		{"info", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warning", slog.LevelWarn, true},
		{"Warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"trace", slog.LevelInfo, false},
		{"verbose", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseLevel(tt.input)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestNewLoggerWithWriter_Format(t *testing.T) {
	var jsonBuf, textBuf, otherBuf bytes.Buffer
	NewLoggerWithWriter(&jsonBuf, "json", "info").Info("worker_started", "pid", 42)
	NewLoggerWithWriter(&textBuf, "TEXT", "info").Info("worker_started", "pid", 42)
	NewLoggerWithWriter(&otherBuf, "xml", "info").Info("worker_started", "pid", 42)

	assert.Contains(t, jsonBuf.String(), `"pid":42`)
	assert.Contains(t, textBuf.String(), "pid=42")
	assert.Contains(t, otherBuf.String(), `"msg":"worker_started"`, "unknown formats fall back to JSON")
}

func TestNewLoggerWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, "text", "warn")
	logger.Info("datapoint_pulled")
	logger.Warn("worker_failed_output")

	assert.NotContains(t, buf.String(), "datapoint_pulled")
	assert.Contains(t, buf.String(), "worker_failed_output")
}

func TestNewLogger(t *testing.T) {
	assert.True(t, NewLogger("text", "error", true).Enabled(t.Context(), slog.LevelDebug), "verbose forces debug")
	assert.False(t, NewLogger("json", "error", false).Enabled(t.Context(), slog.LevelWarn))
}

func TestSetDefault(t *testing.T) {
	original := slog.Default()
	defer slog.SetDefault(original)

	var buf bytes.Buffer
	SetDefault(NewLoggerWithWriter(&buf, "text", "info"))
	slog.Info("via_default")
	assert.Contains(t, buf.String(), "via_default")
}

// readRunLog decodes every JSON record in the run log.
func readRunLog(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var records []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		records = append(records, rec)
	}
	return records
}

func TestRunLog_TeesToConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "swarm.log")

	runLog, err := OpenRunLog(NewLoggerWithWriter(&console, "text", "info"), path, "01JRUN", "coordinator")
	require.NoError(t, err)
	assert.Equal(t, path, runLog.Path())

	logger := runLog.Logger()
	logger.Debug("final_pull", "datapoints", 3)
	logger.Info("prepared", "results", "merged-stream")
	require.NoError(t, runLog.Close())

	// Console keeps its own level and gets the run attributes
	assert.NotContains(t, console.String(), "final_pull")
	assert.Contains(t, console.String(), "prepared")
	assert.Contains(t, console.String(), "run_id=01JRUN")

	records := readRunLog(t, path)
	require.Len(t, records, 2)
	assert.Equal(t, "final_pull", records[0]["msg"])
	assert.Equal(t, "01JRUN", records[0]["run_id"])
	assert.Equal(t, "coordinator", records[0]["role"])
	assert.InDelta(t, 3, records[0]["datapoints"], 0)
	assert.Equal(t, "prepared", records[1]["msg"])
}

func TestRunLog_GroupsAndAttrs(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "swarm.log")

	runLog, err := OpenRunLog(NewLoggerWithWriter(&console, "json", "info"), path, "01JRUN", "standalone")
	require.NoError(t, err)

	runLog.Logger().WithGroup("worker").With("pid", 7).Info("worker_started")
	require.NoError(t, runLog.Close())

	records := readRunLog(t, path)
	require.Len(t, records, 1)
	worker, ok := records[0]["worker"].(map[string]any)
	require.True(t, ok, "group is kept in the file")
	assert.InDelta(t, 7, worker["pid"], 0)
	assert.Contains(t, console.String(), `"worker":{"pid":7}`)
}

func TestRunLog_AfterClose(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "swarm.log")

	runLog, err := OpenRunLog(NewLoggerWithWriter(&console, "text", "info"), path, "01JRUN", "standalone")
	require.NoError(t, err)
	require.NoError(t, runLog.Close())

	runLog.Logger().Info("exit_summary")
	assert.Contains(t, console.String(), "exit_summary", "console still works after the file is closed")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestOpenRunLog_BadPath(t *testing.T) {
	_, err := OpenRunLog(slog.Default(), filepath.Join(t.TempDir(), "missing", "swarm.log"), "01JRUN", "standalone")
	assert.Error(t, err)
}
