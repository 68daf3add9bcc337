package tail

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestFollower_MissingFile(t *testing.T) {
	f := NewFollower(filepath.Join(t.TempDir(), "later.ldjson"))
	defer f.Close()

	assert.False(t, f.Exists())
	lines, err := f.ReadLines(false)
	assert.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFollower_CompleteLinesOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.ldjson")
	f := NewFollower(path)
	defer f.Close()

	appendFile(t, path, "one\ntwo\nthr")
	lines, err := f.ReadLines(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)

	appendFile(t, path, "ee\nfour\n")
	lines, err = f.ReadLines(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"three", "four"}, lines)

	lines, err = f.ReadLines(false)
	require.NoError(t, err)
	assert.Empty(t, lines, "no new data")

	bytesRead, linesRead := f.Stats()
	assert.Equal(t, int64(len("one\ntwo\nthree\nfour\n")), bytesRead)
	assert.Equal(t, int64(4), linesRead)
}

func TestFollower_FinalReturnsFragment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpi.jtl")
	f := NewFollower(path)
	defer f.Close()

	appendFile(t, path, "a\nb")
	lines, err := f.ReadLines(true)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)

	lines, err = f.ReadLines(true)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestFollower_SkipsBlankAndCRLF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kpi.jtl")
	f := NewFollower(path)
	defer f.Close()

	appendFile(t, path, "a\r\n\n\r\nb\n")
	lines, err := f.ReadLines(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestFollower_LargeAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.ldjson")
	f := NewFollower(path)
	defer f.Close()

	// Lines straddle chunk boundaries
	line := strings.Repeat("x", 1000)
	var sb strings.Builder
	for i := 0; i < 200; i++ {
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	appendFile(t, path, sb.String())

	lines, err := f.ReadLines(false)
	require.NoError(t, err)
	require.Len(t, lines, 200)
	for _, l := range lines {
		assert.Equal(t, line, l)
	}
}

func TestFollower_CloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x")
	appendFile(t, path, "a\n")
	f := NewFollower(path)

	_, err := f.ReadLines(false)
	require.NoError(t, err)
	assert.True(t, f.Exists())
	assert.NoError(t, f.Close())
	assert.NoError(t, f.Close())
}
