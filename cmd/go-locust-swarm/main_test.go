package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "go-locust-swarm dev\n", out)

	out, err = execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "go-locust-swarm dev\n", out)
}

func TestPrintCmd(t *testing.T) {
	script := filepath.Join(t.TempDir(), "locustfile.py")
	require.NoError(t, os.WriteFile(script, []byte("pass\n"), 0o644))

	out, err := execute(t, "--print-cmd", "--tui=false", "-c", "100", "--ramp-up", "10s", script)
	require.NoError(t, err)
	assert.Contains(t, out, "# Worker command that would be run:")
	assert.Contains(t, out, "--clients=100")
	assert.Contains(t, out, "--hatch-rate=10")
	assert.Contains(t, out, "JTL=")
}

func TestPrintCmd_CheckMode(t *testing.T) {
	script := filepath.Join(t.TempDir(), "locustfile.py")
	require.NoError(t, os.WriteFile(script, []byte("pass\n"), 0o644))

	out, err := execute(t, "--print-cmd", "--check", "--tui=false", "-c", "100", script)
	require.NoError(t, err)
	assert.Contains(t, out, "--clients=1 ")
}

func TestValidationError(t *testing.T) {
	_, err := execute(t, "--tui=false", "--clients", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration error")
	assert.Contains(t, err.Error(), "script")
	assert.Contains(t, err.Error(), "clients")
}

func TestTooManyArgs(t *testing.T) {
	_, err := execute(t, "a.py", "b.py")
	assert.Error(t, err)
}
