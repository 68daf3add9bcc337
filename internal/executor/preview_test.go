package executor

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-locust-swarm/internal/config"
	"github.com/randomizedcoder/go-locust-swarm/internal/process"
)

func previewConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "locustfile.py")
	require.NoError(t, os.WriteFile(script, []byte("pass\n"), 0o644))

	cfg := config.DefaultConfig()
	cfg.Script = script
	cfg.ArtifactsDir = "artifacts"
	cfg.WorkDir = dir
	return cfg
}

func TestCommandPreview_Standalone(t *testing.T) {
	cfg := previewConfig(t)
	cfg.Clients = 20
	cfg.Iterations = 5
	cfg.Host = "http://localhost:8080"

	cmd, err := CommandPreview(cfg)
	require.NoError(t, err)

	runDir := filepath.Join("artifacts", previewRunDir)
	assert.Contains(t, cmd, "JTL="+filepath.Join(runDir, "kpi.jtl"))
	assert.Contains(t, cmd, "python3 "+filepath.Join(runDir, "locust-wrapper.py")+" -f ")
	assert.Contains(t, cmd, "--clients=20")
	assert.Contains(t, cmd, "--hatch-rate=20")
	assert.Contains(t, cmd, "--num-request=5")
	assert.Contains(t, cmd, "--host=http://localhost:8080")
	assert.NotContains(t, cmd, "--master")
}

func TestCommandPreview_Coordinator(t *testing.T) {
	cfg := previewConfig(t)
	cfg.Role = "coordinator"

	cmd, err := CommandPreview(cfg)
	require.NoError(t, err)
	assert.Contains(t, cmd, "SLAVES_LDJSON="+filepath.Join("artifacts", previewRunDir, "locust-slaves.ldjson"))
	assert.Contains(t, cmd, "--master")
}

func TestCommandPreview_CustomWrapper(t *testing.T) {
	cfg := previewConfig(t)
	cfg.Wrapper = filepath.Join(t.TempDir(), "wrapper.py")
	require.NoError(t, os.WriteFile(cfg.Wrapper, []byte("pass\n"), 0o644))

	cmd, err := CommandPreview(cfg)
	require.NoError(t, err)
	assert.Contains(t, cmd, "wrapper.py -f ")
}

func TestCommandPreview_MissingScript(t *testing.T) {
	cfg := previewConfig(t)
	cfg.Script = filepath.Join(t.TempDir(), "missing.py")

	_, err := CommandPreview(cfg)
	var cfgErr *process.ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "script", cfgErr.Field)
}
