package artifacts

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDir(t *testing.T) *Dir {
	t.Helper()
	d, err := Open(t.TempDir(), newTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestOpen_ULIDDirectory(t *testing.T) {
	base := t.TempDir()
	d, err := Open(base, newTestLogger())
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, base, filepath.Dir(d.Path()))
	_, err = ulid.ParseStrict(d.Name())
	assert.NoError(t, err, "directory is named by a ULID")
	assert.Equal(t, filepath.Base(d.Path()), d.Name())

	info, err := os.Stat(d.Path())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenNamed_Locked(t *testing.T) {
	base := t.TempDir()
	first, err := OpenNamed(base, "run", newTestLogger())
	require.NoError(t, err)

	_, err = OpenNamed(base, "run", newTestLogger())
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())
	second, err := OpenNamed(base, "run", newTestLogger())
	require.NoError(t, err, "lock released on Close")
	assert.NoError(t, second.Close())
	assert.NoError(t, second.Close(), "Close is idempotent")
}

func TestCreate_UniqueNames(t *testing.T) {
	d := openTestDir(t)

	first, err := d.Create("locust", ".log")
	require.NoError(t, err)
	second, err := d.Create("locust", ".log")
	require.NoError(t, err)
	out, err := d.Create("locust", ".out")
	require.NoError(t, err)

	assert.Equal(t, "locust.log", filepath.Base(first))
	assert.Equal(t, "locust-1.log", filepath.Base(second))
	assert.Equal(t, "locust.out", filepath.Base(out))
	assert.Equal(t, d.Path(), filepath.Dir(first))
}

func TestCreate_SkipsExistingFiles(t *testing.T) {
	d, err := OpenNamed(t.TempDir(), "run", newTestLogger())
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, os.WriteFile(filepath.Join(d.Path(), "kpi.jtl"), nil, 0o644))

	path, err := d.Create("kpi", ".jtl")
	require.NoError(t, err)
	assert.Equal(t, "kpi-1.jtl", filepath.Base(path))
}

func TestCreate_EmptyName(t *testing.T) {
	d := openTestDir(t)
	_, err := d.Create("", ".jtl")
	assert.Error(t, err)
}

func TestExisting_CopiesFile(t *testing.T) {
	d := openTestDir(t)
	src := filepath.Join(t.TempDir(), "locustfile.py")
	require.NoError(t, os.WriteFile(src, []byte("from locust import HttpLocust\n"), 0o600))

	dst, err := d.Existing(src)
	require.NoError(t, err)
	assert.Equal(t, "locustfile.py", filepath.Base(dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "from locust import HttpLocust\n", string(data))

	again, err := d.Existing(src)
	require.NoError(t, err)
	assert.Equal(t, "locustfile-1.py", filepath.Base(again))
}

func TestExisting_Errors(t *testing.T) {
	d := openTestDir(t)

	_, err := d.Existing(filepath.Join(t.TempDir(), "missing.py"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = d.Existing(t.TempDir())
	assert.Error(t, err, "directories are rejected")
}

func TestWriteYAML(t *testing.T) {
	d := openTestDir(t)

	type cfg struct {
		Clients int    `yaml:"clients"`
		Script  string `yaml:"script"`
	}
	path, err := d.WriteYAML("effective", cfg{Clients: 100, Script: "locustfile.py"})
	require.NoError(t, err)
	assert.Equal(t, "effective.yml", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got cfg
	require.NoError(t, yaml.Unmarshal(data, &got))
	assert.Equal(t, cfg{Clients: 100, Script: "locustfile.py"}, got)
}
