// Package artifacts manages the per-run directory holding every file a run
// produces: result files, worker logs, the copied locustfile and the
// effective configuration.
package artifacts

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"
	"gopkg.in/yaml.v3"
)

// lockFile is held exclusively for the lifetime of a run.
const lockFile = ".lock"

// ErrLocked is returned when another process holds the directory.
var ErrLocked = errors.New("artifacts: directory is locked by another run")

// Dir is one run's artifact directory. It is safe for concurrent use.
type Dir struct {
	path   string
	lock   *flock.Flock
	logger *slog.Logger

	mu    sync.Mutex
	taken map[string]bool
}

// Open creates a fresh run directory named by a ULID under baseDir and
// locks it.
func Open(baseDir string, logger *slog.Logger) (*Dir, error) {
	return OpenNamed(baseDir, ulid.Make().String(), logger)
}

// OpenNamed creates (or reuses) baseDir/name and locks it.
func OpenNamed(baseDir, name string, logger *slog.Logger) (*Dir, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := filepath.Abs(filepath.Join(baseDir, name))
	if err != nil {
		return nil, fmt.Errorf("resolve artifacts dir: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create artifacts dir: %w", err)
	}

	lock := flock.New(filepath.Join(path, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock artifacts dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	logger.Info("artifacts_dir_opened", "path", path)
	return &Dir{
		path:   path,
		lock:   lock,
		logger: logger,
		taken:  map[string]bool{lockFile: true},
	}, nil
}

// Path returns the absolute directory path.
func (d *Dir) Path() string {
	return d.path
}

// Name returns the run directory's base name, the run id.
func (d *Dir) Name() string {
	return filepath.Base(d.path)
}

// Create returns an unused path name+ext inside the directory, adding a
// numeric suffix (name-1.ext, name-2.ext...) when taken. The file itself
// is not created.
func (d *Dir) Create(name, ext string) (string, error) {
	if name == "" {
		return "", errors.New("artifacts: empty artifact name")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; ; i++ {
		base := name + ext
		if i > 0 {
			base = name + "-" + strconv.Itoa(i) + ext
		}
		if d.taken[base] {
			continue
		}
		path := filepath.Join(d.path, base)
		if _, err := os.Lstat(path); err == nil {
			d.taken[base] = true
			continue
		}
		d.taken[base] = true
		d.logger.Debug("artifact_created", "path", path)
		return path, nil
	}
}

// Existing copies an input file that already exists into the directory,
// so the run can be reproduced from its artifacts alone. It returns the
// path of the copy.
func (d *Dir) Existing(src string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("existing artifact: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return "", fmt.Errorf("existing artifact: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("existing artifact: %s is a directory", src)
	}

	base := filepath.Base(src)
	ext := filepath.Ext(base)
	dst, err := d.Create(base[:len(base)-len(ext)], ext)
	if err != nil {
		return "", err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return "", fmt.Errorf("existing artifact: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("copy %s: %w", src, err)
	}
	d.logger.Debug("existing_artifact", "src", src, "dst", dst)
	return dst, nil
}

// WriteYAML marshals v to name.yml inside the directory.
func (d *Dir) WriteYAML(name string, v any) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", name, err)
	}
	path, err := d.Create(name, ".yml")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// Close releases the directory lock. Safe to call multiple times.
func (d *Dir) Close() error {
	if err := d.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock artifacts dir: %w", err)
	}
	return nil
}
