package executor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-locust-swarm/internal/config"
	"github.com/randomizedcoder/go-locust-swarm/internal/load"
	"github.com/randomizedcoder/go-locust-swarm/internal/process"
	"github.com/randomizedcoder/go-locust-swarm/internal/results"
)

// previewRunDir stands in for the run directory, which is only named when
// a run starts.
const previewRunDir = "<run-id>"

// previewAllocator names artifacts without creating anything.
type previewAllocator struct {
	dir string
}

func (a previewAllocator) Create(name, ext string) (string, error) {
	return filepath.Join(a.dir, name+ext), nil
}

// CommandPreview returns the worker command a run with cfg would start.
// Artifact paths point into a placeholder run directory.
func CommandPreview(cfg *config.Config) (string, error) {
	alloc := previewAllocator{dir: filepath.Join(cfg.ArtifactsDir, previewRunDir)}

	role, _ := load.ParseRole(cfg.Role)
	source, err := results.Select(role, alloc)
	if err != nil {
		return "", err
	}

	wrapper := cfg.Wrapper
	if wrapper == "" {
		tmp, err := os.CreateTemp("", "locust-wrapper-*.py")
		if err != nil {
			return "", fmt.Errorf("write wrapper: %w", err)
		}
		defer os.Remove(tmp.Name())
		if _, err := tmp.Write(wrapperScript); err != nil {
			tmp.Close()
			return "", fmt.Errorf("write wrapper: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return "", fmt.Errorf("write wrapper: %w", err)
		}
		wrapper = tmp.Name()
	}

	logPath, _ := alloc.Create("locust", ".log")
	outPath, _ := alloc.Create("locust", ".out")
	spec, err := process.Build(cfg.Intent(), process.BuildOptions{
		Interpreter:  cfg.Interpreter,
		WrapperPath:  wrapper,
		ScriptPath:   cfg.Script,
		LogPath:      logPath,
		OutputPath:   outPath,
		Results:      source.Target(),
		ArtifactsDir: alloc.dir,
		WorkDir:      cfg.WorkDir,
	})
	if err != nil {
		return "", err
	}

	if cfg.Wrapper == "" {
		spec.Args[0] = filepath.Join(alloc.dir, "locust-wrapper.py")
	}
	return spec.CommandString(), nil
}
