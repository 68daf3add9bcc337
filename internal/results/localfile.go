package results

import (
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
)

// ParserFunc opens the external parser for a result file that exists.
type ParserFunc func(path string) (Provider, error)

// LocalFile defers to an external parser for a single result file. It
// only waits for the worker to create the file before handing it over.
type LocalFile struct {
	path   string
	open   ParserFunc
	logger *slog.Logger

	parser Provider
	failed bool
}

// NewLocalFile creates a provider for path, making sure its directory exists.
func NewLocalFile(path string, open ParserFunc, logger *slog.Logger) (*LocalFile, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}
	return &LocalFile{
		path:   path,
		open:   open,
		logger: logger,
	}, nil
}

// Path returns the result file path.
func (l *LocalFile) Path() string {
	return l.path
}

// PullDatapoints yields the parser's datapoints, or nothing until the
// worker has created the file.
func (l *LocalFile) PullDatapoints(finalPass bool) iter.Seq[sample.Datapoint] {
	return func(yield func(sample.Datapoint) bool) {
		parser := l.ensureParser()
		if parser == nil {
			return
		}
		for dp := range parser.PullDatapoints(finalPass) {
			if !yield(dp) {
				return
			}
		}
	}
}

func (l *LocalFile) ensureParser() Provider {
	if l.parser != nil || l.failed {
		return l.parser
	}
	if _, err := os.Stat(l.path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("result_file_stat_failed", "path", l.path, "error", err)
		}
		return nil
	}

	parser, err := l.open(l.path)
	if err != nil {
		l.failed = true
		l.logger.Error("result_parser_open_failed", "path", l.path, "error", err)
		return nil
	}
	l.logger.Debug("result_file_opened", "path", l.path)
	l.parser = parser
	return parser
}

// Close closes the parser if it holds resources.
func (l *LocalFile) Close() error {
	if c, ok := l.parser.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
