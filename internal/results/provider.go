// Package results exposes the worker's results to the aggregator through a
// single pull-based interface, whichever way the worker reports them.
//
// A standalone worker writes one JTL file (LocalFile). A coordinator
// receives samples from remote workers and appends them to one LDJSON
// stream (MergedStream). Exactly one Source is selected per run.
package results

import (
	"fmt"
	"iter"
	"log/slog"

	"github.com/randomizedcoder/go-locust-swarm/internal/load"
	"github.com/randomizedcoder/go-locust-swarm/internal/process"
	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
)

// Provider yields aggregated datapoints on demand.
//
// Each call yields only datapoints not yielded before, in strictly
// increasing timestamp order. A call with no new data yields nothing.
// With finalPass set, everything still buffered is yielded.
type Provider interface {
	PullDatapoints(finalPass bool) iter.Seq[sample.Datapoint]
}

// Kind identifies a result source variant.
type Kind int

const (
	// KindLocalFile is a single JTL file written by a standalone worker.
	KindLocalFile Kind = iota

	// KindMergedStream is an LDJSON stream of samples from remote workers.
	KindMergedStream
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindLocalFile:
		return "local_file"
	case KindMergedStream:
		return "merged_stream"
	default:
		return "unknown"
	}
}

// Artifact names for the result file of each kind.
const (
	localFileName    = "kpi"
	localFileExt     = ".jtl"
	mergedStreamName = "locust-slaves"
	mergedStreamExt  = ".ldjson"
)

// Allocator hands out unique artifact paths.
type Allocator interface {
	Create(name, ext string) (string, error)
}

// Source is the run's result file and the variant that reads it.
type Source struct {
	Kind Kind
	Path string
}

// Select picks the source variant for role and allocates its path.
func Select(role load.Role, alloc Allocator) (Source, error) {
	kind, name, ext := KindLocalFile, localFileName, localFileExt
	if role == load.RoleCoordinator {
		kind, name, ext = KindMergedStream, mergedStreamName, mergedStreamExt
	}

	path, err := alloc.Create(name, ext)
	if err != nil {
		return Source{}, fmt.Errorf("allocate %s result file: %w", kind, err)
	}
	return Source{Kind: kind, Path: path}, nil
}

// EnvVar returns the environment variable that tells the worker where to
// write this source.
func (s Source) EnvVar() string {
	if s.Kind == KindMergedStream {
		return process.EnvSlavesLDJSON
	}
	return process.EnvJTL
}

// Target returns the source as a launch result target.
func (s Source) Target() process.ResultTarget {
	return process.ResultTarget{EnvVar: s.EnvVar(), Path: s.Path}
}

// OpenOptions configures the provider built by Source.Open.
type OpenOptions struct {
	// Parser reads a LocalFile once it exists.
	Parser ParserFunc

	// Merge configures a MergedStream.
	Merge MergeConfig

	Logger *slog.Logger
}

// Open constructs the provider variant for the source.
func (s Source) Open(opts OpenOptions) (Provider, error) {
	switch s.Kind {
	case KindLocalFile:
		if opts.Parser == nil {
			return nil, fmt.Errorf("results: local file %s needs a parser", s.Path)
		}
		return NewLocalFile(s.Path, opts.Parser, opts.Logger)
	case KindMergedStream:
		return NewMergedStream(s.Path, opts.Merge, opts.Logger)
	default:
		return nil, fmt.Errorf("results: unknown source kind %d", s.Kind)
	}
}
