// Package aggregator consolidates datapoints pulled from results providers
// into run totals and Prometheus metrics.
package aggregator

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
)

// Provider is the pull contract the aggregator consumes.
type Provider interface {
	PullDatapoints(finalPass bool) iter.Seq[sample.Datapoint]
}

// Recorder receives every datapoint the aggregator pulls.
type Recorder interface {
	RecordDatapoint(dp sample.Datapoint)
}

// ErrNoGatherer is returned by WriteSnapshot when no gatherer was configured.
var ErrNoGatherer = errors.New("aggregator: no metrics gatherer configured")

// Totals are the cumulative results of a run.
type Totals struct {
	Datapoints int64
	Samples    int64
	Failures   int64
	Bytes      int64

	// First and Last are the timestamps of the oldest and newest datapoints.
	First time.Time
	Last  time.Time

	AvgRT time.Duration
	MaxRT time.Duration

	Errors map[string]int64

	// Latest is the newest datapoint pulled so far.
	Latest sample.Datapoint
}

// FailureRate returns Failures/Samples, or 0 before any sample.
func (t Totals) FailureRate() float64 {
	if t.Samples == 0 {
		return 0
	}
	return float64(t.Failures) / float64(t.Samples)
}

// Config configures an Aggregator.
type Config struct {
	Logger   *slog.Logger
	Recorder Recorder

	// Gatherer is written by WriteSnapshot.
	Gatherer prometheus.Gatherer
}

// Aggregator drains attached providers on every Pull.
// It is safe for concurrent use.
type Aggregator struct {
	logger   *slog.Logger
	recorder Recorder
	gatherer prometheus.Gatherer

	mu        sync.Mutex
	providers []Provider
	totals    Totals
	sumRT     time.Duration
}

// New creates an aggregator.
func New(cfg Config) *Aggregator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		logger:   logger,
		recorder: cfg.Recorder,
		gatherer: cfg.Gatherer,
		totals:   Totals{Errors: make(map[string]int64)},
	}
}

// Attach registers a provider. It is called once per provider, before the
// first Pull.
func (a *Aggregator) Attach(p Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers = append(a.providers, p)
}

// Providers returns the number of attached providers.
func (a *Aggregator) Providers() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.providers)
}

// Pull drains every provider and returns the number of datapoints
// consumed. A final pull flushes whatever the providers still buffer.
func (a *Aggregator) Pull(final bool) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, p := range a.providers {
		for dp := range p.PullDatapoints(final) {
			a.addLocked(dp)
			if a.recorder != nil {
				a.recorder.RecordDatapoint(dp)
			}
			n++
		}
	}

	if n > 0 {
		a.logger.Debug("datapoints_pulled",
			"count", n,
			"final", final,
			"samples_total", a.totals.Samples,
		)
	}
	return n
}

func (a *Aggregator) addLocked(dp sample.Datapoint) {
	t := &a.totals
	if t.First.IsZero() || dp.Timestamp.Before(t.First) {
		t.First = dp.Timestamp
	}
	if dp.Timestamp.After(t.Last) {
		t.Last = dp.Timestamp
		t.Latest = dp
	}
	t.Datapoints++
	t.Samples += dp.Samples
	t.Failures += dp.Failures
	t.Bytes += dp.Bytes
	if dp.MaxRT > t.MaxRT {
		t.MaxRT = dp.MaxRT
	}
	a.sumRT += dp.AvgRT * time.Duration(dp.Samples)
	if t.Samples > 0 {
		t.AvgRT = a.sumRT / time.Duration(t.Samples)
	}
	for msg, count := range dp.Errors {
		t.Errors[msg] += count
	}
}

// Totals returns a copy of the cumulative results.
func (a *Aggregator) Totals() Totals {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.totals
	t.Errors = maps.Clone(a.totals.Errors)
	t.Latest.Errors = maps.Clone(a.totals.Latest.Errors)
	return t
}

// WriteSnapshot writes every gathered metric family to w in the Prometheus
// text exposition format.
func (a *Aggregator) WriteSnapshot(w io.Writer) error {
	if a.gatherer == nil {
		return ErrNoGatherer
	}

	families, err := a.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	return writeFamilies(w, families)
}

func writeFamilies(w io.Writer, families []*dto.MetricFamily) error {
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
