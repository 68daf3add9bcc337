package aggregator

import (
	"bytes"
	"io"
	"iter"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// queueProvider hands out its points once; a final pass also releases held.
type queueProvider struct {
	points []sample.Datapoint
	held   []sample.Datapoint
}

func (q *queueProvider) PullDatapoints(finalPass bool) iter.Seq[sample.Datapoint] {
	return func(yield func(sample.Datapoint) bool) {
		if finalPass {
			q.points = append(q.points, q.held...)
			q.held = nil
		}
		for len(q.points) > 0 {
			dp := q.points[0]
			q.points = q.points[1:]
			if !yield(dp) {
				return
			}
		}
	}
}

type recordingRecorder struct {
	mu     sync.Mutex
	points []sample.Datapoint
}

func (r *recordingRecorder) RecordDatapoint(dp sample.Datapoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.points = append(r.points, dp)
}

func newTestAggregator(rec Recorder, g prometheus.Gatherer) *Aggregator {
	return New(Config{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Recorder: rec,
		Gatherer: g,
	})
}

func dp(sec int, samples, failures int64, avg time.Duration) sample.Datapoint {
	return sample.Datapoint{
		Timestamp: t0.Add(time.Duration(sec) * time.Second),
		Interval:  time.Second,
		Samples:   samples,
		Failures:  failures,
		Bytes:     samples * 10,
		AvgRT:     avg,
		MaxRT:     2 * avg,
	}
}

func TestAggregator_PullAccumulates(t *testing.T) {
	rec := &recordingRecorder{}
	a := newTestAggregator(rec, nil)

	p := &queueProvider{
		points: []sample.Datapoint{dp(0, 10, 1, 10*time.Millisecond), dp(1, 30, 0, 30*time.Millisecond)},
		held:   []sample.Datapoint{dp(2, 0, 0, 0)},
	}
	p.points[0].Errors = map[string]int64{"500": 1}
	a.Attach(p)
	assert.Equal(t, 1, a.Providers())

	assert.Equal(t, 2, a.Pull(false))
	assert.Equal(t, 0, a.Pull(false), "repeated pull with no new data")
	assert.Equal(t, 1, a.Pull(true))

	tot := a.Totals()
	assert.Equal(t, int64(3), tot.Datapoints)
	assert.Equal(t, int64(40), tot.Samples)
	assert.Equal(t, int64(1), tot.Failures)
	assert.Equal(t, int64(400), tot.Bytes)
	assert.Equal(t, t0, tot.First)
	assert.Equal(t, t0.Add(2*time.Second), tot.Last)
	assert.Equal(t, 25*time.Millisecond, tot.AvgRT, "weighted by samples")
	assert.Equal(t, 60*time.Millisecond, tot.MaxRT)
	assert.Equal(t, map[string]int64{"500": 1}, tot.Errors)
	assert.InDelta(t, 0.025, tot.FailureRate(), 1e-9)
	assert.Equal(t, t0.Add(2*time.Second), tot.Latest.Timestamp, "latest is the newest datapoint")

	assert.Len(t, rec.points, 3, "every datapoint reaches the recorder")
}

func TestAggregator_MultipleProviders(t *testing.T) {
	a := newTestAggregator(nil, nil)
	a.Attach(&queueProvider{points: []sample.Datapoint{dp(0, 1, 0, 0)}})
	a.Attach(&queueProvider{points: []sample.Datapoint{dp(0, 2, 0, 0), dp(1, 3, 0, 0)}})

	assert.Equal(t, 3, a.Pull(false))
	assert.Equal(t, int64(6), a.Totals().Samples)
}

func TestAggregator_TotalsIsCopy(t *testing.T) {
	a := newTestAggregator(nil, nil)
	p := &queueProvider{points: []sample.Datapoint{dp(0, 1, 1, 0)}}
	p.points[0].Errors = map[string]int64{"timeout": 1}
	a.Attach(p)
	a.Pull(false)

	tot := a.Totals()
	tot.Errors["timeout"] = 99
	assert.Equal(t, int64(1), a.Totals().Errors["timeout"])
}

func TestAggregator_NoProviders(t *testing.T) {
	a := newTestAggregator(nil, nil)
	assert.Zero(t, a.Pull(true))
	assert.Zero(t, a.Totals().FailureRate())
}

func TestAggregator_WriteSnapshot(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "locust_swarm_samples_total", Help: "Samples"})
	reg.MustRegister(counter)
	counter.Add(42)

	a := newTestAggregator(nil, reg)
	var buf bytes.Buffer
	require.NoError(t, a.WriteSnapshot(&buf))

	out := buf.String()
	assert.Contains(t, out, "# HELP locust_swarm_samples_total Samples")
	assert.Contains(t, out, "# TYPE locust_swarm_samples_total counter")
	assert.Contains(t, out, "locust_swarm_samples_total 42")
}

func TestAggregator_WriteSnapshotWithoutGatherer(t *testing.T) {
	a := newTestAggregator(nil, nil)
	assert.ErrorIs(t, a.WriteSnapshot(io.Discard), ErrNoGatherer)
}
