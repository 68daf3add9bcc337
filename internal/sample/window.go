package sample

import (
	"iter"
	"slices"
	"time"

	"github.com/influxdata/tdigest"
)

// DefaultInterval is the width of one datapoint.
const DefaultInterval = time.Second

// digestCompression keeps ~100 centroids (~10KB) per open interval.
const digestCompression = 100

// bucket accumulates the samples of one interval.
type bucket struct {
	start    time.Time
	samples  int64
	failures int64
	bytes    int64
	sumRT    time.Duration
	minRT    time.Duration
	maxRT    time.Duration
	errors   map[string]int64
	workers  map[string]struct{}
	digest   *tdigest.TDigest
}

func newBucket(start time.Time) *bucket {
	return &bucket{
		start:   start,
		minRT:   -1,
		workers: make(map[string]struct{}),
		digest:  tdigest.NewWithCompression(digestCompression),
	}
}

func (b *bucket) add(s Sample) {
	b.samples++
	b.bytes += s.Bytes
	b.sumRT += s.Elapsed
	if b.minRT < 0 || s.Elapsed < b.minRT {
		b.minRT = s.Elapsed
	}
	if s.Elapsed > b.maxRT {
		b.maxRT = s.Elapsed
	}
	if !s.Success {
		b.failures++
		msg := s.Error
		if msg == "" {
			msg = s.Code
		}
		if b.errors == nil {
			b.errors = make(map[string]int64)
		}
		b.errors[msg]++
	}
	b.workers[s.Worker] = struct{}{}
	b.digest.Add(float64(s.Elapsed.Nanoseconds()), 1)
}

func (b *bucket) datapoint(interval time.Duration) Datapoint {
	dp := Datapoint{
		Timestamp: b.start,
		Interval:  interval,
		Samples:   b.samples,
		Failures:  b.failures,
		Bytes:     b.bytes,
		MinRT:     max(b.minRT, 0),
		MaxRT:     b.maxRT,
		Errors:    b.errors,
		Workers:   len(b.workers),
	}
	if b.samples > 0 {
		dp.AvgRT = b.sumRT / time.Duration(b.samples)
		dp.P50 = time.Duration(b.digest.Quantile(0.50))
		dp.P90 = time.Duration(b.digest.Quantile(0.90))
		dp.P99 = time.Duration(b.digest.Quantile(0.99))
	}
	return dp
}

// Window groups samples into fixed intervals and hands out each interval
// once, in timestamp order. A sample for an interval that was already
// flushed is folded into the oldest interval still open, so it is counted
// once and emitted timestamps keep increasing.
//
// Window is not safe for concurrent use.
type Window struct {
	interval time.Duration
	buckets  map[int64]*bucket
	flushed  time.Time // end of the newest flushed interval
	late     int64
}

// NewWindow creates a window with the given interval (DefaultInterval if <= 0).
func NewWindow(interval time.Duration) *Window {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Window{
		interval: interval,
		buckets:  make(map[int64]*bucket),
	}
}

// Interval returns the datapoint width.
func (w *Window) Interval() time.Duration {
	return w.interval
}

// Add records a sample. It returns false if the sample's own interval had
// already been flushed and the sample was folded into the interval
// starting at the end of the last flush.
func (w *Window) Add(s Sample) bool {
	onTime := true
	start := s.Timestamp.Truncate(w.interval)
	if !w.flushed.IsZero() && start.Before(w.flushed) {
		w.late++
		start = w.flushed
		onTime = false
	}
	key := start.UnixNano()
	b, ok := w.buckets[key]
	if !ok {
		b = newBucket(start)
		w.buckets[key] = b
	}
	b.add(s)
	return onTime
}

// Flush returns datapoints for every interval that ends at or before
// cutoff, oldest first, and forgets them.
func (w *Window) Flush(cutoff time.Time) []Datapoint {
	keys := make([]int64, 0, len(w.buckets))
	for k, b := range w.buckets {
		if !b.start.Add(w.interval).After(cutoff) {
			keys = append(keys, k)
		}
	}
	return w.flushKeys(keys)
}

// FlushAll returns datapoints for every pending interval.
func (w *Window) FlushAll() []Datapoint {
	keys := make([]int64, 0, len(w.buckets))
	for k := range w.buckets {
		keys = append(keys, k)
	}
	return w.flushKeys(keys)
}

func (w *Window) flushKeys(keys []int64) []Datapoint {
	if len(keys) == 0 {
		return nil
	}
	slices.Sort(keys)

	points := make([]Datapoint, 0, len(keys))
	for _, k := range keys {
		b := w.buckets[k]
		points = append(points, b.datapoint(w.interval))
		delete(w.buckets, k)
		if end := b.start.Add(w.interval); end.After(w.flushed) {
			w.flushed = end
		}
	}
	return points
}

// Pending returns the number of intervals not yet flushed.
func (w *Window) Pending() int {
	return len(w.buckets)
}

// Late returns how many samples arrived after their interval was flushed
// and were folded into a later one.
func (w *Window) Late() int64 {
	return w.late
}

// Backlog holds flushed datapoints until a consumer takes them, so a
// consumer that stops iterating early loses nothing.
type Backlog struct {
	points []Datapoint
}

// Push queues points behind those already waiting.
func (b *Backlog) Push(points ...Datapoint) {
	b.points = append(b.points, points...)
}

// Len returns the number of queued datapoints.
func (b *Backlog) Len() int {
	return len(b.points)
}

// Drain yields queued datapoints in order, removing each one once the
// consumer has accepted it.
func (b *Backlog) Drain() iter.Seq[Datapoint] {
	return func(yield func(Datapoint) bool) {
		for len(b.points) > 0 {
			dp := b.points[0]
			b.points = b.points[1:]
			if !yield(dp) {
				return
			}
		}
		b.points = nil
	}
}
