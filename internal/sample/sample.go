// Package sample defines the timestamped performance samples produced by
// workers and the aggregated datapoints handed to the aggregation pipeline.
package sample

import "time"

// Sample is one request outcome reported by a worker.
type Sample struct {
	Timestamp time.Time
	Label     string
	Elapsed   time.Duration
	Success   bool
	Bytes     int64
	Code      string
	Error     string

	// Worker identifies the remote worker; empty for a local worker.
	Worker string
}

// Datapoint is the aggregate of all samples whose timestamp falls inside
// [Timestamp, Timestamp+Interval).
type Datapoint struct {
	Timestamp time.Time
	Interval  time.Duration

	Samples  int64
	Failures int64
	Bytes    int64

	AvgRT time.Duration
	MinRT time.Duration
	MaxRT time.Duration
	P50   time.Duration
	P90   time.Duration
	P99   time.Duration

	// Errors counts failures by error message.
	Errors map[string]int64

	// Workers is the number of distinct workers that contributed.
	Workers int
}

// FailureRate returns Failures/Samples, or 0 for an empty datapoint.
func (d Datapoint) FailureRate() float64 {
	if d.Samples == 0 {
		return 0
	}
	return float64(d.Failures) / float64(d.Samples)
}

// Throughput returns samples per second over the interval.
func (d Datapoint) Throughput() float64 {
	if d.Interval <= 0 {
		return 0
	}
	return float64(d.Samples) / d.Interval.Seconds()
}
