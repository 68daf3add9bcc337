package results

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
	"github.com/randomizedcoder/go-locust-swarm/internal/tail"
)

// DefaultMergeLag bounds how long an interval waits for a straggling worker.
const DefaultMergeLag = 5 * time.Second

// MergeConfig tunes how samples from remote workers are merged.
type MergeConfig struct {
	// Lag is how far the newest sample may run ahead of an interval
	// before the interval is emitted without the slowest worker.
	Lag time.Duration

	// Interval is the datapoint width.
	Interval time.Duration
}

// MergedStream tails an append-only LDJSON file fed by remote workers.
// Each line is one sample:
//
//	{"worker":"w1","ts":1760000000.25,"label":"/","elapsed":42.5,"success":true,"bytes":512,"code":"200","error":""}
//
// ts is seconds since the epoch (a number or an RFC 3339 string) and
// elapsed is milliseconds. An interval is emitted once every known worker
// has reported a sample past its end, or once the newest sample is more
// than Lag past its end. A sample stamped later than the local clock plus
// Lag only advances the newest time up to that bound, so one worker with a
// fast clock cannot flush intervals the others are still filling. Samples
// for an interval already emitted are counted as late and folded into the
// oldest open interval. Malformed lines are counted and skipped; a pull
// never fails.
//
// MergedStream is not safe for concurrent use.
type MergedStream struct {
	follower *tail.Follower
	window   *sample.Window
	backlog  sample.Backlog
	lag      time.Duration
	logger   *slog.Logger

	watermarks map[string]time.Time
	newest     time.Time
	now        func() time.Time

	malformed int64
	accepted  int64
}

// NewMergedStream creates a provider for the LDJSON stream at path,
// making sure its directory exists.
func NewMergedStream(path string, cfg MergeConfig, logger *slog.Logger) (*MergedStream, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lag <= 0 {
		cfg.Lag = DefaultMergeLag
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}
	return &MergedStream{
		follower:   tail.NewFollower(path),
		window:     sample.NewWindow(cfg.Interval),
		lag:        cfg.Lag,
		logger:     logger,
		watermarks: make(map[string]time.Time),
		now:        time.Now,
	}, nil
}

// Path returns the stream file path.
func (m *MergedStream) Path() string {
	return m.follower.Path()
}

// PullDatapoints consumes newly appended lines and yields every interval
// that is complete.
func (m *MergedStream) PullDatapoints(finalPass bool) iter.Seq[sample.Datapoint] {
	return func(yield func(sample.Datapoint) bool) {
		m.ingest(finalPass)
		for dp := range m.backlog.Drain() {
			if !yield(dp) {
				return
			}
		}
	}
}

func (m *MergedStream) ingest(final bool) {
	lines, err := m.follower.ReadLines(final)
	if err != nil {
		m.logger.Warn("merged_stream_read_failed", "path", m.follower.Path(), "error", err)
	}

	for _, line := range lines {
		s, perr := parseRecord(line)
		if perr != nil {
			m.malformed++
			m.logger.Debug("merged_stream_line_skipped", "error", perr)
			continue
		}
		m.window.Add(s)
		m.accepted++
		if s.Timestamp.After(m.watermarks[s.Worker]) {
			m.watermarks[s.Worker] = s.Timestamp
		}
		ts := s.Timestamp
		if limit := m.now().Add(m.lag); ts.After(limit) {
			m.logger.Debug("merged_stream_clock_ahead", "worker", s.Worker, "ahead", ts.Sub(limit).String())
			ts = limit
		}
		if ts.After(m.newest) {
			m.newest = ts
		}
	}

	if final {
		m.backlog.Push(m.window.FlushAll()...)
		return
	}
	if cutoff, ok := m.cutoff(); ok {
		m.backlog.Push(m.window.Flush(cutoff)...)
	}
}

// cutoff returns the time before which every interval is complete: the
// slowest worker's watermark, unless the newest sample is more than lag
// ahead of it.
func (m *MergedStream) cutoff() (time.Time, bool) {
	if len(m.watermarks) == 0 {
		return time.Time{}, false
	}
	var slowest time.Time
	for _, wm := range m.watermarks {
		if slowest.IsZero() || wm.Before(slowest) {
			slowest = wm
		}
	}
	if bound := m.newest.Add(-m.lag); bound.After(slowest) {
		return bound, true
	}
	return slowest, true
}

// Workers returns how many distinct workers have reported.
func (m *MergedStream) Workers() int {
	return len(m.watermarks)
}

// Malformed returns how many lines could not be parsed.
func (m *MergedStream) Malformed() int64 {
	return m.malformed
}

// Late returns how many samples arrived after their interval was emitted
// and were folded into a later one.
func (m *MergedStream) Late() int64 {
	return m.window.Late()
}

// Accepted returns how many samples were merged.
func (m *MergedStream) Accepted() int64 {
	return m.accepted
}

// Close releases the stream file.
func (m *MergedStream) Close() error {
	return m.follower.Close()
}

var (
	errInvalidJSON = errors.New("invalid JSON")
	errNoTimestamp = errors.New("missing ts")
)

// parseRecord decodes one LDJSON sample.
func parseRecord(line string) (sample.Sample, error) {
	if !gjson.Valid(line) {
		return sample.Sample{}, errInvalidJSON
	}
	fields := gjson.GetMany(line, "worker", "ts", "label", "elapsed", "success", "bytes", "code", "error")
	worker, ts, label, elapsed, success, bytes, code, errMsg :=
		fields[0], fields[1], fields[2], fields[3], fields[4], fields[5], fields[6], fields[7]

	at, err := parseTimestamp(ts)
	if err != nil {
		return sample.Sample{}, err
	}

	s := sample.Sample{
		Timestamp: at,
		Label:     label.String(),
		Elapsed:   time.Duration(elapsed.Float() * float64(time.Millisecond)),
		Bytes:     bytes.Int(),
		Code:      code.String(),
		Error:     errMsg.String(),
		Worker:    worker.String(),
	}
	if success.Exists() {
		s.Success = success.Bool()
	} else {
		s.Success = s.Error == ""
	}
	return s, nil
}

func parseTimestamp(ts gjson.Result) (time.Time, error) {
	switch ts.Type {
	case gjson.Number:
		sec, frac := math.Modf(ts.Float())
		return time.Unix(int64(sec), int64(frac*float64(time.Second))), nil
	case gjson.String:
		at, err := time.Parse(time.RFC3339Nano, ts.String())
		if err != nil {
			return time.Time{}, fmt.Errorf("ts: %w", err)
		}
		return at, nil
	default:
		return time.Time{}, errNoTimestamp
	}
}
