// Package jtl reads the CSV result file written by a standalone worker and
// turns it into per-interval datapoints.
//
// The file starts with a header naming its columns. Only timeStamp and
// elapsed are required; the rest default to empty.
//
//	timeStamp,elapsed,label,responseCode,responseMessage,threadName,success,bytes,...
//	1760000000123,42,/index,200,OK,locust 1-1,true,5120,...
package jtl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/randomizedcoder/go-locust-swarm/internal/sample"
	"github.com/randomizedcoder/go-locust-swarm/internal/tail"
)

// DefaultLag is how far the newest sample must be past an interval's end
// before that interval is emitted.
const DefaultLag = 2 * time.Second

// Column names used from the header.
const (
	colTimestamp = "timeStamp"
	colElapsed   = "elapsed"
	colLabel     = "label"
	colCode      = "responseCode"
	colMessage   = "responseMessage"
	colSuccess   = "success"
	colBytes     = "bytes"
)

// ErrNoHeader is returned when the first line lacks the required columns.
var ErrNoHeader = errors.New("jtl: header must contain timeStamp and elapsed columns")

// Options configures a Reader.
type Options struct {
	Interval time.Duration
	Lag      time.Duration
	Logger   *slog.Logger
}

// Reader incrementally parses a JTL file that is still being written.
//
// Reader is not safe for concurrent use.
type Reader struct {
	follower *tail.Follower
	window   *sample.Window
	backlog  sample.Backlog
	lag      time.Duration
	logger   *slog.Logger

	columns map[string]int
	newest  time.Time

	malformed int64
}

// NewReader creates a reader for the JTL file at path.
func NewReader(path string, opts Options) *Reader {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lag := opts.Lag
	if lag <= 0 {
		lag = DefaultLag
	}
	return &Reader{
		follower: tail.NewFollower(path),
		window:   sample.NewWindow(opts.Interval),
		lag:      lag,
		logger:   logger,
	}
}

// PullDatapoints reads newly written rows and yields every interval that
// is complete. With finalPass set everything buffered is yielded.
func (r *Reader) PullDatapoints(finalPass bool) iter.Seq[sample.Datapoint] {
	return func(yield func(sample.Datapoint) bool) {
		if err := r.ingest(finalPass); err != nil {
			r.logger.Warn("jtl_read_failed", "path", r.follower.Path(), "error", err)
		}
		for dp := range r.backlog.Drain() {
			if !yield(dp) {
				return
			}
		}
	}
}

func (r *Reader) ingest(final bool) error {
	lines, err := r.follower.ReadLines(final)
	for _, line := range lines {
		if r.columns == nil {
			cols, herr := parseHeader(line)
			if herr != nil {
				return herr
			}
			r.columns = cols
			continue
		}
		s, perr := r.parseRow(line)
		if perr != nil {
			r.malformed++
			r.logger.Debug("jtl_row_skipped", "error", perr)
			continue
		}
		if s.Timestamp.After(r.newest) {
			r.newest = s.Timestamp
		}
		r.window.Add(s)
	}

	if final {
		r.backlog.Push(r.window.FlushAll()...)
	} else if !r.newest.IsZero() {
		r.backlog.Push(r.window.Flush(r.newest.Add(-r.lag))...)
	}
	return err
}

// Malformed returns how many rows could not be parsed.
func (r *Reader) Malformed() int64 {
	return r.malformed
}

// Late returns how many rows arrived after their interval was emitted
// and were folded into a later one.
func (r *Reader) Late() int64 {
	return r.window.Late()
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.follower.Close()
}

func parseHeader(line string) (map[string]int, error) {
	fields, err := splitCSV(line)
	if err != nil {
		return nil, fmt.Errorf("jtl: parse header: %w", err)
	}
	cols := make(map[string]int, len(fields))
	for i, name := range fields {
		cols[strings.TrimSpace(name)] = i
	}
	if _, ok := cols[colTimestamp]; !ok {
		return nil, ErrNoHeader
	}
	if _, ok := cols[colElapsed]; !ok {
		return nil, ErrNoHeader
	}
	return cols, nil
}

func (r *Reader) parseRow(line string) (sample.Sample, error) {
	fields, err := splitCSV(line)
	if err != nil {
		return sample.Sample{}, err
	}
	get := func(name string) string {
		idx, ok := r.columns[name]
		if !ok || idx >= len(fields) {
			return ""
		}
		return fields[idx]
	}

	ms, err := strconv.ParseInt(get(colTimestamp), 10, 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("timestamp: %w", err)
	}
	elapsed, err := strconv.ParseInt(get(colElapsed), 10, 64)
	if err != nil {
		return sample.Sample{}, fmt.Errorf("elapsed: %w", err)
	}

	s := sample.Sample{
		Timestamp: time.UnixMilli(ms),
		Label:     get(colLabel),
		Elapsed:   time.Duration(elapsed) * time.Millisecond,
		Success:   true,
		Code:      get(colCode),
	}
	if v := get(colSuccess); v != "" {
		s.Success = strings.EqualFold(v, "true")
	}
	if !s.Success {
		s.Error = get(colMessage)
	}
	if v := get(colBytes); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			s.Bytes = n
		}
	}
	return s, nil
}

// splitCSV parses a single CSV record.
func splitCSV(line string) ([]string, error) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr.Read()
}
