// Package tail reads complete lines appended to a file since the last read.
package tail

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
)

// readChunk is the size of a single read from the followed file.
const readChunk = 64 * 1024

// Follower incrementally reads an append-only file. A missing file is not
// an error: the writer may not have created it yet.
//
// Follower is not safe for concurrent use.
type Follower struct {
	path    string
	file    *os.File
	offset  int64
	partial []byte
	buf     []byte

	bytesRead int64
	linesRead int64
}

// NewFollower creates a follower for path. The file is opened lazily.
func NewFollower(path string) *Follower {
	return &Follower{path: path}
}

// Path returns the followed file.
func (f *Follower) Path() string {
	return f.path
}

// Exists reports whether the followed file has been created.
func (f *Follower) Exists() bool {
	if f.file != nil {
		return true
	}
	_, err := os.Stat(f.path)
	return err == nil
}

// ReadLines returns the complete lines appended since the previous call,
// without their trailing newline. A trailing fragment is kept for the next
// call unless final is set, in which case it is returned as the last line.
// Empty lines are skipped.
func (f *Follower) ReadLines(final bool) ([]string, error) {
	if f.file == nil {
		file, err := os.Open(f.path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
		f.file = file
		f.buf = make([]byte, readChunk)
	}

	var lines []string
	for {
		n, err := f.file.ReadAt(f.buf, f.offset)
		if n > 0 {
			f.offset += int64(n)
			f.bytesRead += int64(n)
			lines = f.split(lines, f.buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return lines, err
		}
	}

	if final && len(f.partial) > 0 {
		lines = append(lines, string(f.partial))
		f.linesRead++
		f.partial = f.partial[:0]
	}
	return lines, nil
}

// split appends every complete line in chunk (prefixed by any pending
// fragment) to lines and keeps the remainder as the new fragment.
func (f *Follower) split(lines []string, chunk []byte) []string {
	for {
		idx := bytes.IndexByte(chunk, '\n')
		if idx < 0 {
			f.partial = append(f.partial, chunk...)
			return lines
		}
		line := chunk[:idx]
		if len(f.partial) > 0 {
			line = append(f.partial, line...)
			f.partial = f.partial[:0]
		}
		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(line) > 0 {
			lines = append(lines, string(line))
			f.linesRead++
		}
		chunk = chunk[idx+1:]
	}
}

// Stats returns (bytesRead, linesRead).
func (f *Follower) Stats() (bytesRead int64, linesRead int64) {
	return f.bytesRead, f.linesRead
}

// Close releases the file handle. Safe to call multiple times.
func (f *Follower) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}
