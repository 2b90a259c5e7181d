// Package ndjson splits a byte stream into newline-delimited records.
//
// Splitter works on arbitrary chunk boundaries: a record split across two
// reads is held back until its terminating newline arrives. It knows nothing
// about processes or pipes, so it can be fed directly in tests.
package ndjson

import (
	"bytes"
	"encoding/json"
	"io"
)

// DefaultMaxLine bounds how much of an unterminated line is retained.
const DefaultMaxLine = 4 * 1024 * 1024

// Splitter buffers a partial trailing line between Feed calls.
type Splitter struct {
	buf     []byte
	maxLine int
	dropped int
}

// NewSplitter returns a Splitter that discards any single line longer than maxLine.
func NewSplitter(maxLine int) *Splitter {
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	return &Splitter{maxLine: maxLine}
}

// Feed appends chunk and returns every complete line it closes, in order,
// without the trailing newline (or carriage return). Empty lines are skipped.
// The returned slices are owned by the caller.
func (s *Splitter) Feed(chunk []byte) [][]byte {
	s.buf = append(s.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(s.buf[:i], "\r")
		if len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
		s.buf = s.buf[i+1:]
	}

	if len(s.buf) > s.maxLine {
		s.dropped++
		s.buf = nil
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines
}

// Pending returns the length of the buffered partial line.
func (s *Splitter) Pending() int {
	return len(s.buf)
}

// Dropped returns how many oversize partial lines were discarded.
func (s *Splitter) Dropped() int {
	return s.dropped
}

// ReadObjects reads r to EOF and calls fn for every line that is valid JSON.
// Unparseable lines are skipped. The read error, if any other than io.EOF, is returned.
func ReadObjects(r io.Reader, maxLine int, fn func(json.RawMessage)) error {
	s := NewSplitter(maxLine)
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			for _, line := range s.Feed(chunk[:n]) {
				if json.Valid(line) {
					fn(json.RawMessage(line))
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
