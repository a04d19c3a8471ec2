// Package esd reads and writes the tab-separated event summary files served
// by the detector network's public data server.
//
// An event file holds one row per event with the columns
//
//	date  time  timestamp  nanoseconds  [pulse heights, integrals, ...]
//
// and '#' comment lines. Only timestamp and nanoseconds are used; together they
// form the event's ext_timestamp in nanoseconds since the epoch. The row
// ordinal among data rows is the event's local index.
package esd

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/units"
)

// ErrUnsorted is reported by a Stream whose file goes back in time.
var ErrUnsorted = errors.New("events not sorted by timestamp")

const (
	colTimestamp   = 2
	colNanoseconds = 3
)

func newTSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.LazyQuotes = true
	return cr
}

// Stream reads one station's event file lazily. A malformed row or a
// timestamp earlier than its predecessor ends the stream; the cause is
// available from Err.
type Stream struct {
	source uint32
	r      *csv.Reader
	c      io.Closer
	index  uint64
	last   int64
	err    error
	done   bool
}

// NewStream returns a stream over r for the given station.
func NewStream(source uint32, r io.Reader) *Stream {
	s := &Stream{source: source, r: newTSVReader(r)}
	if c, ok := r.(io.Closer); ok {
		s.c = c
	}
	return s
}

// OpenStream opens an event file from disk.
func OpenStream(source uint32, path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return NewStream(source, f), nil
}

func (s *Stream) SourceID() uint32 { return s.source }

func (s *Stream) Next() (coincidence.Event, bool) {
	if s.done {
		return coincidence.Event{}, false
	}
	rec, err := s.r.Read()
	if err != nil {
		s.done = true
		if err != io.EOF {
			s.err = err
		}
		return coincidence.Event{}, false
	}
	ext, err := parseRow(rec)
	if err != nil {
		line, _ := s.r.FieldPos(0)
		s.fail(fmt.Errorf("line %d: %w", line, err))
		return coincidence.Event{}, false
	}
	if s.index > 0 && ext < s.last {
		line, _ := s.r.FieldPos(0)
		s.fail(fmt.Errorf("line %d: %w", line, ErrUnsorted))
		return coincidence.Event{}, false
	}
	e := coincidence.Event{Timestamp: ext, SourceID: s.source, LocalIndex: s.index}
	s.index++
	s.last = ext
	return e, true
}

func (s *Stream) fail(err error) {
	s.done = true
	s.err = err
}

// Err returns the error that ended the stream, if any.
func (s *Stream) Err() error { return s.err }

// Close releases the underlying file.
func (s *Stream) Close() error {
	s.done = true
	if s.c == nil {
		return nil
	}
	c := s.c
	s.c = nil
	return c.Close()
}

func parseRow(rec []string) (int64, error) {
	if len(rec) <= colNanoseconds {
		return 0, fmt.Errorf("expected at least %d columns, got %d", colNanoseconds+1, len(rec))
	}
	sec, err := strconv.ParseInt(rec[colTimestamp], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad timestamp %q: %w", rec[colTimestamp], err)
	}
	ns, err := strconv.ParseInt(rec[colNanoseconds], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad nanoseconds %q: %w", rec[colNanoseconds], err)
	}
	if ns < 0 || ns >= units.NanosPerSecond {
		return 0, fmt.Errorf("nanoseconds %d out of range", ns)
	}
	return units.JoinExt(sec, ns), nil
}
