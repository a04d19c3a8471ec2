// Package coincidence finds groups of events recorded by independent stations
// whose timestamps fall within a common window of an anchor event.
//
// The search runs in three stages: a lazy k-way merge of per-station sorted
// event streams (Merger), a windowed grouping pass over the merged order
// (Clusterer), and a translation of each group into storage back-references
// (IndexBuilder). All three are single-pass and deterministic. Clock
// corrections, storage and logging belong to the Provider and Sink adapters.
package coincidence

import (
	"fmt"
	"io"
)

// DefaultWindow is the coincidence window used by the station network, in
// timestamp units (nanoseconds).
const DefaultWindow int64 = 2000

// Event is a single detection. Timestamp is the clock-corrected arrival time in
// nanoseconds, SourceID names the station and LocalIndex is an opaque
// back-reference into that station's event table.
type Event struct {
	Timestamp  int64
	SourceID   uint32
	LocalIndex uint64
}

func (e Event) String() string {
	return fmt.Sprintf("(%d, %d, %d)", e.Timestamp, e.SourceID, e.LocalIndex)
}

// EventStream yields one station's events in non-decreasing timestamp order.
// Next returns false once the stream is exhausted; a stream is consumed once.
type EventStream interface {
	SourceID() uint32
	Next() (Event, bool)
}

// SliceStream is an EventStream over an in-memory slice of events that all
// belong to one source.
type SliceStream struct {
	source uint32
	events []Event
	pos    int
}

// NewSliceStream returns a stream over events. The slice is borrowed, not
// copied, and must already be sorted by timestamp.
func NewSliceStream(source uint32, events []Event) *SliceStream {
	return &SliceStream{source: source, events: events}
}

// StreamFromTimestamps builds a stream whose local indices are the positions
// of the timestamps in ts.
func StreamFromTimestamps(source uint32, ts []int64) *SliceStream {
	events := make([]Event, len(ts))
	for i, t := range ts {
		events[i] = Event{Timestamp: t, SourceID: source, LocalIndex: uint64(i)}
	}
	return NewSliceStream(source, events)
}

func (s *SliceStream) SourceID() uint32 { return s.source }

func (s *SliceStream) Next() (Event, bool) {
	if s.pos >= len(s.events) {
		return Event{}, false
	}
	e := s.events[s.pos]
	s.pos++
	return e, true
}

// LimitStream stops the wrapped stream after n events. n <= 0 means no limit.
func LimitStream(s EventStream, n int) EventStream {
	if n <= 0 {
		return s
	}
	return &limitedStream{EventStream: s, left: n}
}

type limitedStream struct {
	EventStream
	left int
}

func (l *limitedStream) Next() (Event, bool) {
	if l.left <= 0 {
		return Event{}, false
	}
	e, ok := l.EventStream.Next()
	if !ok {
		l.left = 0
		return Event{}, false
	}
	l.left--
	return e, true
}

// ShiftStream adds a constant clock correction (nanoseconds) to every
// timestamp of s. A constant shift preserves ordering.
func ShiftStream(s EventStream, shift int64) EventStream {
	if shift == 0 {
		return s
	}
	return &shiftedStream{EventStream: s, shift: shift}
}

type shiftedStream struct {
	EventStream
	shift int64
}

func (s *shiftedStream) Next() (Event, bool) {
	e, ok := s.EventStream.Next()
	if !ok {
		return Event{}, false
	}
	e.Timestamp += s.shift
	return e, true
}

// Coincidence is a group of at least two consecutive positions [Start, End) of
// the merged sequence. Events holds the members in merge order.
type Coincidence struct {
	Start  int
	End    int
	Events []Event
}

// Size returns the number of members.
func (c Coincidence) Size() int { return c.End - c.Start }

// Anchor returns the first member, whose timestamp is the group reference.
func (c Coincidence) Anchor() Event { return c.Events[0] }

// Indices returns the merged-sequence positions of the members.
func (c Coincidence) Indices() []int {
	idx := make([]int, 0, c.Size())
	for i := c.Start; i < c.End; i++ {
		idx = append(idx, i)
	}
	return idx
}

// Wrappers forward Err and Close so storage-backed streams keep reporting
// read failures and releasing resources.

func (l *limitedStream) Err() error   { return errOf(l.EventStream) }
func (l *limitedStream) Close() error { return closeOf(l.EventStream) }
func (s *shiftedStream) Err() error   { return errOf(s.EventStream) }
func (s *shiftedStream) Close() error { return closeOf(s.EventStream) }

func errOf(s EventStream) error {
	if es, ok := s.(interface{ Err() error }); ok {
		return es.Err()
	}
	return nil
}

func closeOf(s EventStream) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
