package coincidence

import (
	"context"
	"maps"
	"slices"
)

// StaticProvider serves in-memory event slices keyed by source id. Each slice
// must be sorted by timestamp. It is safe for concurrent use as long as the
// slices are not modified.
type StaticProvider map[uint32][]Event

func (p StaticProvider) Streams(ctx context.Context, q Query) ([]EventStream, error) {
	ids := slices.Sorted(maps.Keys(p))
	var out []EventStream
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !q.Wants(id) {
			continue
		}
		var s EventStream = NewSliceStream(id, p[id])
		s = RangeStream(s, q.Start, q.End)
		out = append(out, LimitStream(s, q.Limit))
	}
	return out, nil
}

// RangeStream drops events outside [start, end) from s. A zero end leaves the
// range open. Events past end are never read once one has been seen.
func RangeStream(s EventStream, start, end int64) EventStream {
	if start <= 0 && end == 0 {
		return s
	}
	return &rangedStream{EventStream: s, q: Query{Start: start, End: end}}
}

type rangedStream struct {
	EventStream
	q    Query
	done bool
}

func (r *rangedStream) Next() (Event, bool) {
	for !r.done {
		e, ok := r.EventStream.Next()
		if !ok {
			r.done = true
			break
		}
		if r.q.Contains(e.Timestamp) {
			return e, true
		}
		// sorted input: past the end nothing further can match
		if e.Timestamp >= r.q.Start {
			r.done = true
		}
	}
	return Event{}, false
}

func (r *rangedStream) Err() error   { return errOf(r.EventStream) }
func (r *rangedStream) Close() error { return closeOf(r.EventStream) }
