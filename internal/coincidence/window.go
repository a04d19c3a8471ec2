package coincidence

import (
	"fmt"
	"iter"
)

// Sequence is a forward-only source of events in merge order. *Merger and
// *SliceStream both satisfy it.
type Sequence interface {
	Next() (Event, bool)
}

// Clusterer groups a merged event sequence into coincidences.
//
// Starting from an anchor, the candidate group is every following event whose
// offset from the anchor timestamp is strictly less than the window. A
// candidate of two or more events is emitted and the search re-anchors at the
// last member of that group, so consecutive groups can share one boundary
// event. A lone anchor is dropped and the next event becomes the anchor.
//
// Only the in-flight candidate plus one look-ahead event are buffered.
type Clusterer struct {
	src    Sequence
	window int64

	buf      []Event // merged positions [base, base+len(buf))
	base     int
	start    int // current anchor position
	pulled   int
	drained  bool
	emitted  int
	lastTime int64
}

// NewClusterer returns a Clusterer reading from src. It panics if window is
// not positive.
func NewClusterer(src Sequence, window int64) *Clusterer {
	if window <= 0 {
		panic(fmt.Sprintf("coincidence: window must be positive, got %d", window))
	}
	return &Clusterer{src: src, window: window}
}

// Window returns the configured window.
func (c *Clusterer) Window() int64 { return c.window }

// Next returns the next coincidence in discovery order.
func (c *Clusterer) Next() (Coincidence, bool) {
	for c.fill(c.start) {
		t0 := c.at(c.start).Timestamp
		cur := c.start + 1
		for c.fill(cur) && c.at(cur).Timestamp-t0 < c.window {
			cur++
		}

		if cur-c.start >= 2 {
			members := make([]Event, cur-c.start)
			copy(members, c.buf[c.start-c.base:cur-c.base])
			g := Coincidence{Start: c.start, End: cur, Events: members}
			c.start = cur - 1
			c.trim()
			c.emitted++
			return g, true
		}

		c.start++
		c.trim()
	}
	return Coincidence{}, false
}

// All returns the remaining coincidences as an iterator.
func (c *Clusterer) All() iter.Seq[Coincidence] {
	return func(yield func(Coincidence) bool) {
		for {
			g, ok := c.Next()
			if !ok || !yield(g) {
				return
			}
		}
	}
}

// Pulled returns how many events have been read from the source so far.
func (c *Clusterer) Pulled() int { return c.pulled }

// Emitted returns how many coincidences have been returned so far.
func (c *Clusterer) Emitted() int { return c.emitted }

// fill makes sure position pos is buffered and reports whether it exists.
func (c *Clusterer) fill(pos int) bool {
	for pos >= c.base+len(c.buf) {
		if c.drained {
			return false
		}
		e, ok := c.src.Next()
		if !ok {
			c.drained = true
			return false
		}
		if c.pulled > 0 && e.Timestamp < c.lastTime {
			panic(fmt.Sprintf("coincidence: merged sequence not sorted at position %d: %d after %d",
				c.pulled, e.Timestamp, c.lastTime))
		}
		c.lastTime = e.Timestamp
		c.pulled++
		c.buf = append(c.buf, e)
	}
	return true
}

func (c *Clusterer) at(pos int) Event { return c.buf[pos-c.base] }

// trim drops buffered events before the current anchor.
func (c *Clusterer) trim() {
	n := c.start - c.base
	if n <= 0 {
		return
	}
	if n >= len(c.buf) {
		c.buf = c.buf[:0]
	} else {
		c.buf = append(c.buf[:0], c.buf[n:]...)
	}
	c.base = c.start
}

// Cluster runs a Clusterer over src to completion.
func Cluster(src Sequence, window int64) []Coincidence {
	c := NewClusterer(src, window)
	var out []Coincidence
	for g := range c.All() {
		out = append(out, g)
	}
	return out
}

// SearchIndices groups a sorted slice of timestamps and returns each
// coincidence as the list of its positions in ts.
func SearchIndices(ts []int64, window int64) [][]int {
	groups := Cluster(&timestampSeq{ts: ts}, window)
	out := make([][]int, 0, len(groups))
	for _, g := range groups {
		out = append(out, g.Indices())
	}
	return out
}

type timestampSeq struct {
	ts  []int64
	pos int
}

func (s *timestampSeq) Next() (Event, bool) {
	if s.pos >= len(s.ts) {
		return Event{}, false
	}
	e := Event{Timestamp: s.ts[s.pos], LocalIndex: uint64(s.pos)}
	s.pos++
	return e, true
}
