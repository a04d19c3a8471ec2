package coincidence

import (
	"container/heap"
	"fmt"
	"iter"
)

// cursor tracks the head of one input stream.
type cursor struct {
	stream EventStream
	head   Event
	pos    uint64 // position of head within its stream
	prev   int64  // timestamp of the previous head, for the ordering check
}

// Merger performs a lazy k-way merge of event streams into one sequence ordered
// by timestamp, then source id, then position within the source. Only the head
// event of each stream is held in memory.
type Merger struct {
	cursors []cursor // arena indexed by slot (input order)
	heads   headHeap
	emitted int
}

// NewMerger primes the merge with the first event of every stream. Streams that
// are nil or empty contribute nothing.
func NewMerger(streams ...EventStream) *Merger {
	m := &Merger{cursors: make([]cursor, 0, len(streams))}
	for _, s := range streams {
		if s == nil {
			continue
		}
		e, ok := s.Next()
		if !ok {
			continue
		}
		checkSource(s, e)
		m.cursors = append(m.cursors, cursor{stream: s, head: e, prev: e.Timestamp})
	}
	m.heads = headHeap{cursors: m.cursors, slots: make([]int, len(m.cursors))}
	for i := range m.cursors {
		m.heads.slots[i] = i
	}
	heap.Init(&m.heads)
	return m
}

// Next returns the next event in merge order.
func (m *Merger) Next() (Event, bool) {
	if m.heads.Len() == 0 {
		return Event{}, false
	}
	slot := m.heads.slots[0]
	c := &m.cursors[slot]
	out := c.head

	e, ok := c.stream.Next()
	if ok {
		if e.Timestamp < c.prev {
			panic(fmt.Sprintf("coincidence: stream for source %d is not sorted: %d after %d at position %d",
				c.stream.SourceID(), e.Timestamp, c.prev, c.pos+1))
		}
		checkSource(c.stream, e)
		c.head = e
		c.prev = e.Timestamp
		c.pos++
		heap.Fix(&m.heads, 0)
	} else {
		c.stream = nil
		heap.Pop(&m.heads)
	}
	m.emitted++
	return out, true
}

// Emitted returns how many events have been produced so far.
func (m *Merger) Emitted() int { return m.emitted }

// Active returns the number of streams that still have events.
func (m *Merger) Active() int { return m.heads.Len() }

// All returns the remaining merged events as an iterator. Stopping the range
// loop early leaves the merger positioned after the last yielded event.
func (m *Merger) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for {
			e, ok := m.Next()
			if !ok || !yield(e) {
				return
			}
		}
	}
}

// Merge drains streams into a slice. It is meant for small inputs and tests;
// large searches should pull from a Merger directly.
func Merge(streams ...EventStream) []Event {
	m := NewMerger(streams...)
	var out []Event
	for e := range m.All() {
		out = append(out, e)
	}
	return out
}

func checkSource(s EventStream, e Event) {
	if e.SourceID != s.SourceID() {
		panic(fmt.Sprintf("coincidence: stream for source %d yielded event of source %d", s.SourceID(), e.SourceID))
	}
}

// headHeap orders stream slots by their head event.
type headHeap struct {
	cursors []cursor
	slots   []int
}

func (h *headHeap) Len() int { return len(h.slots) }

func (h *headHeap) Less(i, j int) bool {
	a, b := &h.cursors[h.slots[i]], &h.cursors[h.slots[j]]
	if a.head.Timestamp != b.head.Timestamp {
		return a.head.Timestamp < b.head.Timestamp
	}
	if a.head.SourceID != b.head.SourceID {
		return a.head.SourceID < b.head.SourceID
	}
	// One head per stream, so position within a source is already in order.
	return h.slots[i] < h.slots[j]
}

func (h *headHeap) Swap(i, j int) { h.slots[i], h.slots[j] = h.slots[j], h.slots[i] }

func (h *headHeap) Push(x any) { h.slots = append(h.slots, x.(int)) }

func (h *headHeap) Pop() any {
	n := len(h.slots)
	s := h.slots[n-1]
	h.slots = h.slots[:n-1]
	return s
}
