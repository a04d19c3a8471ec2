package coincidence

import (
	"fmt"
	"slices"
)

// MemberRef points back at one event in its station's storage.
type MemberRef struct {
	SourceID   uint32 `json:"station"`
	LocalIndex uint64 `json:"event"`
}

// Record is the storage-facing form of a Coincidence.
type Record struct {
	ID        int64       `json:"id"`
	Timestamp int64       `json:"ext_timestamp"` // anchor timestamp
	Size      int         `json:"n"`
	Span      int64       `json:"span_ns"`  // last member minus anchor
	Sources   []uint32    `json:"stations"` // distinct sources, ascending
	Members   []MemberRef `json:"members"`  // merge order
}

// StationCount returns the number of distinct sources in the group.
func (r Record) StationCount() int { return len(r.Sources) }

// MemberRows returns the record's rows of the flat member lookup table, one per
// member in merge order.
func (r Record) MemberRows() []MemberRow {
	rows := make([]MemberRow, len(r.Members))
	for i, m := range r.Members {
		rows[i] = MemberRow{CoincidenceID: r.ID, Ordinal: i, SourceID: m.SourceID, LocalIndex: m.LocalIndex}
	}
	return rows
}

// MemberRow is one row of the flat member lookup table.
type MemberRow struct {
	CoincidenceID int64
	Ordinal       int
	SourceID      uint32
	LocalIndex    uint64
}

// IndexBuilder assigns sequential ids to coincidences of one run and builds
// their storage records. Ids start at zero and follow emission order, so a
// single forward pass over the output produces the persisted tables.
type IndexBuilder struct {
	next    int64
	rows    []MemberRow
	keepRow bool
}

// NewIndexBuilder returns a builder. When keepRows is true the builder also
// accumulates the flat member table returned by Rows.
func NewIndexBuilder(keepRows bool) *IndexBuilder {
	return &IndexBuilder{keepRow: keepRows}
}

// Build converts c into a Record. A coincidence with fewer than two members
// cannot come out of a Clusterer and is treated as an invariant failure.
func (b *IndexBuilder) Build(c Coincidence) Record {
	if c.Size() < 2 || len(c.Events) != c.Size() {
		panic(fmt.Sprintf("coincidence: malformed group [%d, %d) with %d events", c.Start, c.End, len(c.Events)))
	}

	anchor := c.Anchor()
	r := Record{
		ID:        b.next,
		Timestamp: anchor.Timestamp,
		Size:      c.Size(),
		Span:      c.Events[len(c.Events)-1].Timestamp - anchor.Timestamp,
		Members:   make([]MemberRef, len(c.Events)),
	}
	for i, e := range c.Events {
		r.Members[i] = MemberRef{SourceID: e.SourceID, LocalIndex: e.LocalIndex}
		if at, found := slices.BinarySearch(r.Sources, e.SourceID); !found {
			r.Sources = slices.Insert(r.Sources, at, e.SourceID)
		}
	}
	if b.keepRow {
		b.rows = append(b.rows, r.MemberRows()...)
	}
	b.next++
	return r
}

// Built returns how many records have been produced.
func (b *IndexBuilder) Built() int64 { return b.next }

// Rows returns the member lookup table accumulated so far. It is meant for
// in-memory searches; storage sinks write each record's MemberRows as it
// arrives instead.
func (b *IndexBuilder) Rows() []MemberRow { return b.rows }

// CIndex returns the coincidence index of a set of records: for each record,
// the [source, local] pairs of its members.
func CIndex(records []Record) [][][2]uint64 {
	out := make([][][2]uint64, len(records))
	for i, r := range records {
		pairs := make([][2]uint64, len(r.Members))
		for j, m := range r.Members {
			pairs[j] = [2]uint64{uint64(m.SourceID), m.LocalIndex}
		}
		out[i] = pairs
	}
	return out
}

// GroupLookup maps every member event back to the ids of the coincidences it
// belongs to. A boundary event shared by two adjacent groups lists both.
func GroupLookup(rows []MemberRow) map[MemberRef][]int64 {
	out := make(map[MemberRef][]int64, len(rows))
	for _, row := range rows {
		k := MemberRef{SourceID: row.SourceID, LocalIndex: row.LocalIndex}
		out[k] = append(out[k], row.CoincidenceID)
	}
	return out
}
