package coincidence

import (
	"cmp"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge_ReferenceOrder(t *testing.T) {
	got := Merge(referenceStreams()...)
	assert.Equal(t, referenceEvents, got)
}

func TestMerge_TiesBySourceThenPosition(t *testing.T) {
	got := Merge(
		NewSliceStream(5, []Event{{10, 5, 0}, {10, 5, 1}}),
		NewSliceStream(2, []Event{{10, 2, 0}, {11, 2, 1}}),
		NewSliceStream(9, []Event{{9, 9, 0}}),
	)
	want := []Event{{9, 9, 0}, {10, 2, 0}, {10, 5, 0}, {10, 5, 1}, {11, 2, 1}}
	assert.Equal(t, want, got)
}

func TestMerge_EmptyAndNilStreams(t *testing.T) {
	assert.Empty(t, Merge())
	assert.Empty(t, Merge(nil, NewSliceStream(1, nil)))

	got := Merge(nil, NewSliceStream(1, nil), StreamFromTimestamps(4, []int64{1, 2}))
	assert.Equal(t, []Event{{1, 4, 0}, {2, 4, 1}}, got)
}

func TestMerger_IsLazy(t *testing.T) {
	a := StreamFromTimestamps(0, []int64{1, 4, 9})
	b := StreamFromTimestamps(1, []int64{2, 3, 10})
	m := NewMerger(a, b)

	// only heads are read up front
	assert.Equal(t, 1, a.pos)
	assert.Equal(t, 1, b.pos)

	e, ok := m.Next()
	require.True(t, ok)
	assert.Equal(t, int64(1), e.Timestamp)
	assert.Equal(t, 2, a.pos)
	assert.Equal(t, 1, b.pos)
	assert.Equal(t, 2, m.Active())

	rest := slices.Collect(m.All())
	require.Len(t, rest, 5)
	assert.Equal(t, 6, m.Emitted())
	assert.Equal(t, 0, m.Active())

	_, ok = m.Next()
	assert.False(t, ok)
}

func TestMerger_PanicsOnUnsortedStream(t *testing.T) {
	m := NewMerger(StreamFromTimestamps(3, []int64{10, 5}))
	assert.Panics(t, func() {
		for range m.All() {
		}
	})
}

func TestMerger_PanicsOnForeignSource(t *testing.T) {
	assert.Panics(t, func() {
		NewMerger(NewSliceStream(1, []Event{{0, 2, 0}}))
	})
}

func TestMerge_MatchesStableSort(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	for trial := 0; trial < 50; trial++ {
		var streams []EventStream
		var all []Event
		n := 1 + r.IntN(12)
		for s := 0; s < n; s++ {
			ts := randomTimestamps(r, r.IntN(100))
			st := StreamFromTimestamps(uint32(s), ts)
			all = append(all, st.events...)
			streams = append(streams, st)
		}
		r.Shuffle(len(streams), func(i, j int) { streams[i], streams[j] = streams[j], streams[i] })

		want := slices.Clone(all)
		slices.SortStableFunc(want, func(a, b Event) int {
			if a.Timestamp != b.Timestamp {
				return cmp.Compare(a.Timestamp, b.Timestamp)
			}
			return cmp.Compare(a.SourceID, b.SourceID)
		})
		require.Equal(t, want, Merge(streams...))
	}
}

func TestLimitAndShiftStreams(t *testing.T) {
	s := ShiftStream(LimitStream(StreamFromTimestamps(1, []int64{1, 2, 3, 4}), 2), 100)
	assert.Equal(t, []Event{{101, 1, 0}, {102, 1, 1}}, Merge(s))

	unlimited := LimitStream(StreamFromTimestamps(1, []int64{1, 2}), 0)
	assert.Len(t, Merge(unlimited), 2)
}

func TestRangeStream(t *testing.T) {
	s := RangeStream(StreamFromTimestamps(0, []int64{1, 5, 9, 12, 20}), 5, 12)
	assert.Equal(t, []Event{{5, 0, 1}, {9, 0, 2}}, Merge(s))
}

func TestRangeStream_OpenEndAndNegativeStart(t *testing.T) {
	s := RangeStream(StreamFromTimestamps(0, []int64{-30, -10, 0, 40}), -20, 0)
	assert.Equal(t, []Event{{-10, 0, 1}, {0, 0, 2}, {40, 0, 3}}, Merge(s))
}

func TestQueryContains(t *testing.T) {
	tests := []struct {
		q    Query
		ts   int64
		want bool
	}{
		{Query{Start: 5, End: 12}, 4, false},
		{Query{Start: 5, End: 12}, 5, true},
		{Query{Start: 5, End: 12}, 11, true},
		{Query{Start: 5, End: 12}, 12, false},
		{Query{Start: 5}, 1 << 62, true},
		{Query{Start: -20}, -20, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.q.Contains(tt.ts), "%+v contains %d", tt.q, tt.ts)
	}
}
