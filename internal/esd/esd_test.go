package esd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coincidence/internal/coincidence"
	"github.com/banshee-data/coincidence/internal/testutil"
)

const base = int64(1_451_606_400) * 1_000_000_000

// eventFile renders an event file with the given nanosecond offsets from base.
func eventFile(offsets ...int64) string {
	var b strings.Builder
	b.WriteString("# HiSPARC data for testing\n")
	b.WriteString("# date\ttime\ttimestamp\tnanoseconds\tph1\tph2\n")
	for _, off := range offsets {
		ext := base + off
		fmt.Fprintf(&b, "2016-01-01\t00:00:%02d\t%d\t%d\t120\t87\n",
			ext/1_000_000_000%60, ext/1_000_000_000, ext%1_000_000_000)
	}
	return b.String()
}

func writeReferenceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	ref := testutil.ReferenceStations()
	testutil.WriteFile(t, dir, "0.tsv", eventFile(ref[0]...))
	testutil.WriteFile(t, dir, "1_events.tsv", eventFile(ref[1]...))
	testutil.WriteFile(t, dir, "2.tsv", eventFile(ref[2]...))
	testutil.WriteFile(t, dir, "readme.tsv", "not a station\n")
	testutil.WriteFile(t, dir, "3.txt", eventFile(5))
	return dir
}

func TestStream_ParsesRows(t *testing.T) {
	s := NewStream(501, strings.NewReader(eventFile(0, 999_999_999, 1_000_000_000)))
	var got []coincidence.Event
	for e, ok := s.Next(); ok; e, ok = s.Next() {
		got = append(got, e)
	}
	require.NoError(t, s.Err())
	assert.Equal(t, []coincidence.Event{
		{Timestamp: base, SourceID: 501, LocalIndex: 0},
		{Timestamp: base + 999_999_999, SourceID: 501, LocalIndex: 1},
		{Timestamp: base + 1_000_000_000, SourceID: 501, LocalIndex: 2},
	}, got)
	assert.NoError(t, s.Close())
}

func TestStream_StopsOnBadInput(t *testing.T) {
	t.Run("unsorted", func(t *testing.T) {
		s := NewStream(1, strings.NewReader(eventFile(10, 5)))
		_, ok := s.Next()
		require.True(t, ok)
		_, ok = s.Next()
		assert.False(t, ok)
		assert.ErrorIs(t, s.Err(), ErrUnsorted)
	})

	t.Run("short row", func(t *testing.T) {
		s := NewStream(1, strings.NewReader("2016-01-01\t00:00:00\t1451606400\n"))
		_, ok := s.Next()
		assert.False(t, ok)
		assert.ErrorContains(t, s.Err(), "columns")
	})

	t.Run("bad nanoseconds", func(t *testing.T) {
		s := NewStream(1, strings.NewReader("2016-01-01\t00:00:00\t1451606400\t1000000000\n"))
		_, ok := s.Next()
		assert.False(t, ok)
		assert.ErrorContains(t, s.Err(), "out of range")
	})

	t.Run("empty file", func(t *testing.T) {
		s := NewStream(1, strings.NewReader("# nothing\n"))
		_, ok := s.Next()
		assert.False(t, ok)
		assert.NoError(t, s.Err())
	})
}

func TestDiscover(t *testing.T) {
	dir := writeReferenceDir(t)
	files, err := Discover(dir)
	require.NoError(t, err)
	assert.Equal(t, map[uint32]string{
		0: filepath.Join(dir, "0.tsv"),
		1: filepath.Join(dir, "1_events.tsv"),
		2: filepath.Join(dir, "2.tsv"),
	}, files)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "2_copy.tsv"), []byte(eventFile(1)), 0o644))
	_, err = Discover(dir)
	assert.ErrorContains(t, err, "two event files")
}

func TestProvider_Search(t *testing.T) {
	files, err := Discover(writeReferenceDir(t))
	require.NoError(t, err)

	sink := &coincidence.MemorySink{}
	sum, err := coincidence.Search(context.Background(), &Provider{Files: files}, sink, coincidence.Options{Window: 150})
	require.NoError(t, err)
	assert.Equal(t, 8, sum.Events)

	require.Len(t, sink.Records, 3)
	assert.Equal(t, []int64{base, base + 100, base + 200},
		[]int64{sink.Records[0].Timestamp, sink.Records[1].Timestamp, sink.Records[2].Timestamp})
	assert.Equal(t, []coincidence.MemberRef{{SourceID: 2, LocalIndex: 1}, {SourceID: 0, LocalIndex: 1}, {SourceID: 0, LocalIndex: 2}}, sink.Records[2].Members)
}

func TestProvider_ShiftRangeAndDiagnostics(t *testing.T) {
	dir := writeReferenceDir(t)
	files, err := Discover(dir)
	require.NoError(t, err)
	files[7] = filepath.Join(dir, "missing.tsv")

	var diags []coincidence.Diagnostic
	p := &Provider{Files: files, Shifts: map[uint32]int64{2: -15}}
	streams, err := p.Streams(context.Background(), coincidence.Query{
		Sources: []uint32{2, 7, 9},
		Start:   base + 100,
		Report:  func(d coincidence.Diagnostic) { diags = append(diags, d) },
	})
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, []coincidence.Event{{Timestamp: base + 185, SourceID: 2, LocalIndex: 1}}, coincidence.Merge(streams...))
	closeAll(streams)

	require.Len(t, diags, 2)
	assert.Equal(t, uint32(9), diags[0].SourceID)
	assert.Equal(t, uint32(7), diags[1].SourceID)
	assert.ErrorIs(t, diags[1].Err, os.ErrNotExist)
}

func TestProvider_UnsortedFileFailsSearch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "4.tsv")
	require.NoError(t, os.WriteFile(path, []byte(eventFile(0, 100, 50)), 0o644))

	_, err := coincidence.Search(context.Background(), &Provider{Files: map[uint32]string{4: path}},
		&coincidence.MemorySink{}, coincidence.Options{})
	assert.ErrorIs(t, err, ErrUnsorted)
}

func TestWriter_RoundTrip(t *testing.T) {
	records := []coincidence.Record{
		{ID: 0, Timestamp: base + 500, Size: 2, Span: 80, Sources: []uint32{501, 502},
			Members: []coincidence.MemberRef{{SourceID: 502, LocalIndex: 7}, {SourceID: 501, LocalIndex: 3}}},
		{ID: 1, Timestamp: base + 2_000_000_001, Size: 3, Span: 1999, Sources: []uint32{501},
			Members: []coincidence.MemberRef{{SourceID: 501, LocalIndex: 4}, {SourceID: 501, LocalIndex: 5}, {SourceID: 501, LocalIndex: 6}}},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf)
	for _, r := range records {
		require.NoError(t, w.WriteCoincidence(context.Background(), r))
	}
	require.NoError(t, w.Finish(context.Background(), coincidence.Summary{}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "# id\text_timestamp\ttimestamp\tnanoseconds\tN\tspan_ns\tstations\tmembers", lines[0])
	assert.Equal(t, "0\t1451606400000000500\t1451606400\t500\t2\t80\t501,502\t502:7,501:3", lines[1])

	got, err := ReadCoincidences(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(records, got); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestWriter_EmptyResultHasHeader(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).Finish(context.Background(), coincidence.Summary{}))
	assert.True(t, strings.HasPrefix(buf.String(), "# id\t"))

	got, err := ReadCoincidences(&buf)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadCoincidences_Malformed(t *testing.T) {
	_, err := ReadCoincidences(strings.NewReader("0\t1\t0\t1\t3\t5\t1\t1:0,1:1\n"))
	assert.ErrorContains(t, err, "3 but 2 members")

	_, err = ReadCoincidences(strings.NewReader("0\t1\t0\t1\n"))
	assert.ErrorContains(t, err, "columns")
}

func TestWriteEvents_ReadBack(t *testing.T) {
	events := []coincidence.Event{
		{Timestamp: base + 5, SourceID: 3, LocalIndex: 0},
		{Timestamp: base + 3_000_000_007, SourceID: 3, LocalIndex: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteEvents(&buf, 3, events))
	assert.Contains(t, buf.String(), "2016-01-01\t00:00:03\t1451606403\t7\n")

	got := coincidence.Merge(NewStream(3, &buf))
	assert.Equal(t, events, got)
}

func TestWriteEvents_BeforeEpoch(t *testing.T) {
	events := []coincidence.Event{
		{Timestamp: -1_500_000_000, SourceID: 4, LocalIndex: 0},
		{Timestamp: -1, SourceID: 4, LocalIndex: 1},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteEvents(&buf, 4, events))
	assert.Contains(t, buf.String(), "\t-2\t500000000\n")
	assert.Contains(t, buf.String(), "\t-1\t999999999\n")

	s := NewStream(4, &buf)
	got := coincidence.Merge(s)
	require.NoError(t, s.Err())
	assert.Equal(t, events, got)
}
