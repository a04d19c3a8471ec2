package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

const hour = int64(3600) * 1_000_000_000

func referenceRecords() []coincidence.Record {
	return []coincidence.Record{
		{ID: 0, Timestamp: 0, Size: 5, Span: 100, Sources: []uint32{0, 1, 2}},
		{ID: 1, Timestamp: 100, Size: 2, Span: 100, Sources: []uint32{1, 2}},
		{ID: 2, Timestamp: 200, Size: 3, Span: 51, Sources: []uint32{0, 2}},
	}
}

func TestSummarise(t *testing.T) {
	s := Summarise(referenceRecords())

	assert.Equal(t, 3, s.Coincidences)
	assert.Equal(t, 10, s.Events)
	assert.Equal(t, int64(0), s.First)
	assert.Equal(t, int64(200), s.Last)
	if diff := cmp.Diff([]Bin{{2, 1}, {3, 1}, {5, 1}}, s.Sizes); diff != "" {
		t.Errorf("sizes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]Bin{{2, 2}, {3, 1}}, s.Multiplicity); diff != "" {
		t.Errorf("multiplicity mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 251.0/3, s.SpanMean, 1e-9)
	assert.InDelta(t, 28.2902, s.SpanStdDev, 1e-3)
	assert.Equal(t, 100.0, s.SpanMedian)
	assert.Equal(t, []int{3}, s.Hourly)
}

func TestSummarise_Rate(t *testing.T) {
	s := Summarise([]coincidence.Record{
		{Timestamp: 0, Size: 2, Sources: []uint32{1, 2}},
		{Timestamp: hour / 2, Size: 2, Sources: []uint32{1, 2}},
		{Timestamp: 5 * hour / 2, Size: 2, Sources: []uint32{1, 2}},
	})
	assert.InDelta(t, 1.2, s.RatePerHour, 1e-9)
	assert.Equal(t, []int{2, 0, 1}, s.Hourly)
	assert.Zero(t, s.SpanStdDev)
}

func TestSummarise_EdgeCases(t *testing.T) {
	assert.Equal(t, Summary{}, Summarise(nil))

	one := Summarise([]coincidence.Record{{Timestamp: 7, Size: 2, Span: 4, Sources: []uint32{1}}})
	assert.Equal(t, 1, one.Coincidences)
	assert.Zero(t, one.SpanStdDev)
	assert.Zero(t, one.RatePerHour)
	assert.Equal(t, 4.0, one.SpanMedian)
}

func TestWriteText(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, Summarise(referenceRecords())))
	out := buf.String()
	assert.Regexp(t, `coincidences\s+3\n`, out)
	assert.Contains(t, out, "1970-01-01T00:00:00.0000002Z")
	assert.Contains(t, out, "STATIONS")

	buf.Reset()
	require.NoError(t, WriteText(&buf, Summary{}))
	assert.Equal(t, "coincidences  0\n", buf.String())
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, Summarise(referenceRecords())))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG")))

	path := filepath.Join(t.TempDir(), "sizes.png")
	require.NoError(t, SavePNG(path, Summary{}))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestWriteHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, Summarise(referenceRecords())))
	out := buf.String()
	assert.True(t, strings.Contains(out, "<html"), "expected an html document")
	assert.Contains(t, out, "Coincidence sizes")
	assert.Contains(t, out, "Stations per coincidence")
}
