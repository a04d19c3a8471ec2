package monitoring

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

func TestMetrics_SearchCallbacks(t *testing.T) {
	m := NewMetrics()
	provider := coincidence.StaticProvider{
		0: {{Timestamp: 0, SourceID: 0}, {Timestamp: 3_000_000_000, SourceID: 0, LocalIndex: 1}},
		1: {{Timestamp: 1, SourceID: 1}, {Timestamp: 3_000_000_001, SourceID: 1, LocalIndex: 1}},
	}
	sink := &coincidence.MemorySink{}

	start := time.Now()
	sum, err := coincidence.Search(context.Background(), provider, m.Sink(sink), coincidence.Options{
		Sources:       []uint32{0, 1},
		ProgressEvery: 1,
		Progress:      m.ObserveProgress,
		Diagnostics:   m.ObserveDiagnostic,
	})
	m.ObserveRun(sum, time.Since(start), err)
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Coincidences))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.Events))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("ok")))
	// four merged events plus the final report
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ProgressCalls))
	assert.InDelta(t, 3.0, testutil.ToFloat64(m.LastTimestamp), 1e-6)

	// the wrapper forwards Finish
	assert.Equal(t, sum, sink.Summary)
}

func TestMetrics_DiagnosticsAndErrors(t *testing.T) {
	m := NewMetrics()
	m.ObserveDiagnostic(coincidence.Diagnostic{SourceID: 501, Err: errors.New("gone")})
	m.ObserveDiagnostic(coincidence.Diagnostic{SourceID: 501, Err: errors.New("gone")})
	m.ObserveRun(coincidence.Summary{}, time.Millisecond, errors.New("boom"))
	m.ObserveRun(coincidence.Summary{Truncated: true}, time.Millisecond, nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Skipped.WithLabelValues("501")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.Skipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("truncated")))
}

func TestMetrics_WriteTextfile(t *testing.T) {
	m := NewMetrics()
	m.Coincidences.Add(3)

	path := filepath.Join(t.TempDir(), "coincidence.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "coincidence_coincidences_total 3")
}
