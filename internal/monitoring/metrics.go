package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

const namespace = "coincidence"

// Metrics collects search counters on a private registry, so a run can dump
// exactly its own numbers with WriteTextfile.
type Metrics struct {
	Registry *prometheus.Registry

	Events        prometheus.Counter
	Coincidences  prometheus.Counter
	Skipped       *prometheus.CounterVec
	Runs          *prometheus.CounterVec
	GroupSize     prometheus.Histogram
	Stations      prometheus.Histogram
	RunDuration   prometheus.Histogram
	LastTimestamp prometheus.Gauge
	ProgressCalls prometheus.Counter
}

// NewMetrics registers a fresh set of collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		Events: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_merged_total",
			Help:      "Total number of station events merged",
		}),
		Coincidences: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coincidences_total",
			Help:      "Total number of coincidences written",
		}),
		Skipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sources_skipped_total",
			Help:      "Total number of sources left out of a search",
		}, []string{"station"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of searches by result",
		}, []string{"result"}),
		GroupSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_size",
			Help:      "Number of events per coincidence",
			Buckets:   prometheus.LinearBuckets(2, 1, 9),
		}),
		Stations: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "group_stations",
			Help:      "Number of distinct stations per coincidence",
			Buckets:   prometheus.LinearBuckets(1, 1, 8),
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a search",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		LastTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_timestamp_seconds",
			Help:      "Most recent merged event time",
		}),
		ProgressCalls: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_reports_total",
			Help:      "Total number of progress reports received",
		}),
	}
}

// ObserveProgress is a coincidence.Options.Progress callback.
func (m *Metrics) ObserveProgress(p coincidence.Progress) {
	m.ProgressCalls.Inc()
	m.LastTimestamp.Set(float64(p.Timestamp) / 1e9)
}

// ObserveDiagnostic is a coincidence.Options.Diagnostics callback.
func (m *Metrics) ObserveDiagnostic(d coincidence.Diagnostic) {
	m.Skipped.WithLabelValues(strconv.FormatUint(uint64(d.SourceID), 10)).Inc()
}

// ObserveRun records the outcome of one search.
func (m *Metrics) ObserveRun(sum coincidence.Summary, elapsed time.Duration, err error) {
	m.RunDuration.Observe(elapsed.Seconds())
	m.Events.Add(float64(sum.Events))
	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case sum.Truncated:
		result = "truncated"
	}
	m.Runs.WithLabelValues(result).Inc()
}

// Sink wraps next so every written record is counted. The wrapper forwards
// Finish when next implements it.
func (m *Metrics) Sink(next coincidence.Sink) coincidence.Sink {
	return &metricsSink{m: m, next: next}
}

type metricsSink struct {
	m    *Metrics
	next coincidence.Sink
}

func (s *metricsSink) WriteCoincidence(ctx context.Context, r coincidence.Record) error {
	if err := s.next.WriteCoincidence(ctx, r); err != nil {
		return err
	}
	s.m.Coincidences.Inc()
	s.m.GroupSize.Observe(float64(r.Size))
	s.m.Stations.Observe(float64(r.StationCount()))
	return nil
}

func (s *metricsSink) Finish(ctx context.Context, sum coincidence.Summary) error {
	if f, ok := s.next.(coincidence.Finisher); ok {
		return f.Finish(ctx, sum)
	}
	return nil
}

// WriteTextfile writes the registry in the Prometheus text format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
