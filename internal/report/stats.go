// Package report summarises the coincidences of a run and renders the
// summary as text, a PNG histogram or an HTML page.
package report

import (
	"maps"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/coincidence/internal/coincidence"
)

const nsPerHour = 3600 * 1e9

// Bin is one bar of a histogram.
type Bin struct {
	Value int `json:"value"`
	Count int `json:"count"`
}

// Summary describes a set of coincidences.
type Summary struct {
	Coincidences int     `json:"coincidences"`
	Events       int     `json:"events"` // member count, boundary events counted twice
	First        int64   `json:"first_ext_timestamp"`
	Last         int64   `json:"last_ext_timestamp"`
	Sizes        []Bin   `json:"sizes"`        // events per coincidence
	Multiplicity []Bin   `json:"multiplicity"` // distinct stations per coincidence
	SpanMean     float64 `json:"span_mean_ns"`
	SpanStdDev   float64 `json:"span_stddev_ns"`
	SpanMedian   float64 `json:"span_median_ns"`
	RatePerHour  float64 `json:"rate_per_hour"`
	Hourly       []int   `json:"hourly"` // coincidences per hour from First
}

// Summarise computes a Summary. records must be in emission order.
func Summarise(records []coincidence.Record) Summary {
	s := Summary{Coincidences: len(records)}
	if len(records) == 0 {
		return s
	}
	s.First = records[0].Timestamp
	s.Last = records[len(records)-1].Timestamp

	sizes := map[int]int{}
	mult := map[int]int{}
	spans := make([]float64, len(records))
	hours := int((s.Last-s.First)/int64(nsPerHour)) + 1
	s.Hourly = make([]int, hours)
	for i, r := range records {
		s.Events += r.Size
		sizes[r.Size]++
		mult[r.StationCount()]++
		spans[i] = float64(r.Span)
		s.Hourly[int((r.Timestamp-s.First)/int64(nsPerHour))]++
	}
	s.Sizes = bins(sizes)
	s.Multiplicity = bins(mult)

	s.SpanMean, s.SpanStdDev = stat.MeanStdDev(spans, nil)
	if len(spans) < 2 {
		s.SpanStdDev = 0
	}
	slices.Sort(spans)
	s.SpanMedian = stat.Quantile(0.5, stat.Empirical, spans, nil)

	if d := s.Last - s.First; d > 0 {
		s.RatePerHour = float64(len(records)) / (float64(d) / nsPerHour)
	}
	return s
}

func bins(m map[int]int) []Bin {
	out := make([]Bin, 0, len(m))
	for _, v := range slices.Sorted(maps.Keys(m)) {
		out = append(out, Bin{Value: v, Count: m[v]})
	}
	return out
}
