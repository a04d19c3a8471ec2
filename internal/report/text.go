package report

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/banshee-data/coincidence/internal/units"
)

// WriteText prints the summary as aligned columns.
func WriteText(w io.Writer, s Summary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "coincidences\t%d\n", s.Coincidences)
	if s.Coincidences == 0 {
		return tw.Flush()
	}
	fmt.Fprintf(tw, "member events\t%d\n", s.Events)
	fmt.Fprintf(tw, "first\t%s\n", units.FormatExt(s.First))
	fmt.Fprintf(tw, "last\t%s\n", units.FormatExt(s.Last))
	fmt.Fprintf(tw, "rate per hour\t%.3f\n", s.RatePerHour)
	fmt.Fprintf(tw, "span mean / stddev / median (ns)\t%.1f / %.1f / %.1f\n", s.SpanMean, s.SpanStdDev, s.SpanMedian)
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "SIZE\tCOUNT")
	for _, b := range s.Sizes {
		fmt.Fprintf(tw, "%d\t%d\n", b.Value, b.Count)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "STATIONS\tCOUNT")
	for _, b := range s.Multiplicity {
		fmt.Fprintf(tw, "%d\t%d\n", b.Value, b.Count)
	}
	return tw.Flush()
}
