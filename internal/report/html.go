package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/coincidence/internal/units"
)

func barChart(title, subtitle, series string, bins []Bin) *charts.Bar {
	x := make([]string, len(bins))
	y := make([]opts.BarData, len(bins))
	for i, b := range bins {
		x[i] = strconv.Itoa(b.Value)
		y[i] = opts.BarData{Value: b.Count}
	}
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries(series, y,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		)
	return bar
}

func hourlyChart(s Summary) *charts.Line {
	x := make([]string, len(s.Hourly))
	y := make([]opts.LineData, len(s.Hourly))
	for i, n := range s.Hourly {
		x[i] = strconv.Itoa(i)
		y[i] = opts.LineData{Value: n}
	}
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Coincidences per hour",
			Subtitle: fmt.Sprintf("%.2f per hour on average", s.RatePerHour),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	line.SetXAxis(x).AddSeries("hourly", y)
	return line
}

// WriteHTML renders the summary as a self-contained chart page.
func WriteHTML(w io.Writer, s Summary) error {
	subtitle := "no coincidences"
	if s.Coincidences > 0 {
		subtitle = fmt.Sprintf("%s to %s", units.FormatExt(s.First), units.FormatExt(s.Last))
	}

	page := components.NewPage()
	page.PageTitle = "Coincidence report"
	page.AddCharts(
		barChart("Coincidence sizes", subtitle, "sizes", s.Sizes),
		barChart("Stations per coincidence", subtitle, "multiplicity", s.Multiplicity),
		hourlyChart(s),
	)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render error: %w", err)
	}
	return nil
}
