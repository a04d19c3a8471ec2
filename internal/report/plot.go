package report

import (
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// sizePlot builds the coincidence size histogram.
func sizePlot(s Summary) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Coincidence sizes (%d groups)", s.Coincidences)
	p.X.Label.Text = "Events per coincidence"
	p.Y.Label.Text = "Count"

	if len(s.Sizes) == 0 {
		return p, nil
	}
	values := make(plotter.Values, len(s.Sizes))
	names := make([]string, len(s.Sizes))
	for i, b := range s.Sizes {
		values[i] = float64(b.Count)
		names[i] = strconv.Itoa(b.Value)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(20))
	if err != nil {
		return nil, fmt.Errorf("failed to create bar chart: %w", err)
	}
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars)
	p.NominalX(names...)
	return p, nil
}

// WritePNG renders the size histogram as a PNG image.
func WritePNG(w io.Writer, s Summary) error {
	p, err := sizePlot(s)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePNG writes the size histogram to path.
func SavePNG(path string, s Summary) error {
	p, err := sizePlot(s)
	if err != nil {
		return err
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
