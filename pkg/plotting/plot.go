package plotting

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"lst-platform/internal/models"
)

// ErrEmptySeries is returned when there is nothing to draw
var ErrEmptySeries = errors.New("cannot plot an empty series")

// Labels are the texts of a figure
type Labels struct {
	Title      string
	XLabel     string
	YLabel     string
	DataLegend string
	FitLegend  string
}

// PNGRenderer draws observations and a fitted curve into an image file.
// The format follows the file extension; .png is the expected one.
type PNGRenderer struct {
	YMin       float64
	YMax       float64
	Width      vg.Length
	Height     vg.Length
	GridPoints int
	TimeFormat string
}

// NewPNGRenderer creates a 14x6 inch renderer with a fixed y range
func NewPNGRenderer(yMin, yMax float64) *PNGRenderer {
	return &PNGRenderer{
		YMin:       yMin,
		YMax:       yMax,
		Width:      14 * vg.Inch,
		Height:     6 * vg.Inch,
		GridPoints: 1000,
		TimeFormat: "2006",
	}
}

// Render scatters band of series against time and, when eval is non-nil,
// overlays eval sampled on an even grid over the series time span. eval
// takes milliseconds since the Unix epoch.
func (r *PNGRenderer) Render(series *models.TimeSeries, band string, eval func(t float64) float64, labels Labels, path string) error {
	if series.Len() == 0 {
		return ErrEmptySeries
	}
	if !series.HasBand(band) {
		return fmt.Errorf("%w: %s", models.ErrUnknownBand, band)
	}

	p := plot.New()
	p.Title.Text = labels.Title
	p.X.Label.Text = labels.XLabel
	p.Y.Label.Text = labels.YLabel
	p.X.Tick.Marker = plot.TimeTicks{Format: r.TimeFormat, Time: plot.UTCUnixTime}
	p.Add(plotter.NewGrid())

	observed := make(plotter.XYs, series.Len())
	values := series.Values(band)
	for i, t := range series.Times() {
		observed[i].X = msToSeconds(t)
		observed[i].Y = values[i]
	}

	scatter, err := plotter.NewScatter(observed)
	if err != nil {
		return fmt.Errorf("failed to build scatter: %w", err)
	}
	scatter.GlyphStyle.Color = color.NRGBA{A: 51}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(2)
	p.Add(scatter)
	if labels.DataLegend != "" {
		p.Legend.Add(labels.DataLegend, scatter)
	}

	if eval != nil {
		first, last, _ := series.TimeRange()
		curve := fittedCurve(eval, float64(first), float64(last), r.GridPoints)

		line, err := plotter.NewLine(curve)
		if err != nil {
			return fmt.Errorf("failed to build fitted curve: %w", err)
		}
		line.LineStyle.Color = color.Black
		line.LineStyle.Width = vg.Points(2.5)
		p.Add(line)
		if labels.FitLegend != "" {
			p.Legend.Add(labels.FitLegend, line)
		}
	}

	p.Legend.Top = false
	p.Legend.Left = false

	// Fixed after Add, which widens the axes to the data.
	p.Y.Min = r.YMin
	p.Y.Max = r.YMax

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create plot directory: %w", err)
		}
	}
	if err := p.Save(r.Width, r.Height, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}

// fittedCurve samples eval at n evenly spaced times in [first, last] ms.
func fittedCurve(eval func(float64) float64, first, last float64, n int) plotter.XYs {
	if n < 2 || first == last {
		n = 2
	}
	curve := make(plotter.XYs, n)
	step := (last - first) / float64(n-1)
	for i := range curve {
		t := first + step*float64(i)
		if i == n-1 {
			t = last
		}
		curve[i].X = msToSeconds(t)
		curve[i].Y = eval(t)
	}
	return curve
}

func msToSeconds(ms float64) float64 {
	return ms / 1000
}
