package export

import (
	"image/color"
	"io"
	"math"

	"codeberg.org/mutker/specsweep/internal/sweep"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	imageWidth  = 8 * vg.Inch
	imageHeight = 5 * vg.Inch
)

// buildPlot draws the dataset as a line over the sweep's wavelength range.
func buildPlot(ds *sweep.Dataset) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = chartTitle
	p.X.Label.Text = wavelengthTitle
	p.Y.Label.Text = amplitudeTitle
	p.Add(plotter.NewGrid())

	samples := ds.Samples()
	if len(samples) > 0 {
		xys := make(plotter.XYs, len(samples))
		for i, s := range samples {
			xys[i].X = s.Wavelength
			xys[i].Y = s.Amplitude
		}

		line, err := plotter.NewLine(xys)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{B: 255, A: 255}
		p.Add(line)
	}
	p.Y.Min, p.Y.Max = yRange(ds)

	ax := ds.Axis()
	p.X.Min = ax.Start()
	p.X.Max = ax.Stop()
	if n := len(samples); n > 0 && samples[n-1].Wavelength > p.X.Max {
		p.X.Max = samples[n-1].Wavelength
	}
	if p.X.Max == p.X.Min {
		p.X.Min -= ax.Step()
		p.X.Max += ax.Step()
	}

	return p, nil
}

// yRange fits the vertical axis to the data with a margin of a tenth of the
// span on either side. An empty dataset gets 0..1.
func yRange(ds *sweep.Dataset) (lo, hi float64) {
	b, ok := ds.AmplitudeBounds()
	if !ok {
		return 0, 1
	}

	pad := 0.1 * (b.Max - b.Min)
	if pad == 0 {
		pad = max(0.1*math.Abs(b.Max), 1e-3)
	}

	return b.Min - pad, b.Max + pad
}

func writePNG(ds *sweep.Dataset, w io.Writer) error {
	p, err := buildPlot(ds)
	if err != nil {
		return err
	}

	wt, err := p.WriterTo(imageWidth, imageHeight, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)

	return err
}
