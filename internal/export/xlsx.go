package export

import (
	"fmt"
	"io"

	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/xuri/excelize/v2"
)

const (
	sheetName   = "Results"
	chartAnchor = "D2"
)

func writeXLSX(ds *sweep.Dataset, w io.Writer) (err error) {
	f := excelize.NewFile()
	defer func() {
		err = combineErrors(err, f.Close())
	}()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return err
	}

	if err := f.SetSheetRow(sheetName, "A1", &[]any{headerWavelength, headerAmplitude}); err != nil {
		return err
	}

	samples := ds.Samples()
	for i, s := range samples {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &[]any{s.Wavelength, s.Amplitude}); err != nil {
			return err
		}
	}

	if len(samples) > 0 {
		last := len(samples) + 1
		if err := f.AddChart(sheetName, chartAnchor, &excelize.Chart{
			Type: excelize.Scatter,
			Series: []excelize.ChartSeries{{
				Name:       fmt.Sprintf("%s!$B$1", sheetName),
				Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetName, last),
				Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheetName, last),
			}},
			Title:  []excelize.RichTextRun{{Text: chartTitle}},
			XAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: wavelengthTitle}}},
			YAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: amplitudeTitle}}},
			Legend: excelize.ChartLegend{Position: "none"},
		}); err != nil {
			return err
		}
	}

	return f.Write(w)
}
