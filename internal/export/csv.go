package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"codeberg.org/mutker/specsweep/internal/sweep"
)

func writeCSV(ds *sweep.Dataset, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{headerWavelength, headerAmplitude}); err != nil {
		return err
	}

	for _, s := range ds.Samples() {
		record := []string{
			strconv.FormatFloat(s.Wavelength, 'g', -1, 64),
			strconv.FormatFloat(s.Amplitude, 'g', -1, 64),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()

	return cw.Error()
}
