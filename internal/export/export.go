// Package export writes finished sweep datasets to files: an xlsx workbook
// with an embedded scatter chart, a PNG snapshot of the plot, or CSV.
package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/hashicorp/go-multierror"
)

// Format is an export file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatPNG  Format = "png"
	FormatCSV  Format = "csv"
)

// Formats lists the supported formats.
var Formats = []Format{FormatXLSX, FormatPNG, FormatCSV}

const (
	headerWavelength = "Wavelength"
	headerAmplitude  = "Amplitude"
	chartTitle       = "Emission spectrum"
	wavelengthTitle  = "Wavelength, nm"
	amplitudeTitle   = "Amplitude, a.u."

	defaultFilePerm = 0o644
	defaultDirPerm  = 0o755
)

// ParseFormat validates a format name, accepting a leading dot.
func ParseFormat(name string) (Format, error) {
	f := Format(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "."))
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}

	return "", errors.New().WithData(errors.ErrUnsupportedFormat, name)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPNG:
		return "image/png"
	default:
		return "text/csv"
	}
}

// Exporter consumes a finished dataset.
type Exporter interface {
	Export(ctx context.Context, ds *sweep.Dataset, format Format, dest string) error
}

// Service is the file-based Exporter.
type Service struct {
	log logger.Logger
}

// NewService returns an exporter logging through log.
func NewService(log logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}

	return &Service{log: log}
}

// FileName encodes the sweep range, step and export date, e.g.
// Spectrum_range_400_410_step_5_16_10_2026.xlsx.
func FileName(ds *sweep.Dataset, format Format, date time.Time) string {
	ax := ds.Axis()
	return fmt.Sprintf("Spectrum_range_%s_%s_step_%s_%s.%s",
		formatNumber(ax.Start()), formatNumber(ax.Stop()), formatNumber(ax.Step()),
		date.Format("02_01_2006"), format)
}

// WriteTo encodes ds in the given format.
func (s *Service) WriteTo(ctx context.Context, ds *sweep.Dataset, format Format, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch format {
	case FormatXLSX:
		return writeXLSX(ds, w)
	case FormatPNG:
		return writePNG(ds, w)
	case FormatCSV:
		return writeCSV(ds, w)
	default:
		return errors.New().WithData(errors.ErrUnsupportedFormat, string(format))
	}
}

// Export writes ds to dest. The file is assembled next to dest and renamed
// into place, so a failed export leaves an existing file at dest untouched
// and the dataset unchanged for a retry.
func (s *Service) Export(ctx context.Context, ds *sweep.Dataset, format Format, dest string) (err error) {
	errFactory := errors.New()
	failure := func(phase string, cause error) error {
		return errFactory.Wrap(errors.ErrExportFailed, fmt.Errorf("%s %s: %w", phase, dest, cause))
	}

	if ds == nil {
		return errFactory.New(errors.ErrNoDataset)
	}

	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return failure("create directory for", err)
	}

	output, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*.tmp")
	if err != nil {
		return failure("open", err)
	}
	tmp := output.Name()

	defer func() {
		err = combineErrors(err, output.Close())
		if err == nil {
			err = os.Chmod(tmp, defaultFilePerm)
		}
		if err == nil {
			err = os.Rename(tmp, dest)
		}
		if err != nil {
			_ = os.Remove(tmp)
			if errors.CodeOf(err) != errors.ErrExportFailed {
				err = failure("write", err)
			}
			return
		}
		s.log.Info().
			Str("path", dest).
			Str("format", string(format)).
			Int("samples", ds.Len()).
			Msg("Dataset exported")
	}()

	return s.WriteTo(ctx, ds, format, output)
}

// ExportAll writes ds once per format into dir using FileName. Every format
// is attempted; failures are combined.
func (s *Service) ExportAll(ctx context.Context, ds *sweep.Dataset, formats []Format, dir string, date time.Time) ([]string, error) {
	var (
		paths []string
		errs  error
	)
	for _, format := range formats {
		path := filepath.Join(dir, FileName(ds, format, date))
		if err := s.Export(ctx, ds, format, path); err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		paths = append(paths, path)
	}

	return paths, errs
}

func combineErrors(errs ...error) (err error) {
	for _, e := range errs {
		switch {
		case e == nil:
			// ignore
		case err == nil:
			err = e
		default:
			err = multierror.Append(err, e)
		}
	}

	return err
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
