package export_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/export"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func testDataset(t *testing.T) *sweep.Dataset {
	t.Helper()
	ax, err := axis.New(400, 410, 5)
	require.NoError(t, err)

	started := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	return sweep.NewDataset(ax, sweep.Channel1, []sweep.Sample{
		{Wavelength: 400, Amplitude: 0.1},
		{Wavelength: 405, Amplitude: 0.35},
		{Wavelength: 410, Amplitude: 0.2},
	}, started, started.Add(time.Minute), false)
}

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Results")
	require.NoError(t, err)
	return rows
}

func TestFileName(t *testing.T) {
	ds := testDataset(t)
	date := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, "Spectrum_range_400_410_step_5_16_10_2026.xlsx", export.FileName(ds, export.FormatXLSX, date))
	assert.Equal(t, "Spectrum_range_400_410_step_5_16_10_2026.png", export.FileName(ds, export.FormatPNG, date))

	ax, err := axis.New(350.5, 351, 0.25)
	require.NoError(t, err)
	ds = sweep.NewDataset(ax, sweep.Channel1, nil, date, date, false)
	assert.Equal(t, "Spectrum_range_350.5_351_step_0.25_16_10_2026.csv", export.FileName(ds, export.FormatCSV, date))
}

func TestExportXLSXTwiceIsIdentical(t *testing.T) {
	ds := testDataset(t)
	svc := export.NewService(nil)
	dir := t.TempDir()

	first := filepath.Join(dir, "a", "first.xlsx")
	second := filepath.Join(dir, "b", "second.xlsx")
	require.NoError(t, svc.Export(context.Background(), ds, export.FormatXLSX, first))
	require.NoError(t, svc.Export(context.Background(), ds, export.FormatXLSX, second))

	want := [][]string{
		{"Wavelength", "Amplitude"},
		{"400", "0.1"},
		{"405", "0.35"},
		{"410", "0.2"},
	}
	assert.Equal(t, want, readRows(t, first))
	assert.Equal(t, readRows(t, first), readRows(t, second))
}

func TestExportEmptyDatasetHasHeaderOnly(t *testing.T) {
	ax, err := axis.New(400, 410, 5)
	require.NoError(t, err)
	ds := sweep.NewDataset(ax, sweep.Channel1, nil, time.Now(), time.Now(), true)

	path := filepath.Join(t.TempDir(), "empty.xlsx")
	require.NoError(t, export.NewService(nil).Export(context.Background(), ds, export.FormatXLSX, path))
	assert.Equal(t, [][]string{{"Wavelength", "Amplitude"}}, readRows(t, path))
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.NewService(nil).WriteTo(context.Background(), testDataset(t), export.FormatCSV, &buf))
	assert.Equal(t, "Wavelength,Amplitude\n400,0.1\n405,0.35\n410,0.2\n", buf.String())
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.NewService(nil).WriteTo(context.Background(), testDataset(t), export.FormatPNG, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")))
}

func TestExportFailureKeepsDataset(t *testing.T) {
	ds := testDataset(t)
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	err := export.NewService(nil).Export(context.Background(), ds, export.FormatCSV, filepath.Join(blocker, "out.csv"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrExportFailed, errors.CodeOf(err))
	assert.Equal(t, 3, ds.Len())

	retry := filepath.Join(dir, "out.csv")
	require.NoError(t, export.NewService(nil).Export(context.Background(), ds, export.FormatCSV, retry))
}

func TestFailedReexportKeepsPreviousFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	svc := export.NewService(nil)

	require.NoError(t, svc.Export(context.Background(), testDataset(t), export.FormatCSV, path))
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	err = svc.Export(context.Background(), testDataset(t), export.Format("pdf"), path)
	require.Error(t, err)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, good, after)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary file is left behind")
}

func TestUnsupportedFormat(t *testing.T) {
	_, err := export.ParseFormat("pdf")
	require.Error(t, err)
	assert.Equal(t, errors.ErrUnsupportedFormat, errors.CodeOf(err))

	f, err := export.ParseFormat(".XLSX")
	require.NoError(t, err)
	assert.Equal(t, export.FormatXLSX, f)

	path := filepath.Join(t.TempDir(), "out.pdf")
	err = export.NewService(nil).Export(context.Background(), testDataset(t), export.Format("pdf"), path)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrUnsupportedFormat))
	assert.NoFileExists(t, path)
}

func TestExportAll(t *testing.T) {
	dir := t.TempDir()
	date := time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

	paths, err := export.NewService(nil).ExportAll(context.Background(), testDataset(t), export.Formats, dir, date)
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}
