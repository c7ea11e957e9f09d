package history_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/history"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) history.Config {
	t.Helper()
	dir := t.TempDir()
	return history.Config{
		DBPath:    filepath.Join(dir, "history.db"),
		BackupDir: filepath.Join(dir, "backups"),
		Enabled:   true,
	}
}

func testDataset(t *testing.T, cancelled bool) *sweep.Dataset {
	t.Helper()
	ax, err := axis.New(400, 410, 5)
	require.NoError(t, err)
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return sweep.NewDataset(ax, sweep.Channel2, []sweep.Sample{
		{Wavelength: 400, Amplitude: 0.25},
		{Wavelength: 410, Amplitude: 1.5},
	}, started, started.Add(3*time.Second), cancelled)
}

func TestRecordAndLoad(t *testing.T) {
	ctx := context.Background()
	archive, err := history.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer archive.Close()

	want := testDataset(t, false)
	id, err := archive.Record(ctx, want)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := archive.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want.Samples(), got.Samples())
	assert.Equal(t, sweep.Channel2, got.Channel())
	assert.Equal(t, want.Axis().Values(), got.Axis().Values())
	assert.True(t, want.StartedAt().Equal(got.StartedAt()))
	assert.True(t, want.FinishedAt().Equal(got.FinishedAt()))
	assert.False(t, got.Cancelled())
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	archive, err := history.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer archive.Close()

	first, err := archive.Record(ctx, testDataset(t, false))
	require.NoError(t, err)
	second, err := archive.Record(ctx, testDataset(t, true))
	require.NoError(t, err)

	all, err := archive.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second, all[0].ID)
	assert.Equal(t, first, all[1].ID)
	assert.True(t, all[0].Cancelled)
	assert.Equal(t, 2, all[0].Samples)
	assert.InDelta(t, 400.0, all[0].Start, 0)
	assert.InDelta(t, 5.0, all[0].Step, 0)

	limited, err := archive.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second, limited[0].ID)
}

func TestLoadUnknownSweep(t *testing.T) {
	archive, err := history.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer archive.Close()

	_, err = archive.Load(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrSweepNotFound))
}

func TestRecordNilDataset(t *testing.T) {
	archive, err := history.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer archive.Close()

	_, err = archive.Record(context.Background(), nil)
	require.Error(t, err)
}

func TestDisabledHistoryIsNoop(t *testing.T) {
	archive, err := history.NewService(history.Config{Enabled: false}, nil)
	require.NoError(t, err)

	id, err := archive.Record(context.Background(), testDataset(t, false))
	require.NoError(t, err)
	assert.Zero(t, id)

	list, err := archive.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.NoError(t, archive.Close())
}

func TestEnabledHistoryRequiresPath(t *testing.T) {
	_, err := history.NewService(history.Config{Enabled: true}, logger.Nop())
	require.Error(t, err)
}

func TestSchemaMismatchRecreatesWithBackup(t *testing.T) {
	cfg := testConfig(t)

	archive, err := history.NewService(cfg, logger.Nop())
	require.NoError(t, err)
	_, err = archive.Record(context.Background(), testDataset(t, false))
	require.NoError(t, err)
	require.NoError(t, archive.Close())

	db, err := sql.Open("sqlite3", cfg.DBPath)
	require.NoError(t, err)
	_, err = db.Exec(`UPDATE schema_versions SET version = ?`, history.SchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	archive, err = history.NewService(cfg, logger.Nop())
	require.NoError(t, err)
	defer archive.Close()

	list, err := archive.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	backups, err := filepath.Glob(filepath.Join(cfg.BackupDir, "history_v*.db"))
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestRecorderArchivesCompletedSweeps(t *testing.T) {
	archive, err := history.NewService(testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer archive.Close()

	rec := history.NewRecorder(archive, nil)
	rec.OnComplete(&sweep.Result{Dataset: testDataset(t, false)})
	require.Positive(t, rec.LastID())

	ds, err := archive.Load(context.Background(), rec.LastID())
	require.NoError(t, err)
	assert.Equal(t, 2, ds.Len())

	rec.OnComplete(nil)
}
