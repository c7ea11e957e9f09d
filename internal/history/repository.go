package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	_ "github.com/mattn/go-sqlite3"
)

type repository struct {
	db     *sql.DB
	logger logger.Logger
	cfg    Config
}

// NewRepository opens (or creates) the sqlite archive at cfg.DBPath.
func NewRepository(cfg Config, log logger.Logger) (Archive, error) {
	errFactory := errors.New()

	if cfg.DBPath == "" {
		return nil, errFactory.New(ErrInvalidDBPath)
	}

	// Ensure the directory exists
	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), defaultDirPerm); err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Path  string
			Error string
		}{
			Phase: "create_directory",
			Path:  cfg.DBPath,
			Error: err.Error(),
		})
	}

	dsn := cfg.DBPath + "?_journal=WAL&_foreign_keys=1"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "open_database",
			Error: err.Error(),
		})
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)

	backupDir := cfg.BackupDir
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.DBPath), "backups")
	}

	// Validate if schema is current, with backup if needed
	if err := Migrate(db, backupDir, log); err != nil {
		db.Close()
		return nil, errFactory.WithData(ErrStorageInit, struct {
			Phase string
			Error string
		}{
			Phase: "schema_version",
			Error: err.Error(),
		})
	}

	log.Info().
		Str("path", cfg.DBPath).
		Int("schema_version", SchemaVersion).
		Msg("History repository initialized")

	return &repository{
		db:     db,
		logger: log,
		cfg:    cfg,
	}, nil
}

func (r *repository) Record(ctx context.Context, ds *sweep.Dataset) (int64, error) {
	errFactory := errors.New()

	if ds == nil {
		return 0, errFactory.New(ErrInvalidDataset)
	}

	var id int64
	err := inTx(ctx, r.db, r.logger, func(tx *sql.Tx) error {
		ax := ds.Axis()
		res, err := tx.ExecContext(ctx, insertSweepSQL,
			ax.Start(),
			ax.Stop(),
			ax.Step(),
			string(ds.Channel()),
			ds.StartedAt().UnixNano(),
			ds.FinishedAt().UnixNano(),
			boolToInt(ds.Cancelled()),
		)
		if err != nil {
			return errFactory.Wrap(ErrRecord, err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return errFactory.Wrap(ErrRecord, err)
		}

		stmt, err := tx.PrepareContext(ctx, insertSampleSQL)
		if err != nil {
			return errFactory.Wrap(ErrTransactionFailed, err)
		}
		defer stmt.Close()

		for seq, s := range ds.Samples() {
			if _, err := stmt.ExecContext(ctx, id, seq, s.Wavelength, s.Amplitude); err != nil {
				return errFactory.WithData(ErrRecord, struct {
					Wavelength float64
					Error      string
				}{s.Wavelength, err.Error()})
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Debug().
		Int64("id", id).
		Int("samples", ds.Len()).
		Msg("Recorded sweep")

	return id, nil
}

func (r *repository) List(ctx context.Context, limit int) ([]Summary, error) {
	errFactory := errors.New()

	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}

	rows, err := r.db.QueryContext(ctx, listSweepsSQL, limit)
	if err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			s                 Summary
			channel           string
			started, finished int64
			cancelled         int
		)
		if err := rows.Scan(&s.ID, &s.Start, &s.Stop, &s.Step, &channel,
			&started, &finished, &cancelled, &s.Samples); err != nil {
			return nil, errFactory.Wrap(ErrQuery, err)
		}
		s.Channel = sweep.Channel(channel)
		s.StartedAt = time.Unix(0, started)
		s.FinishedAt = time.Unix(0, finished)
		s.Cancelled = cancelled != 0
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}

	return out, nil
}

func (r *repository) Load(ctx context.Context, id int64) (*sweep.Dataset, error) {
	errFactory := errors.New()

	var (
		start, stop, step float64
		channel           string
		started, finished int64
		cancelled         int
	)
	err := r.db.QueryRowContext(ctx, selectSweepSQL, id).
		Scan(&start, &stop, &step, &channel, &started, &finished, &cancelled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errFactory.WithData(ErrNotFound, struct{ ID int64 }{ID: id})
	}
	if err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}

	ax, err := axis.New(start, stop, step)
	if err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}

	rows, err := r.db.QueryContext(ctx, selectSamplesSQL, id)
	if err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}
	defer rows.Close()

	var samples []sweep.Sample
	for rows.Next() {
		var s sweep.Sample
		if err := rows.Scan(&s.Wavelength, &s.Amplitude); err != nil {
			return nil, errFactory.Wrap(ErrQuery, err)
		}
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errFactory.Wrap(ErrQuery, err)
	}

	return sweep.NewDataset(ax, sweep.Channel(channel), samples,
		time.Unix(0, started), time.Unix(0, finished), cancelled != 0), nil
}

func (r *repository) Close() error {
	// Checkpoint WAL and cleanup on close
	if _, err := r.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "checkpoint_wal",
			Error: err.Error(),
		})
	}

	if err := r.db.Close(); err != nil {
		return errors.New().WithData(ErrStorageClose, struct {
			Phase string
			Error string
		}{
			Phase: "close_database",
			Error: err.Error(),
		})
	}

	r.logger.Info().Msg("History repository closed")

	return nil
}
