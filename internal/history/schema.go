package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
)

const (
	SchemaVersion = 1

	// Child tables first
	dropTablesSQL = `
	   DROP TABLE IF EXISTS samples;
	   DROP TABLE IF EXISTS sweeps;
	   DROP TABLE IF EXISTS schema_versions;`

	createTablesSQL = `
	   CREATE TABLE IF NOT EXISTS schema_versions (
	       version     INTEGER PRIMARY KEY,
	       applied_at  TEXT NOT NULL
	   );
	   CREATE TABLE IF NOT EXISTS sweeps (
	       id           INTEGER PRIMARY KEY AUTOINCREMENT,
	       start_nm     REAL NOT NULL,
	       stop_nm      REAL NOT NULL CHECK (stop_nm >= start_nm),
	       step_nm      REAL NOT NULL CHECK (step_nm > 0),
	       channel      TEXT NOT NULL,
	       started_at   INTEGER NOT NULL,
	       finished_at  INTEGER NOT NULL,
	       cancelled    INTEGER NOT NULL CHECK (cancelled IN (0, 1))
	   );
	   CREATE TABLE IF NOT EXISTS samples (
	       sweep_id     INTEGER NOT NULL REFERENCES sweeps(id) ON DELETE CASCADE,
	       seq          INTEGER NOT NULL,
	       wavelength   REAL NOT NULL,
	       amplitude    REAL NOT NULL,
	       PRIMARY KEY (sweep_id, seq)
	   );`

	insertSweepSQL = `
    INSERT INTO sweeps (
        start_nm, stop_nm, step_nm, channel,
        started_at, finished_at, cancelled
    ) VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertSampleSQL = `
    INSERT INTO samples (sweep_id, seq, wavelength, amplitude)
    VALUES (?, ?, ?, ?)`

	listSweepsSQL = `
    SELECT s.id, s.start_nm, s.stop_nm, s.step_nm, s.channel,
           s.started_at, s.finished_at, s.cancelled,
           (SELECT COUNT(*) FROM samples WHERE sweep_id = s.id)
    FROM sweeps s
    ORDER BY s.id DESC
    LIMIT ?`

	selectSweepSQL = `
    SELECT start_nm, stop_nm, step_nm, channel, started_at, finished_at, cancelled
    FROM sweeps WHERE id = ?`

	selectSamplesSQL = `
    SELECT wavelength, amplitude FROM samples
    WHERE sweep_id = ? ORDER BY seq`
)

// inTx runs fn in a transaction and commits it. Any failure rolls back.
func inTx(ctx context.Context, db *sql.DB, log logger.Logger, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Debug().Err(rbErr).Msg("Failed to roll back transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.New().Wrap(ErrTransactionFailed, err)
	}
	return nil
}

// schemaVersion returns the recorded version, 0 for an empty database.
func schemaVersion(db *sql.DB) (int, error) {
	var tables int
	err := db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_versions'`,
	).Scan(&tables)
	if err != nil || tables == 0 {
		return 0, err
	}

	var version int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_versions`).Scan(&version)
	return version, err
}

// Migrate brings db to SchemaVersion. Sweeps recorded under another version
// are not converted: the old file is copied to backupDir and the tables are
// recreated empty.
func Migrate(db *sql.DB, backupDir string, log logger.Logger) error {
	errFactory := errors.New()
	ctx := context.Background()

	version, err := schemaVersion(db)
	if err != nil {
		return errFactory.Wrap(ErrSchemaValidationFailed, err)
	}

	log.Debug().
		Int("version", version).
		Int("want", SchemaVersion).
		Msg("History schema version")

	if version == SchemaVersion {
		return nil
	}

	if version != 0 {
		path, err := backup(db, backupDir, version)
		if err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Error string
			}{
				Phase: "backup",
				Error: err.Error(),
			})
		}
		log.Info().
			Str("path", path).
			Int("version", version).
			Msg("History backup created")
	}

	err = inTx(ctx, db, log, func(tx *sql.Tx) error {
		if _, err := tx.Exec(dropTablesSQL); err != nil {
			return errFactory.WithData(ErrSchemaMigrationFailed, struct {
				Phase string
				Error string
			}{"drop_tables", err.Error()})
		}
		if _, err := tx.Exec(createTablesSQL); err != nil {
			return errFactory.WithData(ErrSchemaInitFailed, struct {
				Phase string
				Error string
			}{"create_tables", err.Error()})
		}
		_, err := tx.Exec(
			`INSERT INTO schema_versions (version, applied_at) VALUES (?, datetime('now'))`,
			SchemaVersion)
		return err
	})
	if err != nil {
		return errFactory.Wrap(ErrSchemaInitFailed, err)
	}

	log.Info().
		Int("version", SchemaVersion).
		Msg("History schema initialized")

	return nil
}

// backup copies the database with VACUUM INTO, which must run outside a
// transaction.
func backup(db *sql.DB, dir string, version int) (string, error) {
	if err := os.MkdirAll(dir, defaultDirPerm); err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("history_v%d_%s.db",
		version, time.Now().UTC().Format("20060102T150405Z")))

	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := db.Exec(fmt.Sprintf("VACUUM INTO '%s'", quoted)); err != nil {
		return "", err
	}

	return path, nil
}
