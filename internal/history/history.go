package history

import (
	"context"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
)

const recordTimeout = 10 * time.Second

// No-op implementation
type noopArchive struct{}

// NewService returns the sqlite archive, or a no-op one when history is disabled.
func NewService(cfg Config, log logger.Logger) (Archive, error) {
	errFactory := errors.New()

	if log == nil {
		log = logger.Nop()
	}

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	if !cfg.Enabled {
		log.Debug().Msg("History disabled, using no-op archive")
		return noopArchive{}, nil
	}

	repo, err := NewRepository(cfg, log)
	if err != nil {
		log.Debug().Err(err).Msg("Failed to create history repository")
		return nil, err
	}

	return repo, nil
}

func (noopArchive) Record(context.Context, *sweep.Dataset) (int64, error) { return 0, nil }

func (noopArchive) List(context.Context, int) ([]Summary, error) { return nil, nil }

func (noopArchive) Load(_ context.Context, id int64) (*sweep.Dataset, error) {
	return nil, errors.New().WithData(ErrNotFound, struct{ ID int64 }{ID: id})
}

func (noopArchive) Close() error { return nil }

// Recorder archives every completed sweep. Failures are logged, never
// propagated, so a broken database cannot fail a measurement.
type Recorder struct {
	sweep.NopObserver

	archive Archive
	log     logger.Logger
	lastID  atomic.Int64
}

func NewRecorder(archive Archive, log logger.Logger) *Recorder {
	if log == nil {
		log = logger.Nop()
	}
	return &Recorder{archive: archive, log: log}
}

func (r *Recorder) OnComplete(res *sweep.Result) {
	if res == nil || res.Dataset == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	id, err := r.archive.Record(ctx, res.Dataset)
	if err != nil {
		r.log.Warn().Err(err).Msg("Failed to record sweep in history")
		return
	}
	r.lastID.Store(id)
}

// LastID is the archive id of the most recently recorded sweep, 0 if none.
func (r *Recorder) LastID() int64 { return r.lastID.Load() }
