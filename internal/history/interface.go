package history

import (
	"context"
	"time"

	"codeberg.org/mutker/specsweep/internal/sweep"
)

// Archive stores finished sweeps so they can be listed and re-exported.
type Archive interface {
	Record(ctx context.Context, ds *sweep.Dataset) (int64, error)
	List(ctx context.Context, limit int) ([]Summary, error)
	Load(ctx context.Context, id int64) (*sweep.Dataset, error)
	Close() error
}

// Summary describes an archived sweep without its samples.
type Summary struct {
	ID         int64         `json:"id"`
	Start      float64       `json:"start"`
	Stop       float64       `json:"stop"`
	Step       float64       `json:"step"`
	Channel    sweep.Channel `json:"channel"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Cancelled  bool          `json:"cancelled"`
	Samples    int           `json:"samples"`
}
