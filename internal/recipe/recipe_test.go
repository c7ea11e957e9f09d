package recipe_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/recipe"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoSweeps = `
settle: 250ms
sweeps:
  - name: blue
    start: 400
    stop: 410
    step: 5
  - start: 600
    stop: 700
    step: 1
    channel: ch2
`

func TestLoadRecipe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recipe.yaml")
	require.NoError(t, os.WriteFile(path, []byte(twoSweeps), 0o600))

	r, err := recipe.Load(path, sweep.Channel1)
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, r.Settle)
	require.Len(t, r.Sweeps, 2)

	assert.Equal(t, "blue", r.Sweeps[0].String())
	assert.Equal(t, sweep.Channel1, r.Sweeps[0].Channel)
	ax, err := r.Sweeps[0].Axis()
	require.NoError(t, err)
	assert.Equal(t, []float64{400, 405, 410}, ax.Values())

	assert.Equal(t, "600-700/1", r.Sweeps[1].String())
	assert.Equal(t, sweep.Channel2, r.Sweeps[1].Channel)
}

func TestRecipeChannelIsInherited(t *testing.T) {
	r, err := recipe.Parse([]byte("channel: ch2\nsweeps:\n  - {start: 1, stop: 2, step: 1}\n"), sweep.Channel1)
	require.NoError(t, err)
	assert.Equal(t, sweep.Channel2, r.Sweeps[0].Channel)
}

func TestRecipeChannelIsNormalized(t *testing.T) {
	r, err := recipe.Parse([]byte("channel: CH2\nsweeps:\n  - {start: 1, stop: 2, step: 1}\n  - {start: 1, stop: 2, step: 1, channel: ' Ch1 '}\n"), sweep.Channel1)
	require.NoError(t, err)

	assert.Equal(t, sweep.Channel2, r.Channel)
	assert.Equal(t, sweep.Channel2, r.Sweeps[0].Channel)
	assert.Equal(t, 2, r.Sweeps[0].Channel.Index())
	assert.Equal(t, sweep.Channel1, r.Sweeps[1].Channel)
}

func TestRecipeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data string
		code errors.ErrorCode
	}{
		{"empty", "sweeps: []\n", errors.ErrReadRecipe},
		{"malformed", "sweeps: [\n", errors.ErrReadRecipe},
		{"negative settle", "settle: -1s\nsweeps:\n  - {start: 1, stop: 2, step: 1}\n", errors.ErrReadRecipe},
		{"bad channel", "sweeps:\n  - {start: 1, stop: 2, step: 1, channel: ch9}\n", errors.ErrInvalidChannel},
		{"zero step", "sweeps:\n  - {start: 1, stop: 2, step: 0}\n", errors.ErrInvalidRange},
		{"reversed", "sweeps:\n  - {start: 5, stop: 2, step: 1}\n", errors.ErrInvalidRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := recipe.Parse([]byte(tt.data), sweep.Channel1)
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.CodeOf(err))
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := recipe.Load(filepath.Join(t.TempDir(), "nope.yaml"), sweep.Channel1)
	require.Error(t, err)
	assert.Equal(t, errors.ErrReadRecipe, errors.CodeOf(err))
}
