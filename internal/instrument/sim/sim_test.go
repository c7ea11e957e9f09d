package sim_test

import (
	"context"
	"testing"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/instrument/sim"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatedSweepFindsLine(t *testing.T) {
	mono := &sim.Monochromator{FailAt: map[float64]bool{520: true}}
	osc := sim.NewOscilloscope(mono, 7, sim.Line{Center: 532, Width: 2, Amplitude: 1})

	ax, err := axis.New(500, 560, 1)
	require.NoError(t, err)

	res, err := sweep.New(mono, sweep.WithScope(osc, sweep.Channel1)).Run(context.Background(), ax)
	require.NoError(t, err)

	assert.Equal(t, ax.Len()-1, res.Dataset.Len())
	assert.Equal(t, ax.Len(), mono.Moves())

	peak := res.Dataset.Samples()[0]
	for _, s := range res.Dataset.Samples() {
		assert.NotEqual(t, 520.0, s.Wavelength)
		if s.Amplitude > peak.Amplitude {
			peak = s
		}
	}
	assert.Equal(t, 532.0, peak.Wavelength)
	assert.InDelta(t, 1.1, res.Bounds.Max, 0.05)
}
