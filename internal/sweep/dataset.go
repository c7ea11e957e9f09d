package sweep

import (
	"slices"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
)

// Sample is one (wavelength, amplitude) observation.
type Sample struct {
	Wavelength float64 `json:"wavelength"`
	Amplitude  float64 `json:"amplitude"`
}

// Dataset is the ordered, gap-free result of one sweep. Wavelengths that
// failed to step or sample have no entry. A Dataset never changes after the
// controller hands it out; accessors return copies.
type Dataset struct {
	axis       axis.Axis
	channel    Channel
	samples    []Sample
	startedAt  time.Time
	finishedAt time.Time
	cancelled  bool
}

// NewDataset assembles a finished dataset, e.g. when reloading one from the
// sweep history.
func NewDataset(ax axis.Axis, ch Channel, samples []Sample, startedAt, finishedAt time.Time, cancelled bool) *Dataset {
	return &Dataset{
		axis:       ax,
		channel:    ch,
		samples:    slices.Clone(samples),
		startedAt:  startedAt,
		finishedAt: finishedAt,
		cancelled:  cancelled,
	}
}

func (d *Dataset) Axis() axis.Axis       { return d.axis }
func (d *Dataset) Channel() Channel      { return d.channel }
func (d *Dataset) StartedAt() time.Time  { return d.startedAt }
func (d *Dataset) FinishedAt() time.Time { return d.finishedAt }
func (d *Dataset) Cancelled() bool       { return d.cancelled }
func (d *Dataset) Len() int              { return len(d.samples) }

// Samples returns a copy of the samples in sweep order.
func (d *Dataset) Samples() []Sample {
	return slices.Clone(d.samples)
}

// Columns splits the dataset into wavelength and amplitude columns.
func (d *Dataset) Columns() (wavelengths, amplitudes []float64) {
	wavelengths = make([]float64, len(d.samples))
	amplitudes = make([]float64, len(d.samples))
	for i, s := range d.samples {
		wavelengths[i] = s.Wavelength
		amplitudes[i] = s.Amplitude
	}

	return wavelengths, amplitudes
}

// AmplitudeBounds returns the smallest and largest amplitude, or ok=false
// for an empty dataset.
func (d *Dataset) AmplitudeBounds() (b Bounds, ok bool) {
	if len(d.samples) == 0 {
		return Bounds{}, false
	}

	b = Bounds{Min: d.samples[0].Amplitude, Max: d.samples[0].Amplitude}
	for _, s := range d.samples[1:] {
		b.Min = min(b.Min, s.Amplitude)
		b.Max = max(b.Max, s.Amplitude)
	}

	return b, true
}
