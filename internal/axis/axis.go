// Package axis describes the wavelength range visited by a sweep.
package axis

import (
	"fmt"
	"iter"
	"math"

	"codeberg.org/mutker/specsweep/internal/errors"
)

// tolerance absorbs floating point noise when counting steps, so that
// (400, 410, 5) never grows a fourth point at 415.000000001.
const tolerance = 1e-9

// MaxSteps caps the number of wavelengths in one sweep.
const MaxSteps = 1_000_000

// Axis is an immutable wavelength range in nanometers. The zero value is not
// valid; use New.
type Axis struct {
	start float64
	stop  float64
	step  float64
	n     int
}

// New validates the range and returns an Axis. It fails with an
// ErrInvalidRange coded error when step <= 0, stop < start or any bound is
// not a finite number, or when the range holds more than MaxSteps points.
func New(start, stop, step float64) (Axis, error) {
	errFactory := errors.New()

	for _, v := range []float64{start, stop, step} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Axis{}, errFactory.WithMessage(errors.ErrInvalidRange,
				fmt.Sprintf("range bounds must be finite: start=%v stop=%v step=%v", start, stop, step))
		}
	}

	if step <= 0 {
		return Axis{}, errFactory.WithMessage(errors.ErrInvalidRange,
			fmt.Sprintf("step must be positive: %v", step))
	}

	if stop < start {
		return Axis{}, errFactory.WithMessage(errors.ErrInvalidRange,
			fmt.Sprintf("stop %v is below start %v", stop, start))
	}

	n := math.Ceil((stop+step-start)/step - tolerance)
	if math.IsNaN(n) || n > MaxSteps {
		return Axis{}, errFactory.WithMessage(errors.ErrInvalidRange,
			fmt.Sprintf("range %v..%v step %v exceeds %d points", start, stop, step, MaxSteps))
	}
	if n < 1 {
		n = 1
	}

	return Axis{start: start, stop: stop, step: step, n: int(n)}, nil
}

func (a Axis) Start() float64 { return a.start }
func (a Axis) Stop() float64  { return a.stop }
func (a Axis) Step() float64  { return a.step }

// Len returns the number of wavelengths in the sequence. The progression runs
// from start in increments of step while below stop+step, so the last value
// may overshoot stop by less than one step. The zero Axis has length 0.
func (a Axis) Len() int { return a.n }

// At returns the i-th wavelength. Values are computed as start + i*step
// rather than accumulated, so consecutive values differ by exactly step.
func (a Axis) At(i int) float64 {
	return a.start + float64(i)*a.step
}

// All yields the wavelengths in order. The sequence holds no state and can be
// ranged over any number of times with identical results.
func (a Axis) All() iter.Seq2[int, float64] {
	return func(yield func(int, float64) bool) {
		n := a.Len()
		for i := 0; i < n; i++ {
			if !yield(i, a.At(i)) {
				return
			}
		}
	}
}

// Values materializes the sequence.
func (a Axis) Values() []float64 {
	values := make([]float64, 0, a.Len())
	for _, w := range a.All() {
		values = append(values, w)
	}

	return values
}

// Sequence is a convenience wrapper around New(...).Values().
func Sequence(start, stop, step float64) ([]float64, error) {
	a, err := New(start, stop, step)
	if err != nil {
		return nil, err
	}

	return a.Values(), nil
}

func (a Axis) String() string {
	return fmt.Sprintf("%g..%g nm step %g nm", a.start, a.stop, a.step)
}
