// Package sim provides simulated instruments: a monochromator that moves
// instantly (or after a fixed delay) and an oscilloscope whose signal is an
// emission line on a flat background.
package sim

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"codeberg.org/mutker/specsweep/internal/sweep"
)

// Monochromator is a simulated dispersive element. Wavelengths listed in
// FailAt reject the move.
type Monochromator struct {
	MoveDelay time.Duration
	FailAt    map[float64]bool

	mu       sync.Mutex
	position float64
	moves    int
}

func (m *Monochromator) MoveTo(ctx context.Context, wavelength float64) error {
	if m.MoveDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(m.MoveDelay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.moves++
	if m.FailAt[wavelength] {
		return fmt.Errorf("simulated stall at %.3f nm", wavelength)
	}
	m.position = wavelength

	return nil
}

// Position returns the last wavelength reached.
func (m *Monochromator) Position() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.position
}

// Moves counts move attempts.
func (m *Monochromator) Moves() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.moves
}

// Line is a Gaussian emission line.
type Line struct {
	Center    float64 // nm
	Width     float64 // standard deviation, nm
	Amplitude float64 // volts
}

// Oscilloscope reads the spectrum at the monochromator's current position.
type Oscilloscope struct {
	Source     *Monochromator
	Background float64
	Lines      []Line
	// Noise is the peak-to-peak ripple added around the average.
	Noise float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewOscilloscope returns a scope looking through mono at a single line.
func NewOscilloscope(mono *Monochromator, seed int64, lines ...Line) *Oscilloscope {
	return &Oscilloscope{
		Source:     mono,
		Background: 0.02,
		Lines:      lines,
		Noise:      0.01,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

func (o *Oscilloscope) signal() float64 {
	w := o.Source.Position()
	v := o.Background
	for _, l := range o.Lines {
		if l.Width <= 0 {
			continue
		}
		d := (w - l.Center) / l.Width
		v += l.Amplitude * math.Exp(-d*d/2)
	}

	return v
}

func (o *Oscilloscope) jitter() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.rng == nil {
		o.rng = rand.New(rand.NewSource(1))
	}

	return (o.rng.Float64() - 0.5) * o.Noise
}

func (o *Oscilloscope) ReadAvg(ctx context.Context, _ sweep.Channel) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return o.signal() + o.jitter()/4, nil
}

func (o *Oscilloscope) ReadMin(ctx context.Context, _ sweep.Channel) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return o.signal() - o.Noise/2, nil
}

func (o *Oscilloscope) ReadMax(ctx context.Context, _ sweep.Channel) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return o.signal() + o.Noise/2, nil
}
