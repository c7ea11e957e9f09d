package sweep

import (
	"context"
	"strings"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
)

// Channel is an oscilloscope input.
type Channel string

const (
	Channel1 Channel = "ch1"
	Channel2 Channel = "ch2"
)

// Channels lists the inputs a sweep may sample from.
var Channels = []Channel{Channel1, Channel2}

// ParseChannel validates a channel name.
func ParseChannel(name string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Channels {
		if ch == known {
			return ch, nil
		}
	}

	return "", errors.New().WithData(errors.ErrInvalidChannel, name)
}

// Index returns the 1-based input number, or 0 for a name that did not come
// through ParseChannel.
func (c Channel) Index() int {
	switch c {
	case Channel1:
		return 1
	case Channel2:
		return 2
	default:
		return 0
	}
}

// Monochromator moves the dispersive element. MoveTo blocks until the move has
// settled and returns an error if it did not complete.
type Monochromator interface {
	MoveTo(ctx context.Context, wavelength float64) error
}

// Oscilloscope reads instantaneous voltages from one channel. All calls block.
type Oscilloscope interface {
	ReadAvg(ctx context.Context, ch Channel) (float64, error)
	ReadMin(ctx context.Context, ch Channel) (float64, error)
	ReadMax(ctx context.Context, ch Channel) (float64, error)
}

// Scope is the optional sampling capability of a sweep: either an
// oscilloscope bound to a channel, or nothing. Without one the sweep still
// visits every wavelength but records no samples.
type Scope struct {
	reader  Oscilloscope
	channel Channel
}

// WithScope binds an oscilloscope channel to the sweep.
func WithScope(reader Oscilloscope, ch Channel) Scope {
	if reader == nil {
		return Scope{}
	}

	return Scope{reader: reader, channel: ch}
}

// NoScope is a stepping-only capability.
func NoScope() Scope {
	return Scope{}
}

// Reader returns the bound oscilloscope and channel, or ok=false.
func (s Scope) Reader() (reader Oscilloscope, ch Channel, ok bool) {
	return s.reader, s.channel, s.reader != nil
}

func (s Scope) Present() bool {
	return s.reader != nil
}

// Bounds is a vertical plot range.
type Bounds struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// PlotSink renders the live plot. Update always carries the complete point
// list; rescale is nil unless the vertical range changed on this step.
type PlotSink interface {
	Begin(x axis.Axis, y Bounds)
	Update(points []Sample, rescale *Bounds)
}

// StepFailure reports a wavelength that produced no sample. Err carries
// either ErrStepFailed or ErrSampleFailed.
type StepFailure struct {
	Wavelength float64
	Err        error
}

// Observer receives sweep events. Observers never take part in the loop's
// control flow; they only see copies.
type Observer interface {
	OnStart(ax axis.Axis, sampling bool)
	OnSample(s Sample)
	OnRescale(b Bounds)
	OnStepFailed(f StepFailure)
	OnComplete(r *Result)
}

// NopObserver can be embedded to implement only some events.
type NopObserver struct{}

func (NopObserver) OnStart(axis.Axis, bool)  {}
func (NopObserver) OnSample(Sample)          {}
func (NopObserver) OnRescale(Bounds)         {}
func (NopObserver) OnStepFailed(StepFailure) {}
func (NopObserver) OnComplete(*Result)       {}

// Observers fans events out in order.
type Observers []Observer

func (o Observers) OnStart(ax axis.Axis, sampling bool) {
	for _, obs := range o {
		obs.OnStart(ax, sampling)
	}
}

func (o Observers) OnSample(s Sample) {
	for _, obs := range o {
		obs.OnSample(s)
	}
}

func (o Observers) OnRescale(b Bounds) {
	for _, obs := range o {
		obs.OnRescale(b)
	}
}

func (o Observers) OnStepFailed(f StepFailure) {
	for _, obs := range o {
		obs.OnStepFailed(f)
	}
}

func (o Observers) OnComplete(r *Result) {
	for _, obs := range o {
		obs.OnComplete(r)
	}
}

type nopSink struct{}

func (nopSink) Begin(axis.Axis, Bounds)   {}
func (nopSink) Update([]Sample, *Bounds) {}
