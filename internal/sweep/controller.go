// Package sweep steps a monochromator across a wavelength range, samples an
// oscilloscope at each step and collects the spectrum.
package sweep

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/logger"
)

// Controller runs sweeps. Only one sweep may run at a time; a second Run
// while one is in progress fails with ErrSweepRunning.
type Controller struct {
	mono     Monochromator
	scope    Scope
	sink     PlotSink
	observer Observer
	log      logger.Logger
	settle   time.Duration
	retries  int

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	last   *Result
}

// Option configures a Controller.
type Option func(*Controller)

// WithPlotSink sets the live plot.
func WithPlotSink(sink PlotSink) Option {
	return func(c *Controller) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithObserver adds an event subscriber.
func WithObserver(obs Observer) Option {
	return func(c *Controller) {
		if obs == nil {
			return
		}
		if list, ok := c.observer.(Observers); ok {
			c.observer = append(list, obs)
			return
		}
		c.observer = Observers{obs}
	}
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) {
		if log != nil {
			c.log = log
		}
	}
}

// WithSettle waits d after every successful move before sampling.
func WithSettle(d time.Duration) Option {
	return func(c *Controller) {
		c.settle = max(d, 0)
	}
}

// WithStepRetries retries a failed move up to n extra times. The default of
// zero skips the wavelength on the first failure.
func WithStepRetries(n int) Option {
	return func(c *Controller) {
		c.retries = max(n, 0)
	}
}

// New returns a Controller for the given instruments.
func New(mono Monochromator, scope Scope, opts ...Option) *Controller {
	c := &Controller{
		mono:     mono,
		scope:    scope,
		sink:     nopSink{},
		observer: Observers{},
		log:      logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// State returns a snapshot of the current sweep.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Last returns the result of the most recent finished sweep, or nil.
func (c *Controller) Last() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.last
}

// Cancel asks the running sweep to stop. It takes effect at the next step
// boundary; an instrument call already in flight completes first. Cancel is
// a no-op when nothing is running.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil && c.state.Running {
		c.state.Cancelled = true
		c.cancel()
	}
}

// run is the per-sweep working set, owned by the goroutine executing Run.
type run struct {
	axis     axis.Axis
	samples  []Sample
	rescaler *Rescaler
	stats    Stats
	started  time.Time
}

// Run executes one sweep over ax and blocks until it completes or is
// cancelled through ctx or Cancel. Cancellation is not an error: the partial
// dataset is returned with Dataset.Cancelled set. Per-wavelength failures
// never abort the sweep.
func (c *Controller) Run(ctx context.Context, ax axis.Axis) (*Result, error) {
	errFactory := errors.New()

	if ax.Len() <= 0 || ax.Step() <= 0 {
		return nil, errFactory.WithMessage(errors.ErrInvalidRange, "sweep axis is not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.state.Running {
		c.mu.Unlock()
		return nil, errFactory.New(errors.ErrSweepRunning)
	}
	c.cancel = cancel
	c.state = State{Phase: Armed, Running: true, Steps: ax.Len()}
	c.mu.Unlock()

	// Instrument calls must not be interrupted by a cancel request, only the
	// loop is.
	devCtx := context.WithoutCancel(ctx)

	r := &run{axis: ax, started: time.Now()}
	r.rescaler = c.prime(devCtx, ax)

	c.log.Info().
		Str("axis", ax.String()).
		Int("steps", ax.Len()).
		Bool("sampling", c.scope.Present()).
		Msg("Sweep started")
	c.observer.OnStart(ax, c.scope.Present())

	cancelled := false
	for i, w := range ax.All() {
		if runCtx.Err() != nil {
			cancelled = true
			c.setPhase(Cancelling)
			c.log.Info().Float64("wavelength", w).Int("step", i).Msg("Sweep cancelled")
			break
		}
		c.step(devCtx, r, i, w)
	}

	return c.finish(r, cancelled), nil
}

// prime establishes the initial vertical plot range from the instrument.
func (c *Controller) prime(ctx context.Context, ax axis.Axis) *Rescaler {
	reader, ch, ok := c.scope.Reader()
	if !ok {
		return NewUnprimedRescaler()
	}

	lo, errMin := reader.ReadMin(ctx, ch)
	hi, errMax := reader.ReadMax(ctx, ch)

	var rs *Rescaler
	if errMin != nil || errMax != nil || !finite(lo) || !finite(hi) {
		c.log.Warn().
			AnErr("min_error", errMin).
			AnErr("max_error", errMax).
			Msg("Priming read failed, plot range will follow the first sample")
		rs = NewUnprimedRescaler()
	} else {
		rs = NewRescaler(Bounds{Min: lo, Max: hi}, hi)
		c.mu.Lock()
		c.state.MaxAmplitude = hi
		c.mu.Unlock()
	}

	c.sink.Begin(ax, rs.Bounds())

	return rs
}

func (c *Controller) step(ctx context.Context, r *run, i int, w float64) {
	errFactory := errors.New()

	c.mu.Lock()
	c.state.Phase = Stepping
	c.state.Step = i
	c.state.Wavelength = w
	c.mu.Unlock()

	r.stats.Visited++

	if err := c.move(ctx, w); err != nil {
		r.stats.StepFailures++
		c.fail(w, errFactory.Wrap(errors.ErrStepFailed, err))
		return
	}

	if c.settle > 0 {
		time.Sleep(c.settle)
	}

	reader, ch, ok := c.scope.Reader()
	if !ok {
		r.stats.Unsampled++
		c.log.Debug().Float64("wavelength", w).Msg("Moved, no oscilloscope")
		return
	}

	c.setPhase(Sampling)

	v, err := reader.ReadAvg(ctx, ch)
	if err == nil && !finite(v) {
		err = fmt.Errorf("no data on %s", ch)
	}
	if err != nil {
		r.stats.SampleFailures++
		c.fail(w, errFactory.Wrap(errors.ErrSampleFailed, err))
		return
	}

	s := Sample{Wavelength: w, Amplitude: v}
	r.samples = append(r.samples, s)
	r.stats.Sampled++
	c.observer.OnSample(s)

	var rescale *Bounds
	if b, ok := r.rescaler.Observe(v, func() (float64, error) { return reader.ReadMin(ctx, ch) }); ok {
		rescale = &b
		c.log.Debug().Float64("min", b.Min).Float64("max", b.Max).Msg("Plot rescaled")
		c.observer.OnRescale(b)
	}

	c.sink.Update(slices.Clone(r.samples), rescale)

	c.mu.Lock()
	c.state.Samples = len(r.samples)
	c.state.MaxAmplitude = r.rescaler.Max()
	c.mu.Unlock()

	c.log.Debug().Float64("wavelength", w).Float64("amplitude", v).Msg("Sampled")
}

func (c *Controller) move(ctx context.Context, w float64) error {
	var err error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if err = c.mono.MoveTo(ctx, w); err == nil {
			return nil
		}
		c.log.Debug().Err(err).Float64("wavelength", w).Int("attempt", attempt+1).Msg("Move failed")
	}

	return err
}

func (c *Controller) fail(w float64, err errors.Error) {
	c.log.Warn().
		Str("error_code", string(err.Code())).
		Err(err).
		Float64("wavelength", w).
		Msg("Wavelength skipped")
	c.observer.OnStepFailed(StepFailure{Wavelength: w, Err: err})
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.state.Phase = p
	c.mu.Unlock()
}

func (c *Controller) finish(r *run, cancelled bool) *Result {
	result := &Result{
		Dataset: NewDataset(r.axis, c.channel(), r.samples, r.started, time.Now(), cancelled),
		Stats:   r.stats,
		Bounds:  r.rescaler.Bounds(),
	}

	c.mu.Lock()
	c.state.Phase = Completed
	c.state.Running = false
	c.state.Cancelled = cancelled
	if math.IsInf(c.state.MaxAmplitude, 0) {
		c.state.MaxAmplitude = 0
	}
	c.cancel = nil
	c.last = result
	c.mu.Unlock()

	c.log.Info().
		Int("visited", r.stats.Visited).
		Int("samples", r.stats.Sampled).
		Int("step_failures", r.stats.StepFailures).
		Int("sample_failures", r.stats.SampleFailures).
		Bool("cancelled", cancelled).
		Msg("Sweep completed")
	c.observer.OnComplete(result)

	return result
}

func (c *Controller) channel() Channel {
	_, ch, _ := c.scope.Reader()
	return ch
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
