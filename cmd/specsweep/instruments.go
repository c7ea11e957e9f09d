package main

import (
	"context"
	"io"
	"time"

	"codeberg.org/mutker/specsweep/internal/config"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/instrument/monochromator"
	"codeberg.org/mutker/specsweep/internal/instrument/scope"
	"codeberg.org/mutker/specsweep/internal/instrument/sim"
	"codeberg.org/mutker/specsweep/internal/logger"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"github.com/hashicorp/go-multierror"
)

const simMoveDelay = 20 * time.Millisecond

// instruments holds the hardware for one process lifetime.
type instruments struct {
	mono    sweep.Monochromator
	reader  sweep.Oscilloscope
	closers []io.Closer
}

func openInstruments(ctx context.Context, cfg *config.Config, log logger.Logger) (*instruments, error) {
	if cfg.Simulate {
		mono := &sim.Monochromator{MoveDelay: simMoveDelay}
		center := (cfg.Start + cfg.Stop) / 2
		width := max((cfg.Stop-cfg.Start)/20, cfg.Step)
		osc := sim.NewOscilloscope(mono, time.Now().UnixNano(),
			sim.Line{Center: center, Width: width, Amplitude: 1})
		log.Warn().Msg("Using simulated instruments")
		return &instruments{mono: mono, reader: osc}, nil
	}

	mono, err := monochromator.Open(monochromator.Config{
		Port:        cfg.Monochromator.Port,
		Baud:        cfg.Monochromator.Baud,
		MoveCommand: cfg.Monochromator.MoveCommand,
		Ack:         cfg.Monochromator.Ack,
		Timeout:     cfg.Monochromator.Timeout,
	}, log.With("monochromator"))
	if err != nil {
		return nil, err
	}
	inst := &instruments{mono: mono, closers: []io.Closer{mono}}

	if cfg.Oscilloscope.Address == "" {
		log.Warn().Msg("No oscilloscope configured, sweeping without sampling")
		return inst, nil
	}

	osc, err := scope.Dial(ctx, cfg.Oscilloscope.Address, cfg.Oscilloscope.Timeout, log.With("oscilloscope"))
	if err != nil {
		return nil, closeOnError(inst, err)
	}
	inst.closers = append(inst.closers, osc)

	if err := osc.Start(ctx, cfg.Channel); err != nil {
		return nil, closeOnError(inst, err)
	}
	inst.reader = osc

	return inst, nil
}

// bind attaches the oscilloscope, if any, to ch.
func (i *instruments) bind(ch sweep.Channel) sweep.Scope {
	if i.reader == nil {
		return sweep.NoScope()
	}
	return sweep.WithScope(i.reader, ch)
}

func (i *instruments) Close() error {
	var errs error
	for _, c := range i.closers {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if errs != nil {
		return errors.New().Wrap(errors.ErrInstrumentClose, errs)
	}
	return nil
}

func closeOnError(i *instruments, err error) error {
	if cerr := i.Close(); cerr != nil {
		return multierror.Append(err, cerr)
	}
	return err
}
