// Package recipe loads batches of sweeps from a YAML file.
//
//	channel: ch1
//	settle: 200ms
//	sweeps:
//	  - name: blue
//	    start: 400
//	    stop: 500
//	    step: 0.5
//	  - name: red
//	    start: 600
//	    stop: 700
//	    step: 1
//	    channel: ch2
package recipe

import (
	"fmt"
	"os"
	"time"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/errors"
	"codeberg.org/mutker/specsweep/internal/sweep"
	"gopkg.in/yaml.v3"
)

type Recipe struct {
	// Channel applies to every plan that does not name its own.
	Channel sweep.Channel `yaml:"channel"`
	Settle  time.Duration `yaml:"settle"`
	Sweeps  []Plan        `yaml:"sweeps"`
}

type Plan struct {
	Name    string        `yaml:"name"`
	Start   float64       `yaml:"start"`
	Stop    float64       `yaml:"stop"`
	Step    float64       `yaml:"step"`
	Channel sweep.Channel `yaml:"channel"`
}

// Axis builds the wavelength axis of the plan.
func (p Plan) Axis() (axis.Axis, error) {
	return axis.New(p.Start, p.Stop, p.Step)
}

func (p Plan) String() string {
	if p.Name != "" {
		return p.Name
	}
	return fmt.Sprintf("%g-%g/%g", p.Start, p.Stop, p.Step)
}

// Load reads and validates the recipe at path. Plans without a channel
// inherit the recipe channel, which itself defaults to fallback.
func Load(path string, fallback sweep.Channel) (*Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New().Wrap(errors.ErrReadRecipe, err)
	}
	return Parse(data, fallback)
}

func Parse(data []byte, fallback sweep.Channel) (*Recipe, error) {
	errFactory := errors.New()

	r := &Recipe{}
	if err := yaml.Unmarshal(data, r); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadRecipe, err)
	}

	if len(r.Sweeps) == 0 {
		return nil, errFactory.WithMessage(errors.ErrReadRecipe, "Recipe has no sweeps")
	}
	if r.Settle < 0 {
		return nil, errFactory.WithData(errors.ErrReadRecipe, struct {
			Settle time.Duration
		}{r.Settle})
	}

	if r.Channel == "" {
		r.Channel = fallback
	}
	ch, err := sweep.ParseChannel(string(r.Channel))
	if err != nil {
		return nil, err
	}
	r.Channel = ch

	for i := range r.Sweeps {
		p := &r.Sweeps[i]
		if p.Channel == "" {
			p.Channel = r.Channel
		}
		ch, err := sweep.ParseChannel(string(p.Channel))
		if err != nil {
			return nil, errFactory.WithData(errors.ErrInvalidChannel, struct {
				Plan    string
				Channel sweep.Channel
			}{p.String(), p.Channel})
		}
		p.Channel = ch
		if _, err := p.Axis(); err != nil {
			return nil, errFactory.WithData(errors.ErrInvalidRange, struct {
				Plan  string
				Error string
			}{p.String(), err.Error()})
		}
	}

	return r, nil
}
