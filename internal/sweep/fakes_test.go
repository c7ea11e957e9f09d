package sweep_test

import (
	"context"
	"fmt"
	"sync"

	"codeberg.org/mutker/specsweep/internal/axis"
	"codeberg.org/mutker/specsweep/internal/sweep"
)

type fakeMono struct {
	mu     sync.Mutex
	fail   map[float64]int // remaining failures per wavelength; -1 fails forever
	visits []float64
}

func (m *fakeMono) MoveTo(_ context.Context, w float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.visits = append(m.visits, w)
	if n, ok := m.fail[w]; ok && n != 0 {
		if n > 0 {
			m.fail[w] = n - 1
		}
		return fmt.Errorf("motor stalled at %v nm", w)
	}

	return nil
}

type fakeScope struct {
	avg      []float64
	avgErr   map[int]error
	min, max float64
	minReads int
	reads    int
	channels []sweep.Channel
}

func (s *fakeScope) ReadAvg(_ context.Context, ch sweep.Channel) (float64, error) {
	i := s.reads
	s.reads++
	s.channels = append(s.channels, ch)
	if err, ok := s.avgErr[i]; ok {
		return 0, err
	}

	return s.avg[i%len(s.avg)], nil
}

func (s *fakeScope) ReadMin(context.Context, sweep.Channel) (float64, error) {
	s.minReads++
	return s.min, nil
}

func (s *fakeScope) ReadMax(context.Context, sweep.Channel) (float64, error) {
	return s.max, nil
}

type plotCall struct {
	points  []sweep.Sample
	rescale *sweep.Bounds
}

type recordingSink struct {
	begun   bool
	initial sweep.Bounds
	calls   []plotCall
}

func (p *recordingSink) Begin(_ axis.Axis, y sweep.Bounds) {
	p.begun = true
	p.initial = y
}

func (p *recordingSink) Update(points []sweep.Sample, rescale *sweep.Bounds) {
	p.calls = append(p.calls, plotCall{points: points, rescale: rescale})
}

type recordingObserver struct {
	sweep.NopObserver
	samples  []sweep.Sample
	rescales []sweep.Bounds
	failures []sweep.StepFailure
	results  []*sweep.Result
	onSample func(n int)
}

func (o *recordingObserver) OnSample(s sweep.Sample) {
	o.samples = append(o.samples, s)
	if o.onSample != nil {
		o.onSample(len(o.samples))
	}
}

func (o *recordingObserver) OnRescale(b sweep.Bounds) { o.rescales = append(o.rescales, b) }

func (o *recordingObserver) OnStepFailed(f sweep.StepFailure) {
	o.failures = append(o.failures, f)
}

func (o *recordingObserver) OnComplete(r *sweep.Result) { o.results = append(o.results, r) }
