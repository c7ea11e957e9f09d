package sweep

import "math"

// headroom is the fraction added above a new maximum.
const headroom = 0.1

// Rescaler tracks the largest amplitude seen in a sweep and decides when the
// plot's vertical range must grow. The upper bound never shrinks.
type Rescaler struct {
	max    float64
	bounds Bounds
}

// NewRescaler starts from the priming read of the instrument.
func NewRescaler(initial Bounds, peak float64) *Rescaler {
	return &Rescaler{max: peak, bounds: initial}
}

// NewUnprimedRescaler is used when the priming read failed: the first
// observation always rescales.
func NewUnprimedRescaler() *Rescaler {
	return &Rescaler{max: math.Inf(-1)}
}

// Observe feeds one amplitude. When it exceeds the running maximum the new
// bounds are returned with ok=true; readMin supplies the current instrument
// minimum for the lower bound and is called only in that case. If readMin
// fails the previous lower bound is kept.
func (r *Rescaler) Observe(v float64, readMin func() (float64, error)) (b Bounds, ok bool) {
	if !(v > r.max) {
		return r.bounds, false
	}

	lower := r.bounds.Min
	if readMin != nil {
		if m, err := readMin(); err == nil && finite(m) {
			lower = m
		}
	}

	r.max = v
	r.bounds = Bounds{Min: lower, Max: v + headroom*v}

	return r.bounds, true
}

// Max is the largest amplitude observed so far.
func (r *Rescaler) Max() float64 { return r.max }

// Bounds is the current vertical range.
func (r *Rescaler) Bounds() Bounds { return r.bounds }
