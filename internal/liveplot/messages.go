package liveplot

import (
	"math"

	"codeberg.org/mutker/specsweep/internal/sweep"
)

type MessageType string

const (
	MsgBegin      MessageType = "begin"
	MsgUpdate     MessageType = "update"
	MsgStepFailed MessageType = "step_failed"
	MsgComplete   MessageType = "complete"
)

type WSMessage struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// BeginPayload fixes the horizontal range and the initial vertical range.
type BeginPayload struct {
	XMin  float64      `json:"x_min"`
	XMax  float64      `json:"x_max"`
	Step  float64      `json:"step"`
	Steps int          `json:"steps"`
	Y     sweep.Bounds `json:"y"`
}

// UpdatePayload replaces the plotted line with Points.
type UpdatePayload struct {
	Points  []sweep.Sample `json:"points"`
	Rescale *sweep.Bounds  `json:"rescale,omitempty"`
}

type StepFailedPayload struct {
	Wavelength float64 `json:"wavelength"`
	Code       string  `json:"code,omitempty"`
	Error      string  `json:"error"`
}

type CompletePayload struct {
	Cancelled bool         `json:"cancelled"`
	Samples   int          `json:"samples"`
	Stats     sweep.Stats  `json:"stats"`
	Bounds    sweep.Bounds `json:"bounds"`
}

// finite keeps JSON encodable bounds; encoding/json rejects NaN and Inf.
func finite(b sweep.Bounds) sweep.Bounds {
	clean := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0
		}
		return v
	}
	return sweep.Bounds{Min: clean(b.Min), Max: clean(b.Max)}
}
