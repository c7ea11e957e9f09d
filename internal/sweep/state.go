package sweep

// Phase is the controller's position in a sweep.
type Phase int

const (
	Idle Phase = iota
	Armed
	Stepping
	Sampling
	Cancelling
	Completed
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Stepping:
		return "stepping"
	case Sampling:
		return "sampling"
	case Cancelling:
		return "cancelling"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a snapshot of the sweep in progress.
type State struct {
	Phase        Phase   `json:"phase"`
	Running      bool    `json:"running"`
	Cancelled    bool    `json:"cancelled"`
	MaxAmplitude float64 `json:"max_amplitude"`
	Wavelength   float64 `json:"wavelength"`
	Step         int     `json:"step"`
	Steps        int     `json:"steps"`
	Samples      int     `json:"samples"`
}

// Stats counts what happened to each visited wavelength.
type Stats struct {
	Visited        int `json:"visited"`
	Sampled        int `json:"sampled"`
	StepFailures   int `json:"step_failures"`
	SampleFailures int `json:"sample_failures"`
	Unsampled      int `json:"unsampled"`
}

// Result is what a finished or cancelled sweep hands to its caller.
type Result struct {
	Dataset *Dataset
	Stats   Stats
	// Bounds is the plot's vertical range when the sweep ended.
	Bounds Bounds
}
