package printer

import (
	"math"
)

// State is the normalized printer state. The ordering is meaningful:
// callers test State() >= Complete to see whether there is a result
// worth displaying.
type State int

const (
	Offline State = iota
	Operational
	Complete
	Printing
)

func (s State) String() string {
	switch s {
	case Offline:
		return "Offline"
	case Operational:
		return "Online"
	case Complete:
		return "Complete"
	case Printing:
		return "Printing"
	}
	return "Unknown"
}

// Temps is an actual/target temperature pair in degrees C.
type Temps struct {
	Actual float64 `json:"actual"`
	Target float64 `json:"target"`
}

// Status holds the normalized status of one printer.
// The zero value is the reset state: Offline, no file, all numbers zero.
type Status struct {
	State           State   `json:"state"`
	Filename        string  `json:"filename"`
	PercentComplete float64 `json:"percent_complete"` // 0 - 100

	// PrintTimeEstimate is the total expected duration of the job in
	// seconds. It is never less than Elapsed once derived.
	PrintTimeEstimate uint32  `json:"print_time_estimate"`
	Elapsed           float64 `json:"elapsed"` // seconds

	Tool Temps `json:"tool"`
	Bed  Temps `json:"bed"`
}

// Reset returns the status to its unset state.
func (s *Status) Reset() {
	*s = Status{}
}

// TimeLeft returns the remaining print time in seconds.
func (s *Status) TimeLeft() uint32 {
	elapsed := s.ElapsedSeconds()
	if s.PrintTimeEstimate <= elapsed {
		return 0
	}
	return s.PrintTimeEstimate - elapsed
}

// ElapsedSeconds returns Elapsed truncated to whole seconds.
func (s *Status) ElapsedSeconds() uint32 {
	if s.Elapsed <= 0 {
		return 0
	}
	if s.Elapsed >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(s.Elapsed)
}

// clampPercent keeps a percentage within [0,100].
func clampPercent(pct float64) float64 {
	if math.IsNaN(pct) || pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// toUint32 truncates a non-negative float to a uint32,
// saturating at the top of the range.
func toUint32(v float64) uint32 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}
