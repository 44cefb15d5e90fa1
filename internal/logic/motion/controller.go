package motion

import "fmt"

// Controller is the two-axis motion controller driving the grating (axis 1)
// and the filter wheel (axis 2). Implementations live under internal/hw.
type Controller interface {
	// MoveRelative queues a relative move in pulses on both axes.
	MoveRelative(gratingPulses, filterPulses int) error
	// ReturnToOrigin seeks the mechanical origin on the selected axes.
	ReturnToOrigin(grating, filter bool) error
	// LatchOrigin makes the current position the electrical origin.
	LatchOrigin(grating, filter bool) error
	// Execute starts the queued relative move.
	Execute() error
	// ReadStatus returns the raw fixed-width status line.
	ReadStatus() (string, error)
}

// Command is one combined relative move.
type Command struct {
	Grating int
	Filter  int
}

// String encodes the move as the controller instruction M:W±P<g>±P<f>.
func (c Command) String() string {
	return "M:W" + signedPulses(c.Grating) + signedPulses(c.Filter)
}

func signedPulses(n int) string {
	if n < 0 {
		return fmt.Sprintf("-P%d", -n)
	}
	return fmt.Sprintf("+P%d", n)
}
