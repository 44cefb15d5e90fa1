package motion

import (
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/cjeanneret/MonoGo/internal/debug"
)

// Initialization phases, in order.
type Phase int

const (
	GratingHoming Phase = iota
	GratingOffset
	GratingZeroLatch
	FilterHoming
	FilterOffset
	FilterZeroLatch
	Done
)

var phaseNames = [...]string{
	"grating homing",
	"grating offset",
	"grating zero latch",
	"filter homing",
	"filter homing offset",
	"filter zero latch",
	"done",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

const (
	// The grating is parked C1-1000 pulses from its mechanical origin.
	gratingParkMargin  = 1000
	filterHomePulses   = -3000
	filterLimitBackoff = 10
)

// PhaseError reports the initialization phase that failed.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return "initialize: " + e.Phase.String() + ": " + e.Err.Error()
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Initialize homes both axes and latches their electrical origins:
//
//  1. grating returns to its mechanical origin
//  2. grating moves C1-1000 pulses
//  3. grating origin is latched, wavelength 0
//  4. filter drives -3000 pulses into its limit sensor
//  5. filter backs off 10 pulses
//  6. filter origin is latched, filter 1
//
// It returns the controller status read once both axes are latched. On any
// failure the engine stays uninitialized and Initialize must run again
// from the start.
func (e *Engine) Initialize() (string, error) {
	e.initialized = false
	st := e.cfg.Settle

	debug.Section("Initialization")

	steps := []struct {
		phase Phase
		run   func() error
	}{
		{GratingHoming, func() error {
			if err := e.ctrl.ReturnToOrigin(true, false); err != nil {
				return err
			}
			e.settler.Wait(st.GratingHome)
			return nil
		}},
		{GratingOffset, func() error {
			return e.moveAndSettle(e.cfg.Calibration.C1-gratingParkMargin, 0, st.GratingOffset)
		}},
		{GratingZeroLatch, func() error {
			if err := e.ctrl.LatchOrigin(true, false); err != nil {
				return err
			}
			e.settler.Wait(st.Latch)
			e.state.GratingPulse = 0
			e.state.WavelengthNm = 0
			return nil
		}},
		{FilterHoming, func() error {
			return e.moveAndSettle(0, filterHomePulses, st.FilterHome)
		}},
		{FilterOffset, func() error {
			return e.moveAndSettle(0, filterLimitBackoff, st.FilterOffset)
		}},
		{FilterZeroLatch, func() error {
			if err := e.ctrl.LatchOrigin(false, true); err != nil {
				return err
			}
			e.state.FilterIndex = 1
			return nil
		}},
	}

	for _, s := range steps {
		debug.Step(int(s.phase)+1, s.phase.String())
		if err := s.run(); err != nil {
			return "", &PhaseError{Phase: s.phase, Err: err}
		}
	}

	raw, err := e.ctrl.ReadStatus()
	if err != nil {
		return "", &PhaseError{Phase: Done, Err: pkgerrors.Wrap(err, "read status")}
	}
	e.initialized = true
	debug.Value("Status after initialization", raw)
	return raw, nil
}

func (e *Engine) moveAndSettle(grating, filter int, wait time.Duration) error {
	cmd := Command{Grating: grating, Filter: filter}
	debug.Move(cmd.Grating, cmd.Filter)
	if err := e.ctrl.MoveRelative(cmd.Grating, cmd.Filter); err != nil {
		return pkgerrors.Wrapf(err, "move %s", cmd)
	}
	if err := e.ctrl.Execute(); err != nil {
		return pkgerrors.Wrap(err, "execute move")
	}
	e.settler.Wait(wait)
	return nil
}
