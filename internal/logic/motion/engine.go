package motion

import (
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/hw/settle"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
)

// ErrUninitialized is returned by wavelength and status operations before
// Initialize has completed.
var ErrUninitialized = errors.New("monochromator not initialized")

// State is the logical shadow of the device position. It reflects the last
// command issued, not a reading from the hardware.
type State struct {
	WavelengthNm float64 `json:"wavelength_nm"`
	GratingPulse int     `json:"grating_pulse"`
	FilterIndex  int     `json:"filter"`
}

// SettleTimes are the blind waits used during initialization.
type SettleTimes struct {
	GratingHome   time.Duration
	GratingOffset time.Duration
	Latch         time.Duration
	FilterHome    time.Duration
	FilterOffset  time.Duration
}

// DefaultSettleTimes returns waits known to be long enough on the reference
// hardware.
func DefaultSettleTimes() SettleTimes {
	return SettleTimes{
		GratingHome:   10 * time.Second,
		GratingOffset: 1 * time.Second,
		Latch:         100 * time.Millisecond,
		FilterHome:    3 * time.Second,
		FilterOffset:  1 * time.Second,
	}
}

// Config configures an Engine.
type Config struct {
	Spectrometer optics.Spectrometer
	Calibration  optics.Calibration
	Settle       SettleTimes
}

// Engine converts wavelengths to grating and filter moves and keeps the
// logical position between calls. It is not safe for concurrent use;
// callers sharing an Engine must serialize access.
type Engine struct {
	ctrl    Controller
	settler settle.Settler
	cfg     Config

	state       State
	initialized bool
}

// NewEngine creates an engine. Initialize must run before any move.
func NewEngine(ctrl Controller, settler settle.Settler, cfg Config) *Engine {
	if settler == nil {
		settler = settle.Sleep{}
	}
	return &Engine{
		ctrl:    ctrl,
		settler: settler,
		cfg:     cfg,
	}
}

// Spectrometer returns the configured spectrometer variant.
func (e *Engine) Spectrometer() optics.Spectrometer {
	return e.cfg.Spectrometer
}

// Initialized reports whether Initialize has completed.
func (e *Engine) Initialized() bool {
	return e.initialized
}

// State returns the logical position.
func (e *Engine) State() (State, error) {
	if !e.initialized {
		return State{}, ErrUninitialized
	}
	return e.state, nil
}

// Target validates a wavelength request against c and returns the state it
// leads to. It needs no controller, so requests can be checked before any
// hardware is opened.
func (c Config) Target(nm float64, filter int, interlock bool) (State, error) {
	if err := c.Spectrometer.ValidateWavelength(nm); err != nil {
		return State{}, err
	}
	next, err := c.Spectrometer.SelectFilter(nm, filter, interlock)
	if err != nil {
		return State{}, err
	}
	pulse, err := c.Calibration.PulseForWavelength(nm)
	if err != nil {
		return State{}, err
	}
	return State{WavelengthNm: nm, GratingPulse: pulse, FilterIndex: next}, nil
}

// Plan validates a wavelength change and returns the move it needs
// together with the resulting state. Nothing is sent to the controller.
func (e *Engine) Plan(nm float64, filter int, interlock bool) (Command, State, error) {
	if !e.initialized {
		return Command{}, State{}, ErrUninitialized
	}
	next, err := e.cfg.Target(nm, filter, interlock)
	if err != nil {
		return Command{}, State{}, err
	}
	cmd := Command{
		Grating: next.GratingPulse - e.state.GratingPulse,
		Filter:  (next.FilterIndex - e.state.FilterIndex) * optics.PulsesPerFilterIndex,
	}
	return cmd, next, nil
}

// ChangeWavelength moves the grating to nm and the filter wheel to the
// selected filter in one combined move. With interlock on, the filter is
// picked from the wavelength band and filter only has to be valid.
//
// The logical state is updated before the move is sent and is not rolled
// back if the controller reports a failure.
func (e *Engine) ChangeWavelength(nm float64, filter int, interlock bool) error {
	cmd, next, err := e.Plan(nm, filter, interlock)
	if err != nil {
		return err
	}
	debug.Verbose("change wavelength: %g nm → %g nm, pulse %d → %d, filter %d → %d",
		e.state.WavelengthNm, nm, e.state.GratingPulse, next.GratingPulse, e.state.FilterIndex, next.FilterIndex)

	e.state = next

	debug.Move(cmd.Grating, cmd.Filter)
	if err := e.ctrl.MoveRelative(cmd.Grating, cmd.Filter); err != nil {
		return pkgerrors.Wrapf(err, "move %s", cmd)
	}
	if err := e.ctrl.Execute(); err != nil {
		return pkgerrors.Wrap(err, "execute move")
	}
	debug.Wavelength(nm, next.FilterIndex)
	return nil
}

// Status reads the controller and decodes its position. The logical state
// is left untouched.
func (e *Engine) Status() (optics.Status, error) {
	if !e.initialized {
		return optics.Status{}, ErrUninitialized
	}
	raw, err := e.ctrl.ReadStatus()
	if err != nil {
		return optics.Status{}, pkgerrors.Wrap(err, "read status")
	}
	return optics.DecodeStatus(raw, e.cfg.Calibration)
}
