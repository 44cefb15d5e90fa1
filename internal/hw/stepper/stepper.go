package stepper

import (
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/hw/gpio"
)

// ErrHomeNotFound is returned when the limit switch does not trigger within
// MaxHomeSteps.
var ErrHomeNotFound = errors.New("home switch not reached")

// DefaultMaxHomeSteps bounds a home search when the config leaves it unset.
const DefaultMaxHomeSteps = 20000

// Config holds the hardware configuration for one axis.
type Config struct {
	Name         string
	StepPin      int
	DirPin       int
	EnablePin    int           // driver ENABLE pin (BCM). 0 = not used. Active LOW.
	HomePin      int           // limit switch at the negative end (BCM). 0 = none. Active LOW.
	StepDelay    time.Duration // half-cycle of the STEP pulse
	MaxHomeSteps int
}

// Stepper drives one step/dir axis and counts its position in pulses.
type Stepper struct {
	gpio  gpio.Driver
	cfg   Config
	delay time.Duration

	position  int
	limitStop bool
	travel    int // steps above the limit switch, tracked for Simulate
}

// NewStepper configures the pins of one axis.
// cfg.StepDelay: if 0, defaults to 1ms.
func NewStepper(g gpio.Driver, cfg Config) (*Stepper, error) {
	if err := g.SetupPin(cfg.StepPin, gpio.Output); err != nil {
		return nil, errors.Wrapf(err, "%s step pin", cfg.Name)
	}
	if err := g.SetupPin(cfg.DirPin, gpio.Output); err != nil {
		return nil, errors.Wrapf(err, "%s dir pin", cfg.Name)
	}
	if cfg.HomePin > 0 {
		if err := g.SetupPin(cfg.HomePin, gpio.InputPullUp); err != nil {
			return nil, errors.Wrapf(err, "%s home pin", cfg.Name)
		}
	}
	if cfg.MaxHomeSteps <= 0 {
		cfg.MaxHomeSteps = DefaultMaxHomeSteps
	}

	delay := cfg.StepDelay
	if delay <= 0 {
		delay = 1 * time.Millisecond
	}

	s := &Stepper{
		gpio:  g,
		cfg:   cfg,
		delay: delay,
	}

	if cfg.EnablePin > 0 {
		if err := g.SetupPin(cfg.EnablePin, gpio.Output); err != nil {
			return nil, errors.Wrapf(err, "%s enable pin", cfg.Name)
		}
		if err := g.WritePin(cfg.EnablePin, gpio.Low); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Position returns the pulse count relative to the last latched origin.
func (s *Stepper) Position() int {
	return s.position
}

// LimitStop reports whether the last negative move ended on the limit switch.
func (s *Stepper) LimitStop() bool {
	return s.limitStop
}

// Latch makes the current position zero.
func (s *Stepper) Latch() {
	s.position = 0
}

// AtHome reports whether the limit switch is pressed. Axes without a switch
// never report home.
func (s *Stepper) AtHome() (bool, error) {
	if s.cfg.HomePin <= 0 {
		return false, nil
	}
	level, err := s.gpio.ReadPin(s.cfg.HomePin)
	if err != nil {
		return false, err
	}
	return level == gpio.Low, nil
}

// MoveSteps moves the motor by a number of steps (positive or negative).
// A negative move stops early once the limit switch is pressed.
func (s *Stepper) MoveSteps(steps int) error {
	s.limitStop = false
	if steps == 0 {
		return nil
	}

	dirLevel, sign, direction := gpio.High, 1, "forward"
	if steps < 0 {
		dirLevel, sign, direction = gpio.Low, -1, "backward"
		steps = -steps
	}

	debug.Printf("Stepper %s: moving %d steps (%s)", s.cfg.Name, steps, direction)

	if err := s.gpio.WritePin(s.cfg.DirPin, dirLevel); err != nil {
		return err
	}

	for i := 0; i < steps; i++ {
		if sign < 0 {
			home, err := s.AtHome()
			if err != nil {
				return err
			}
			if home {
				debug.Printf("Stepper %s: limit reached after %d steps", s.cfg.Name, i)
				s.limitStop = true
				return nil
			}
		}
		if err := s.stepPulse(); err != nil {
			return err
		}
		s.position += sign
		s.travel += sign
	}
	return nil
}

// Home drives the axis negative until the limit switch triggers.
func (s *Stepper) Home() error {
	if s.cfg.HomePin <= 0 {
		return errors.Errorf("%s axis has no home switch", s.cfg.Name)
	}
	if err := s.MoveSteps(-s.cfg.MaxHomeSteps); err != nil {
		return err
	}
	home, err := s.AtHome()
	if err != nil {
		return err
	}
	if !home {
		return errors.Wrapf(ErrHomeNotFound, "%s after %d steps", s.cfg.Name, s.cfg.MaxHomeSteps)
	}
	return nil
}

func (s *Stepper) stepPulse() error {
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.High); err != nil {
		return err
	}
	time.Sleep(s.delay)
	if err := s.gpio.WritePin(s.cfg.StepPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(s.delay)
	return nil
}

// Enable turns on the motor driver (ENABLE=LOW). Motors hold position.
func (s *Stepper) Enable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.Low)
}

// Disable turns off the motor driver (ENABLE=HIGH). Motors freewheel.
func (s *Stepper) Disable() error {
	if s.cfg.EnablePin <= 0 {
		return nil
	}
	return s.gpio.WritePin(s.cfg.EnablePin, gpio.High)
}
