// Package trigger signals an external detector that the monochromator has
// reached a scan step.
package trigger

import (
	"time"

	"github.com/pkg/errors"

	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/hw/gpio"
)

// Trigger starts one acquisition on the detector.
type Trigger interface {
	Fire() error
}

// GPIOPulse drives a detector's external trigger input:
// - idle: line at its inactive level
// - Fire: line active, hold, line back to inactive
type GPIOPulse struct {
	gpio       gpio.Driver
	pin        int
	activeHigh bool
	hold       time.Duration

	sleep func(time.Duration)
}

// NewGPIOPulse configures pin as an output and parks it inactive.
// hold is how long the line stays active on each Fire.
func NewGPIOPulse(g gpio.Driver, pin int, activeHigh bool, hold time.Duration) (*GPIOPulse, error) {
	p := &GPIOPulse{
		gpio:       g,
		pin:        pin,
		activeHigh: activeHigh,
		hold:       hold,
		sleep:      time.Sleep,
	}
	if err := g.SetupPin(pin, gpio.Output); err != nil {
		return nil, errors.Wrapf(err, "trigger pin %d", pin)
	}
	if err := g.WritePin(pin, p.inactive()); err != nil {
		return nil, errors.Wrapf(err, "trigger pin %d", pin)
	}
	return p, nil
}

func (p *GPIOPulse) active() gpio.Level   { return gpio.Level(p.activeHigh) }
func (p *GPIOPulse) inactive() gpio.Level { return gpio.Level(!p.activeHigh) }

// Fire pulses the trigger line once.
func (p *GPIOPulse) Fire() error {
	debug.Verbose("Trigger: pulse on pin %d (%v)", p.pin, p.hold)
	if err := p.gpio.WritePin(p.pin, p.active()); err != nil {
		return errors.Wrap(err, "trigger")
	}
	p.sleep(p.hold)
	if err := p.gpio.WritePin(p.pin, p.inactive()); err != nil {
		return errors.Wrap(err, "release trigger")
	}
	return nil
}
