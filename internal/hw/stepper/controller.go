package stepper

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/cjeanneret/MonoGo/internal/logic/motion"
)

// Controller drives the grating and filter wheel directly from GPIO and
// reports status in the same fixed-width format as a SHOT controller.
// Moves block until the last pulse is sent.
type Controller struct {
	grating *Stepper
	filter  *Stepper

	queued    motion.Command
	hasQueued bool
	lastErr   bool
}

var _ motion.Controller = (*Controller)(nil)

func NewController(grating, filter *Stepper) *Controller {
	return &Controller{
		grating: grating,
		filter:  filter,
	}
}

// Axes returns the grating and filter steppers.
func (c *Controller) Axes() []*Stepper {
	return []*Stepper{c.grating, c.filter}
}

// MoveRelative queues a move; a second call before Execute adds to it.
func (c *Controller) MoveRelative(gratingPulses, filterPulses int) error {
	c.queued.Grating += gratingPulses
	c.queued.Filter += filterPulses
	c.hasQueued = true
	return nil
}

// Execute runs the queued move, grating first.
func (c *Controller) Execute() error {
	if !c.hasQueued {
		return nil
	}
	cmd := c.queued
	c.queued = motion.Command{}
	c.hasQueued = false

	c.lastErr = true
	if err := c.grating.MoveSteps(cmd.Grating); err != nil {
		return errors.Wrapf(err, "grating %+d", cmd.Grating)
	}
	if err := c.filter.MoveSteps(cmd.Filter); err != nil {
		return errors.Wrapf(err, "filter %+d", cmd.Filter)
	}
	c.lastErr = false
	return nil
}

func (c *Controller) ReturnToOrigin(grating, filter bool) error {
	c.lastErr = true
	if grating {
		if err := c.grating.Home(); err != nil {
			return err
		}
	}
	if filter {
		if err := c.filter.Home(); err != nil {
			return err
		}
	}
	c.lastErr = false
	return nil
}

func (c *Controller) LatchOrigin(grating, filter bool) error {
	if grating {
		c.grating.Latch()
	}
	if filter {
		c.filter.Latch()
	}
	return nil
}

// ReadStatus formats "%10d,%10d,<K|X>,<K|L>,R".
func (c *Controller) ReadStatus() (string, error) {
	ack1 := "K"
	if c.lastErr {
		ack1 = "X"
	}
	ack2 := "K"
	if c.grating.LimitStop() || c.filter.LimitStop() {
		ack2 = "L"
	}
	return fmt.Sprintf("%10d,%10d,%s,%s,R", c.grating.Position(), c.filter.Position(), ack1, ack2), nil
}

// Enable powers both drivers.
func (c *Controller) Enable() error {
	if err := c.grating.Enable(); err != nil {
		return err
	}
	return c.filter.Enable()
}

// Disable releases both drivers.
func (c *Controller) Disable() error {
	if err := c.grating.Disable(); err != nil {
		return err
	}
	return c.filter.Disable()
}
