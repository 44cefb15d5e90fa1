// Package settle provides the waits used after a motor command while the
// mechanics come to rest. The motion controller gives no completion
// signal, so every wait is a fixed duration that the caller picks.
package settle

import (
	"time"

	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/hw/gpio"
)

// Settler blocks for up to d while a commanded move completes.
type Settler interface {
	Wait(d time.Duration)
}

// Sleep waits the full duration in real time.
type Sleep struct{}

func (Sleep) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	debug.Verbose("settle: waiting %v", d)
	time.Sleep(d)
}

// Nop returns immediately. Waits are recorded when Record is set.
type Nop struct {
	Record *[]time.Duration
}

func (n Nop) Wait(d time.Duration) {
	if n.Record != nil {
		*n.Record = append(*n.Record, d)
	}
}

// DefaultPollInterval is how often BusyLine samples the busy pin.
const DefaultPollInterval = 10 * time.Millisecond

// DefaultMinDwell is how long BusyLine trusts an idle line that has not yet
// gone busy. Controllers raise busy a few milliseconds after a command.
const DefaultMinDwell = 100 * time.Millisecond

// BusyLine waits while a controller busy output is active, returning early
// once it goes idle. Idle only ends the wait after the line has been seen
// busy, or after MinDwell. It never waits longer than the requested duration.
type BusyLine struct {
	GPIO       gpio.Driver
	Pin        int
	ActiveHigh bool
	Poll       time.Duration
	MinDwell   time.Duration // 0 uses DefaultMinDwell

	now   func() time.Time
	sleep func(time.Duration)
}

// NewBusyLine configures pin as an input and returns a settler polling it.
func NewBusyLine(g gpio.Driver, pin int, activeHigh bool) (*BusyLine, error) {
	mode := gpio.InputPullUp
	if activeHigh {
		mode = gpio.Input
	}
	if err := g.SetupPin(pin, mode); err != nil {
		return nil, err
	}
	return &BusyLine{
		GPIO:       g,
		Pin:        pin,
		ActiveHigh: activeHigh,
		Poll:       DefaultPollInterval,
		MinDwell:   DefaultMinDwell,
	}, nil
}

func (b *BusyLine) Wait(d time.Duration) {
	if d <= 0 {
		return
	}
	now, sleep := b.now, b.sleep
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = time.Sleep
	}
	poll := b.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	minDwell := b.MinDwell
	if minDwell <= 0 {
		minDwell = DefaultMinDwell
	}
	if minDwell > d {
		minDwell = d
	}

	start := now()
	deadline := start.Add(d)
	dwellEnd := start.Add(minDwell)
	seenBusy := false
	for {
		remaining := deadline.Sub(now())
		if remaining <= 0 {
			debug.Verbose("settle: busy line %d still active after %v", b.Pin, d)
			return
		}
		level, err := b.GPIO.ReadPin(b.Pin)
		if err != nil {
			debug.Error(err)
			sleep(remaining)
			return
		}
		if bool(level) == b.ActiveHigh {
			seenBusy = true
		} else if seenBusy || !now().Before(dwellEnd) {
			return
		}
		if poll > remaining {
			poll = remaining
		}
		sleep(poll)
	}
}
