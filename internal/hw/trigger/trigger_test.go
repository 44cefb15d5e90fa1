package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/cjeanneret/MonoGo/internal/hw/gpio"
)

// recordingDriver records GPIO calls for verification.
type recordingDriver struct {
	calls    []gpioCall
	failNext bool
}

type gpioCall struct {
	op    string
	pin   int
	level gpio.Level
}

func (d *recordingDriver) SetupPin(pin int, mode gpio.PinMode) error {
	d.calls = append(d.calls, gpioCall{op: "setup", pin: pin})
	return nil
}

func (d *recordingDriver) WritePin(pin int, level gpio.Level) error {
	if d.failNext {
		d.failNext = false
		return errors.New("write failed")
	}
	d.calls = append(d.calls, gpioCall{op: "write", pin: pin, level: level})
	return nil
}

func (d *recordingDriver) ReadPin(pin int) (gpio.Level, error) {
	return gpio.Low, nil
}

func (d *recordingDriver) Close() error { return nil }

func (d *recordingDriver) writeCalls() []gpioCall {
	var result []gpioCall
	for _, c := range d.calls {
		if c.op == "write" {
			result = append(result, c)
		}
	}
	return result
}

func TestGPIOPulse_ParkedInactive(t *testing.T) {
	drv := &recordingDriver{}
	if _, err := NewGPIOPulse(drv, 16, false, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	w := drv.writeCalls()
	if len(w) != 1 || w[0].pin != 16 || w[0].level != gpio.High {
		t.Errorf("active-low trigger should idle HIGH, got %+v", w)
	}
}

func TestGPIOPulse_FireSequence(t *testing.T) {
	for _, activeHigh := range []bool{false, true} {
		drv := &recordingDriver{}
		p, err := NewGPIOPulse(drv, 16, activeHigh, 5*time.Millisecond)
		if err != nil {
			t.Fatal(err)
		}
		var held []time.Duration
		p.sleep = func(d time.Duration) { held = append(held, d) }
		drv.calls = nil

		if err := p.Fire(); err != nil {
			t.Fatalf("Fire: %v", err)
		}

		w := drv.writeCalls()
		want := []gpio.Level{gpio.Level(activeHigh), gpio.Level(!activeHigh)}
		if len(w) != 2 {
			t.Fatalf("activeHigh=%v: expected 2 writes, got %+v", activeHigh, w)
		}
		for i := range want {
			if w[i].level != want[i] {
				t.Errorf("activeHigh=%v: write %d level=%v, want %v", activeHigh, i, w[i].level, want[i])
			}
		}
		if len(held) != 1 || held[0] != 5*time.Millisecond {
			t.Errorf("hold = %v", held)
		}
	}
}

func TestGPIOPulse_FireError(t *testing.T) {
	drv := &recordingDriver{}
	p, _ := NewGPIOPulse(drv, 16, false, 0)
	drv.failNext = true
	if err := p.Fire(); err == nil {
		t.Error("expected error when the line cannot be driven")
	}
}

func TestGPIOPulse_ImplementsTrigger(t *testing.T) {
	var _ Trigger = &GPIOPulse{}
}
