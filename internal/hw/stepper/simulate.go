package stepper

import "github.com/cjeanneret/MonoGo/internal/hw/gpio"

// Simulate makes drv report each axis' limit switch as pressed once the axis
// has travelled start steps in the negative direction, so homing and limit
// stops behave as on the bench without hardware.
func Simulate(drv *gpio.MockDriver, start int, axes ...*Stepper) {
	byPin := make(map[int]*Stepper, len(axes))
	for _, a := range axes {
		a.travel = start
		if a.cfg.HomePin > 0 {
			byPin[a.cfg.HomePin] = a
		}
	}
	drv.ReadHook = func(pin int) (gpio.Level, bool) {
		a, ok := byPin[pin]
		if !ok {
			return gpio.Low, false
		}
		return gpio.Level(a.travel > 0), true
	}
}
