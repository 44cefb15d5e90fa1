package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cjeanneret/MonoGo/internal/config"
	"github.com/cjeanneret/MonoGo/internal/debug"
	"github.com/cjeanneret/MonoGo/internal/hw/gpio"
	"github.com/cjeanneret/MonoGo/internal/hw/serial"
	"github.com/cjeanneret/MonoGo/internal/hw/settle"
	"github.com/cjeanneret/MonoGo/internal/hw/shot"
	"github.com/cjeanneret/MonoGo/internal/hw/stepper"
	"github.com/cjeanneret/MonoGo/internal/hw/trigger"
	"github.com/cjeanneret/MonoGo/internal/logic/motion"
	"github.com/cjeanneret/MonoGo/internal/logic/scan"
)

// Pins used by the simulated axes when the config leaves them unset.
var (
	mockGratingStepper = config.StepperConfig{StepPin: 17, DirPin: 27, HomePin: 22, StepDelayUs: 20}
	mockFilterStepper  = config.StepperConfig{StepPin: 23, DirPin: 24, HomePin: 25, StepDelayUs: 20}
)

// mockParkDistance is how far above its limit switch each simulated axis
// starts.
const mockParkDistance = 2500

// device owns the hardware behind one engine.
type device struct {
	engine  *motion.Engine
	ctrl    motion.Controller
	settler settle.Settler
	trigger scan.Trigger // nil = no detector trigger
	closers []io.Closer
}

// openDevice builds the controller, settler and engine described by cfg.
func openDevice(cfg *config.Config) (*device, error) {
	d := &device{}
	var gpioDriver gpio.Driver

	driver := func() (gpio.Driver, error) {
		if gpioDriver != nil {
			return gpioDriver, nil
		}
		g, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
		if err != nil {
			return nil, fmt.Errorf("init GPIO: %w", err)
		}
		gpioDriver = g
		d.closers = append(d.closers, g)
		return g, nil
	}

	var ctrl motion.Controller
	switch {
	case cfg.Defaults.MockGPIO:
		debug.Info("Using simulated controller")
		drv := &gpio.MockDriver{}
		gpioDriver = drv
		c, err := newStepperController(drv, withDefaults(cfg.GratingStepper, mockGratingStepper), withDefaults(cfg.FilterStepper, mockFilterStepper))
		if err != nil {
			return nil, err
		}
		stepper.Simulate(drv, mockParkDistance, c.Axes()...)
		ctrl = c

	case cfg.Controller.Type == config.ControllerShot:
		debug.Value("Serial device", cfg.Controller.Device)
		port, err := serial.Open(cfg.Serial())
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, port)
		ctrl = shot.New(port)

	default:
		g, err := driver()
		if err != nil {
			return nil, err
		}
		c, err := newStepperController(g, cfg.GratingStepper, cfg.FilterStepper)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, disabler{c})
		ctrl = c
	}

	switch {
	case cfg.Defaults.MockGPIO:
		d.settler = settle.Nop{}
	case cfg.Settle.BusyPin > 0:
		g, err := driver()
		if err != nil {
			d.Close()
			return nil, err
		}
		busy, err := settle.NewBusyLine(g, cfg.Settle.BusyPin, cfg.Settle.BusyActiveHigh)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("busy line: %w", err)
		}
		d.settler = busy
	default:
		d.settler = settle.Sleep{}
	}

	if cfg.Trigger.Pin > 0 {
		g, err := driver()
		if err != nil {
			d.Close()
			return nil, err
		}
		t, err := trigger.NewGPIOPulse(g, cfg.Trigger.Pin, cfg.Trigger.ActiveHigh, cfg.TriggerPulse())
		if err != nil {
			d.Close()
			return nil, err
		}
		debug.Value("Trigger pin", cfg.Trigger.Pin)
		d.trigger = t
	}

	d.ctrl = ctrl
	d.engine = motion.NewEngine(ctrl, d.settler, cfg.EngineConfig())
	return d, nil
}

// rawCommunicator is implemented by controllers that take free-form
// command lines.
type rawCommunicator interface {
	Raw(line string) (string, error)
}

// raw sends line to the controller as is and returns its reply.
func (d *device) raw(line string) (string, error) {
	rc, ok := d.ctrl.(rawCommunicator)
	if !ok {
		return "", fmt.Errorf("controller %T does not accept raw commands", d.ctrl)
	}
	return rc.Raw(line)
}

// sequence returns a scan sequence over the engine. Scan dwells always run
// in real time.
func (d *device) sequence() *scan.Sequence {
	return scan.NewSequence(d.engine, settle.Sleep{}).WithTrigger(d.trigger)
}

func newStepperController(g gpio.Driver, grating, filter config.StepperConfig) (*stepper.Controller, error) {
	gs, err := stepper.NewStepper(g, grating.Stepper("grating"))
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Grating stepper config", grating)
	fs, err := stepper.NewStepper(g, filter.Stepper("filter"))
	if err != nil {
		return nil, err
	}
	debug.PrintStruct("Filter stepper config", filter)
	return stepper.NewController(gs, fs), nil
}

// withDefaults fills the pins and timing of s left at zero from def.
func withDefaults(s, def config.StepperConfig) config.StepperConfig {
	if s.StepPin == 0 {
		s.StepPin = def.StepPin
	}
	if s.DirPin == 0 {
		s.DirPin = def.DirPin
	}
	if s.HomePin == 0 {
		s.HomePin = def.HomePin
	}
	if s.StepDelayUs == 0 {
		s.StepDelayUs = def.StepDelayUs
	}
	return s
}

// initialize homes the device and logs the controller status.
func (d *device) initialize() (string, error) {
	start := time.Now()
	raw, err := d.engine.Initialize()
	if err != nil {
		return "", err
	}
	logrus.WithField("took", time.Since(start).Round(time.Millisecond)).Infof("initialized, status %q", raw)
	return raw, nil
}

// Close releases the hardware in reverse order of acquisition.
func (d *device) Close() error {
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i].Close(); err != nil {
			logrus.WithError(err).Warn("closing device")
			if first == nil {
				first = err
			}
		}
	}
	d.closers = nil
	return first
}

// disabler releases the motor drivers on close.
type disabler struct {
	c *stepper.Controller
}

func (d disabler) Close() error {
	return d.c.Disable()
}
