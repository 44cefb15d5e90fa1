package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/MonoGo/internal/hw/serial"
	"github.com/cjeanneret/MonoGo/internal/hw/stepper"
	"github.com/cjeanneret/MonoGo/internal/logic/motion"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
	"github.com/cjeanneret/MonoGo/internal/logic/scan"
)

// MaxConfigFileBytes caps the size of a config file.
const MaxConfigFileBytes = 64 * 1024

// Controller types.
const (
	ControllerShot    = "shot"
	ControllerStepper = "stepper"
)

// SpectrometerConfig selects the product and its calibration constants.
type SpectrometerConfig struct {
	Type string  `yaml:"type"` // uv, s or ir
	C1   int     `yaml:"c1"`   // grating origin offset (pulses)
	C2   float64 `yaml:"c2"`   // dispersion correction
}

// ControllerConfig describes how to reach the motion controller.
type ControllerConfig struct {
	Type          string `yaml:"type"`            // "shot" (serial) or "stepper" (GPIO)
	Device        string `yaml:"device"`          // serial device for "shot"
	Baud          int    `yaml:"baud"`            // serial baud rate
	ReadTimeoutMs int    `yaml:"read_timeout_ms"` // serial read timeout
}

// StepperConfig holds the configuration for one directly driven axis.
type StepperConfig struct {
	StepPin      int `yaml:"step_pin"`
	DirPin       int `yaml:"dir_pin"`
	EnablePin    int `yaml:"enable_pin"`     // 0 = not used. Active LOW.
	HomePin      int `yaml:"home_pin"`       // limit switch, 0 = none. Active LOW.
	StepDelayUs  int `yaml:"step_delay_us"`  // half-cycle of the STEP pulse
	MaxHomeSteps int `yaml:"max_home_steps"` // bound on a home search
}

// SettleConfig holds the blind waits after each motion (ms).
type SettleConfig struct {
	GratingHomeMs   int  `yaml:"grating_home_ms"`
	GratingOffsetMs int  `yaml:"grating_offset_ms"`
	LatchMs         int  `yaml:"latch_ms"`
	FilterHomeMs    int  `yaml:"filter_home_ms"`
	FilterOffsetMs  int  `yaml:"filter_offset_ms"`
	ScanStartMs     int  `yaml:"scan_start_ms"`
	BusyPin         int  `yaml:"busy_pin"`         // controller busy output, 0 = blind waits
	BusyActiveHigh  bool `yaml:"busy_active_high"` // busy line polarity
}

// ScanConfig holds scan defaults.
type ScanConfig struct {
	IntervalMs int     `yaml:"interval_ms"`
	PitchNm    float64 `yaml:"pitch_nm"`
}

// TriggerConfig describes the detector trigger output pulsed at each scan step.
type TriggerConfig struct {
	Pin        int  `yaml:"pin"`         // 0 = no trigger
	ActiveHigh bool `yaml:"active_high"` // false = pulse LOW, like a camera remote
	PulseMs    int  `yaml:"pulse_ms"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Spectrometer   SpectrometerConfig `yaml:"spectrometer"`
	Controller     ControllerConfig   `yaml:"controller"`
	GratingStepper StepperConfig      `yaml:"grating_stepper"`
	FilterStepper  StepperConfig      `yaml:"filter_stepper"`
	Settle         SettleConfig       `yaml:"settle"`
	Scan           ScanConfig         `yaml:"scan"`
	Trigger        TriggerConfig      `yaml:"trigger"`
	Defaults       DefaultsConfig     `yaml:"defaults"`
}

// ValidateConfigPath accepts only *.yaml files directly inside a directory
// named "configs", with no ".." left after cleaning.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Spectrometer.Type == "" {
		return fmt.Errorf("spectrometer.type is required")
	}
	if _, err := optics.ParseSpectrometer(c.Spectrometer.Type); err != nil {
		return fmt.Errorf("spectrometer.type: %w", err)
	}
	if c.Spectrometer.C1 == 0 {
		c.Spectrometer.C1 = optics.DefaultC1
	}
	if c.Spectrometer.C1 < 0 {
		return fmt.Errorf("spectrometer.c1 must be > 0, got %d", c.Spectrometer.C1)
	}
	if c.Spectrometer.C2 == 0 {
		c.Spectrometer.C2 = optics.DefaultC2
	}
	if c.Spectrometer.C2 <= -1 || c.Spectrometer.C2 >= 1 {
		return fmt.Errorf("spectrometer.c2 must be a small correction, got %g", c.Spectrometer.C2)
	}

	switch c.Controller.Type {
	case "":
		c.Controller.Type = ControllerShot
	case ControllerShot, ControllerStepper:
	default:
		return fmt.Errorf("unsupported controller type: %s", c.Controller.Type)
	}
	if c.Controller.Type == ControllerShot && c.Controller.Device == "" && !c.Defaults.MockGPIO {
		return fmt.Errorf("controller.device is required for a %s controller", ControllerShot)
	}
	factory := serial.DefaultConfig(c.Controller.Device)
	if c.Controller.Baud <= 0 {
		c.Controller.Baud = factory.Baud
	}
	if c.Controller.ReadTimeoutMs <= 0 {
		c.Controller.ReadTimeoutMs = int(factory.ReadTimeout.Milliseconds())
	}

	if c.Controller.Type == ControllerStepper && !c.Defaults.MockGPIO {
		for name, s := range map[string]StepperConfig{"grating_stepper": c.GratingStepper, "filter_stepper": c.FilterStepper} {
			if s.StepPin <= 0 || s.DirPin <= 0 {
				return fmt.Errorf("%s.step_pin and dir_pin are required", name)
			}
			if s.HomePin <= 0 {
				return fmt.Errorf("%s.home_pin is required for homing", name)
			}
		}
	}

	st := motion.DefaultSettleTimes()
	defaultMs(&c.Settle.GratingHomeMs, int(st.GratingHome.Milliseconds()))
	defaultMs(&c.Settle.GratingOffsetMs, int(st.GratingOffset.Milliseconds()))
	defaultMs(&c.Settle.LatchMs, int(st.Latch.Milliseconds()))
	defaultMs(&c.Settle.FilterHomeMs, int(st.FilterHome.Milliseconds()))
	defaultMs(&c.Settle.FilterOffsetMs, int(st.FilterOffset.Milliseconds()))
	defaultMs(&c.Settle.ScanStartMs, int(scan.DefaultStartDelay.Milliseconds()))

	minInterval := int(scan.MinInterval.Milliseconds())
	defaultMs(&c.Scan.IntervalMs, minInterval)
	if c.Scan.IntervalMs < minInterval {
		return fmt.Errorf("scan.interval_ms must be >= %d, got %d", minInterval, c.Scan.IntervalMs)
	}
	if c.Scan.PitchNm <= 0 {
		c.Scan.PitchNm = 1
	}

	if c.Trigger.Pin < 0 {
		return fmt.Errorf("trigger.pin must be >= 0, got %d", c.Trigger.Pin)
	}
	if c.Trigger.Pin > 0 {
		defaultMs(&c.Trigger.PulseMs, 50)
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func defaultMs(v *int, def int) {
	if *v <= 0 {
		*v = def
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// SpectrometerVariant returns the configured product variant.
func (c *Config) SpectrometerVariant() optics.Spectrometer {
	s, _ := optics.ParseSpectrometer(c.Spectrometer.Type)
	return s
}

// Calibration returns the calibration constants.
func (c *Config) Calibration() optics.Calibration {
	return optics.Calibration{C1: c.Spectrometer.C1, C2: c.Spectrometer.C2}
}

// SettleTimes returns the initialization waits.
func (c *Config) SettleTimes() motion.SettleTimes {
	return motion.SettleTimes{
		GratingHome:   ms(c.Settle.GratingHomeMs),
		GratingOffset: ms(c.Settle.GratingOffsetMs),
		Latch:         ms(c.Settle.LatchMs),
		FilterHome:    ms(c.Settle.FilterHomeMs),
		FilterOffset:  ms(c.Settle.FilterOffsetMs),
	}
}

// EngineConfig returns the engine configuration.
func (c *Config) EngineConfig() motion.Config {
	return motion.Config{
		Spectrometer: c.SpectrometerVariant(),
		Calibration:  c.Calibration(),
		Settle:       c.SettleTimes(),
	}
}

// ScanStartDelay returns the wait after moving to a scan's first wavelength.
func (c *Config) ScanStartDelay() time.Duration {
	return ms(c.Settle.ScanStartMs)
}

// ScanInterval returns the default dwell between scan steps.
func (c *Config) ScanInterval() time.Duration {
	return ms(c.Scan.IntervalMs)
}

// TriggerPulse returns how long the trigger line is held active.
func (c *Config) TriggerPulse() time.Duration {
	return ms(c.Trigger.PulseMs)
}

// Serial returns the serial port settings.
func (c *Config) Serial() serial.Config {
	return serial.Config{
		Device:      c.Controller.Device,
		Baud:        c.Controller.Baud,
		ReadTimeout: ms(c.Controller.ReadTimeoutMs),
	}
}

// Stepper returns the stepper settings for an axis.
func (s StepperConfig) Stepper(name string) stepper.Config {
	return stepper.Config{
		Name:         name,
		StepPin:      s.StepPin,
		DirPin:       s.DirPin,
		EnablePin:    s.EnablePin,
		HomePin:      s.HomePin,
		StepDelay:    time.Duration(s.StepDelayUs) * time.Microsecond,
		MaxHomeSteps: s.MaxHomeSteps,
	}
}
