package gpio

import (
	"sync"

	"github.com/cjeanneret/MonoGo/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up, for active-low switches
)

// Driver defines the abstract interface for controlling GPIOs.
// Motor step/dir lines, limit switches and the controller busy line all
// go through it, so the whole stack runs on a PC with MockDriver.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver logs actions and reports input levels from ReadHook, then
// Inputs. Unset inputs read Low.
type MockDriver struct {
	mu     sync.Mutex
	Inputs map[int]Level

	// ReadHook, when set and returning ok, overrides Inputs.
	ReadHook func(pin int) (level Level, ok bool)
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return &MockDriver{}, nil
	}
	return NewRPiRealDriver()
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	hook := m.ReadHook
	level := m.Inputs[pin]
	m.mu.Unlock()
	if hook != nil {
		if l, ok := hook(pin); ok {
			level = l
		}
	}
	debug.GPIO("ReadPin", pin, level)
	return level, nil
}

// SetInput sets the level later returned by ReadPin for pin.
func (m *MockDriver) SetInput(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Inputs == nil {
		m.Inputs = make(map[int]Level)
	}
	m.Inputs[pin] = level
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
