// Package serial opens the RS-232 link to the motion controller.
package serial

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Port is an open serial line.
type Port interface {
	io.ReadWriteCloser
}

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyUSB0", "COM3")
	Device string

	// Baud rate, 9600 on the factory setting of SHOT controllers
	Baud int

	// ReadTimeout bounds each read (0 = blocking)
	ReadTimeout time.Duration
}

// DefaultConfig returns the controller factory settings for device.
func DefaultConfig(device string) Config {
	return Config{
		Device:      device,
		Baud:        9600,
		ReadTimeout: time.Second,
	}
}

// Open opens the serial port with 8 data bits, no parity, 1 stop bit.
func Open(cfg Config) (Port, error) {
	if cfg.Device == "" {
		return nil, errors.New("serial device is required")
	}
	port, err := serial.OpenPort(&serial.Config{
		Name:        cfg.Device,
		Baud:        cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}
	return port, nil
}
