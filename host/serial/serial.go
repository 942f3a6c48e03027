// Package serial opens the USB CDC link to a Klipper-protocol MCU
package serial

import (
	"errors"
	"io"
)

// Port represents a serial port. The native implementation wraps
// github.com/tarm/serial; tests substitute in-memory pipes.
type Port interface {
	io.ReadWriteCloser

	// Flush discards unread input and untransmitted output
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string `mapstructure:"device"`

	// Baud rate (USB CDC ignores this)
	Baud int `mapstructure:"baud"`

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int `mapstructure:"read_timeout_ms"`
}

// DefaultBaud is the standard Klipper serial rate
const DefaultBaud = 250000

// DefaultConfig returns a default configuration for Klipper
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: 100,
	}
}

// Validate checks the configuration before a port is opened
func (c *Config) Validate() error {
	if c.Device == "" {
		return errors.New("serial device not set")
	}
	if c.Baud <= 0 {
		return errors.New("serial baud rate must be positive")
	}
	if c.ReadTimeout < 0 {
		return errors.New("serial read timeout cannot be negative")
	}
	return nil
}
