package dac

import "errors"

// SPI bus requirements of the AD568x family
const (
	// SPIMode is CPOL=0, CPHA=1: clock idles low, data latched on the
	// falling edge
	SPIMode = 1

	// MaxClockHz is the highest SCLK rate the family accepts
	MaxClockHz = 50_000_000
)

var (
	ErrNoClockRate      = errors.New("ad568x: SPI clock rate must be set explicitly")
	ErrClockRateTooHigh = errors.New("ad568x: SPI clock rate exceeds 50 MHz")
)

// Transport is the bus capability a Device writes through. Begin claims the
// bus for one frame; for transports that drive chip select it also asserts
// CS.
type Transport interface {
	Begin() (Transaction, error)
}

// Transaction is a claimed bus. Close releases the bus (and deasserts chip
// select) and must be called exactly once, whether or not Write failed.
type Transaction interface {
	Write(frame []byte) error
	Close() error
}

// TransportError reports a bus failure during a device operation. Failures
// are never retried.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "ad568x: " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// CheckClockRate validates a caller-supplied SCLK rate in Hz
func CheckClockRate(hz uint32) error {
	switch {
	case hz == 0:
		return ErrNoClockRate
	case hz > MaxClockHz:
		return ErrClockRateTooHigh
	}
	return nil
}
