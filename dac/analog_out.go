package dac

import "math"

// FullScale is the highest output code
const FullScale = math.MaxUint16

// AnalogOutput is a write-only analog output
type AnalogOutput interface {
	// SetValue writes a raw 16-bit output code
	SetValue(value uint16) error

	// SetNormalized writes a proportional level in [0, 1]
	SetNormalized(value float64) error
}

// AnalogOut is one output of a Device, bound to its channel at construction
type AnalogOut struct {
	dev  *Device
	name string
	ch   Channel
}

var _ AnalogOutput = (*AnalogOut)(nil)

// Name returns the logical channel name ("a", "b", ...)
func (o *AnalogOut) Name() string {
	return o.name
}

// Channel returns the channel select bit
func (o *AnalogOut) Channel() Channel {
	return o.ch
}

// SetValue writes and updates the output with a raw code
func (o *AnalogOut) SetValue(value uint16) error {
	return o.dev.writeChannel(o.ch, value)
}

// SetNormalized writes a proportional level. Values outside [0, 1] are
// clamped, not rejected.
func (o *AnalogOut) SetNormalized(value float64) error {
	return o.SetValue(Normalize(value))
}

// Normalize maps a level in [0, 1] onto the output code range, clamping out
// of range input and truncating toward zero. NaN maps to 0.
func Normalize(value float64) uint16 {
	switch {
	case math.IsNaN(value), value < 0:
		value = 0
	case value > 1:
		value = 1
	}
	return uint16(value * FullScale)
}
