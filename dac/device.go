package dac

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCommand is returned by SendCommand for a command byte that is not
// a soft reset or a write-and-update to one of the device's channels.
var ErrInvalidCommand = errors.New("ad568x: not a soft reset or single-channel write")

// Device is one AD568x chip on a bus. It owns its transport and exposes one
// AnalogOut per physical output.
//
// A Device is not safe for concurrent use; callers sharing one must
// serialize access.
type Device struct {
	bus      Transport
	variant  Variant
	channels []*AnalogOut
}

// New creates a Device for the given variant. The variant's channel set is
// fixed for the life of the device; an invalid variant is a programming error
// and panics.
func New(bus Transport, variant Variant) *Device {
	if bus == nil {
		panic("ad568x: nil transport")
	}
	if err := variant.Validate(); err != nil {
		panic(fmt.Sprintf("ad568x: %s: %v", variant.Name, err))
	}

	d := &Device{
		bus: bus,
		variant: Variant{
			Name:     variant.Name,
			Channels: append([]ChannelDef(nil), variant.Channels...),
		},
	}
	for _, def := range d.variant.Channels {
		d.channels = append(d.channels, &AnalogOut{
			dev:  d,
			name: strings.ToLower(def.Name),
			ch:   def.Mask,
		})
	}
	return d
}

// Variant returns the chip description the device was built with
func (d *Device) Variant() Variant {
	return d.variant
}

// Channel returns the output with the given name (case-insensitive)
func (d *Device) Channel(name string) (*AnalogOut, bool) {
	name = strings.ToLower(name)
	for _, out := range d.channels {
		if out.name == name {
			return out, true
		}
	}
	return nil, false
}

// Channels returns all outputs in datasheet order
func (d *Device) Channels() []*AnalogOut {
	return append([]*AnalogOut(nil), d.channels...)
}

// Reset soft resets the chip
func (d *Device) Reset() error {
	return d.send("soft_reset", ResetFrame())
}

// SendCommand sends a raw 3-byte command to the chip. Only a soft reset or a
// write-and-update addressed to a single declared channel is accepted; any
// other command byte fails with ErrInvalidCommand and nothing is sent.
func (d *Device) SendCommand(cmd, param1, param2 byte) error {
	f := Frame{cmd, param1, param2}
	if !d.accepts(f) {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidCommand, cmd)
	}
	return d.send("send_command", f)
}

func (d *Device) accepts(f Frame) bool {
	switch f.Opcode() {
	case CmdSoftReset:
		return f.Channel() == 0
	case CmdWriteAndUpdate:
		for _, def := range d.variant.Channels {
			if def.Mask == f.Channel() {
				return true
			}
		}
	}
	return false
}

// WriteAll writes the same value to every output, one frame per output. It
// stops at the first failure.
func (d *Device) WriteAll(value uint16) error {
	for _, out := range d.channels {
		if err := out.SetValue(value); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) writeChannel(ch Channel, value uint16) error {
	return d.send("write_and_update", WriteFrame(ch, value))
}

// send transmits one frame inside a bus transaction. The transaction is
// always closed once Begin succeeds; a Write error takes precedence over a
// Close error.
func (d *Device) send(op string, f Frame) (err error) {
	tx, err := d.bus.Begin()
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer func() {
		if cerr := tx.Close(); cerr != nil && err == nil {
			err = &TransportError{Op: op, Err: cerr}
		}
	}()

	if werr := tx.Write(f[:]); werr != nil {
		return &TransportError{Op: op, Err: werr}
	}
	return nil
}
