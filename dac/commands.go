// Package dac implements the command encoding shared by the Analog Devices
// AD568x family of 16-bit SPI digital to analog converters (AD5686, AD5689).
//
// Every command is a 3-byte frame: a command byte whose upper nibble selects
// the operation and whose lower nibble selects a single output channel,
// followed by the 16-bit value MSB first.
package dac

import "fmt"

// Command opcodes (upper nibble of the command byte)
const (
	CmdSoftReset      byte = 0b01100000
	CmdWriteAndUpdate byte = 0b00110000
)

const (
	// FrameSize is the length of every command frame on the wire
	FrameSize = 3

	opcodeMask  = 0xF0
	channelMask = 0x0F
)

// Frame is a single command as clocked out to the chip
type Frame [FrameSize]byte

// ResetFrame returns the soft reset command. The chip returns its registers
// to their power-on defaults.
func ResetFrame() Frame {
	return Frame{CmdSoftReset, 0x00, 0x00}
}

// WriteFrame returns a write-and-update command for one channel. The value is
// not range checked; callers clamp before encoding.
func WriteFrame(ch Channel, value uint16) Frame {
	return Frame{
		CmdWriteAndUpdate | byte(ch)&channelMask,
		byte(value >> 8),
		byte(value & 0xFF),
	}
}

// Opcode returns the operation bits of the command byte
func (f Frame) Opcode() byte {
	return f[0] & opcodeMask
}

// Channel returns the channel bits of the command byte
func (f Frame) Channel() Channel {
	return Channel(f[0] & channelMask)
}

// Value returns the 16-bit payload
func (f Frame) Value() uint16 {
	return uint16(f[1])<<8 | uint16(f[2])
}

func (f Frame) String() string {
	return fmt.Sprintf("%02x %02x %02x", f[0], f[1], f[2])
}
