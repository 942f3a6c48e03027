package dac

import (
	"errors"
	"fmt"
	"math/bits"
	"strings"
)

// Channel is the 4-bit output select field of the command byte. Each
// physical output of a chip has exactly one bit.
type Channel uint8

// ChannelDef binds a logical output name to its select bit
type ChannelDef struct {
	Name string
	Mask Channel
}

// Variant describes one chip of the family: its name and the fixed set of
// outputs it provides, in datasheet order.
type Variant struct {
	Name     string
	Channels []ChannelDef
}

// AD5686 is the 4-channel part (AD5686 / AD5686R)
var AD5686 = Variant{
	Name: "AD5686",
	Channels: []ChannelDef{
		{Name: "a", Mask: 0b0001},
		{Name: "b", Mask: 0b0010},
		{Name: "c", Mask: 0b0100},
		{Name: "d", Mask: 0b1000},
	},
}

// AD5689 is the 2-channel part (AD5689 / AD5689R). Its outputs sit on the
// first and last select bits.
var AD5689 = Variant{
	Name: "AD5689",
	Channels: []ChannelDef{
		{Name: "a", Mask: 0b0001},
		{Name: "b", Mask: 0b1000},
	},
}

var variants = []Variant{AD5686, AD5689}

// LookupVariant finds a known variant by part number. The "R" suffix of the
// internal-reference parts is accepted and ignored.
func LookupVariant(name string) (Variant, bool) {
	key := strings.TrimSuffix(strings.ToUpper(strings.TrimSpace(name)), "R")
	for _, v := range variants {
		if v.Name == key {
			return v, true
		}
	}
	return Variant{}, false
}

// Validate checks that the variant declares at least one output, that every
// output selects exactly one bit, and that names and bits are unique.
func (v Variant) Validate() error {
	if len(v.Channels) == 0 {
		return errors.New("variant declares no channels")
	}
	var seen Channel
	names := make(map[string]bool, len(v.Channels))
	for _, ch := range v.Channels {
		name := strings.ToLower(ch.Name)
		if name == "" {
			return errors.New("channel name is required")
		}
		if names[name] {
			return fmt.Errorf("duplicate channel name %q", ch.Name)
		}
		names[name] = true

		if ch.Mask&^channelMask != 0 || bits.OnesCount8(uint8(ch.Mask)) != 1 {
			return fmt.Errorf("channel %q mask 0b%04b must select exactly one output", ch.Name, uint8(ch.Mask))
		}
		if seen&ch.Mask != 0 {
			return fmt.Errorf("channel %q reuses mask 0b%04b", ch.Name, uint8(ch.Mask))
		}
		seen |= ch.Mask
	}
	return nil
}
