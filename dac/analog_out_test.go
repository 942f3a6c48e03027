package dac

import (
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	testCases := []struct {
		in   float64
		want uint16
	}{
		{0.0, 0},
		{1.0, 0xFFFF},
		{0.5, 32767},
		{0.25, 16383},
		{-0.5, 0},
		{1.5, 0xFFFF},
		{math.Inf(-1), 0},
		{math.Inf(1), 0xFFFF},
		{math.NaN(), 0},
	}

	for _, tc := range testCases {
		if got := Normalize(tc.in); got != tc.want {
			t.Errorf("Normalize(%v) = %d, expected %d", tc.in, got, tc.want)
		}
	}
}

func TestSetNormalizedCodes(t *testing.T) {
	testCases := []struct {
		in     float64
		hi, lo byte
	}{
		{0.0, 0x00, 0x00},
		{0.001, 0x00, 0x41}, // 65.535
		{0.1, 0x19, 0x99},   // 6553.5
		{0.2, 0x33, 0x33},   // 13107
		{0.25, 0x3F, 0xFF},  // 16383.75
		{0.5, 0x7F, 0xFF},   // 32767.5
		{0.75, 0xBF, 0xFF},  // 49151.25
		{0.999, 0xFF, 0xBD}, // 65469.465
		{1.0, 0xFF, 0xFF},
	}

	for _, tc := range testCases {
		bus := &mockTransport{}
		out, _ := New(bus, AD5686).Channel("d")
		if err := out.SetNormalized(tc.in); err != nil {
			t.Fatalf("SetNormalized(%v) failed: %v", tc.in, err)
		}
		if got := bus.last(t); !equalFrame(got, 0b00111000, tc.hi, tc.lo) {
			t.Errorf("SetNormalized(%v): got % x, expected 38 %02x %02x", tc.in, got, tc.hi, tc.lo)
		}
	}
}

func TestSetNormalizedSweep(t *testing.T) {
	for i := 0; i <= 1000; i++ {
		f := float64(i) / 1000
		want := int(math.Floor(f * 65535))

		bus := &mockTransport{}
		out, _ := New(bus, AD5686).Channel("d")
		if err := out.SetNormalized(f); err != nil {
			t.Fatalf("SetNormalized(%v) failed: %v", f, err)
		}

		got := bus.last(t)
		if code := int(got[1])<<8 | int(got[2]); code != want {
			t.Errorf("f=%v: sent code %d, expected %d", f, code, want)
		}
	}
}

func TestSetNormalizedClamps(t *testing.T) {
	testCases := []struct {
		in, same float64
	}{
		{-0.5, 0.0},
		{1.5, 1.0},
	}

	for _, tc := range testCases {
		bus := &mockTransport{}
		out, _ := New(bus, AD5689).Channel("a")

		if err := out.SetNormalized(tc.in); err != nil {
			t.Fatalf("SetNormalized(%v) should clamp, got error %v", tc.in, err)
		}
		if err := out.SetNormalized(tc.same); err != nil {
			t.Fatalf("SetNormalized(%v) failed: %v", tc.same, err)
		}

		if !equalFrame(bus.frames[0], bus.frames[1]...) {
			t.Errorf("SetNormalized(%v) sent % x, SetNormalized(%v) sent % x",
				tc.in, bus.frames[0], tc.same, bus.frames[1])
		}
	}
}
