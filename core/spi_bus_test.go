package core

import (
	"errors"
	"testing"

	"tinygo.org/x/drivers"
)

// fakeBus implements drivers.SPI
type fakeBus struct {
	written [][]byte
	err     error
}

var _ drivers.SPI = (*fakeBus)(nil)

func (b *fakeBus) Tx(w, r []byte) error {
	if b.err != nil {
		return b.err
	}
	b.written = append(b.written, append([]byte(nil), w...))
	for i := range r {
		r[i] = 0x5A
	}
	return nil
}

func (b *fakeBus) Transfer(w byte) (byte, error) {
	err := b.Tx([]byte{w}, nil)
	return 0x5A, err
}

func TestBusDriverConfigure(t *testing.T) {
	bus := &fakeBus{}
	d := NewBusDriver(map[SPIBusID]drivers.SPI{0: bus})

	var applied []SPIConfig
	d.Configure = func(id SPIBusID, b drivers.SPI, cfg SPIConfig) error {
		applied = append(applied, cfg)
		return nil
	}

	cfg := SPIConfig{BusID: 0, Mode: 1, Rate: 5000000}
	h1, err := d.ConfigureBus(cfg)
	if err != nil {
		t.Fatalf("ConfigureBus failed: %v", err)
	}
	h2, err := d.ConfigureBus(cfg)
	if err != nil {
		t.Fatalf("ConfigureBus failed: %v", err)
	}
	if h1 != h2 {
		t.Error("Same settings should share the bus instance")
	}
	if len(applied) != 1 {
		t.Errorf("Expected bus configured once, got %d", len(applied))
	}

	cfg.Rate = 1000000
	if _, err := d.ConfigureBus(cfg); err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if len(applied) != 2 {
		t.Errorf("New rate should reconfigure, got %d configure calls", len(applied))
	}

	if _, err := d.ConfigureBus(SPIConfig{BusID: 3, Mode: 1, Rate: 1}); err == nil {
		t.Error("Expected error for unknown bus")
	}
	if _, err := d.ConfigureBus(SPIConfig{BusID: 0, Mode: 9, Rate: 1}); err != ErrInvalidMode {
		t.Errorf("Expected ErrInvalidMode, got %v", err)
	}
}

func TestBusDriverTransfer(t *testing.T) {
	bus := &fakeBus{}
	d := NewBusDriver(map[SPIBusID]drivers.SPI{1: bus})

	h, err := d.ConfigureBus(SPIConfig{BusID: 1, Mode: 1, Rate: 5000000})
	if err != nil {
		t.Fatalf("ConfigureBus failed: %v", err)
	}

	if err := d.Transfer(h, []byte{0x60, 0, 0}, nil); err != nil {
		t.Fatalf("Write-only transfer failed: %v", err)
	}
	rx := make([]byte, 1)
	if err := d.Transfer(h, []byte{0xAA}, rx); err != nil {
		t.Fatalf("Transfer failed: %v", err)
	}
	if rx[0] != 0x5A {
		t.Errorf("Expected rx 5a, got %02x", rx[0])
	}
	if len(bus.written) != 2 {
		t.Errorf("Expected 2 bus writes, got %d", len(bus.written))
	}

	if err := d.Transfer("nope", []byte{1}, nil); err == nil {
		t.Error("Expected error for invalid handle")
	}
	if err := d.Transfer(h, []byte{1, 2}, rx); err == nil {
		t.Error("Expected buffer length mismatch error")
	}

	bus.err = errors.New("tx failed")
	if err := d.Transfer(h, []byte{1}, nil); err != bus.err {
		t.Errorf("Expected bus error, got %v", err)
	}

	if d.GetBusInfo()[1] != "spi1" {
		t.Errorf("Unexpected bus info %v", d.GetBusInfo())
	}
}
