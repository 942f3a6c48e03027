package mcu

import (
	"errors"
	"fmt"
	"sync"

	"ad568x/dac"
)

// SPIBusConfig selects an MCU SPI bus and chip select for one device. Pin
// and Bus are names from the MCU's "pin" and "spi_bus" enumerations, or
// plain numbers when the firmware declares none.
type SPIBusConfig struct {
	Pin          string
	Bus          string
	Rate         uint32
	CSActiveHigh bool
}

var errSPITransactionClosed = errors.New("spi transaction already closed")

// SPIBus is a dac.Transport that ships each frame in one spi_send command;
// the MCU asserts chip select around it
type SPIBus struct {
	mcu *MCU
	oid uint8
	mu  sync.Mutex
}

var _ dac.Transport = (*SPIBus)(nil)

// NewSPIBus reserves an object ID and queues config_spi and spi_set_bus.
// The bus is usable once m.FinalizeConfig has succeeded.
func NewSPIBus(m *MCU, cfg SPIBusConfig) (*SPIBus, error) {
	if err := dac.CheckClockRate(cfg.Rate); err != nil {
		return nil, err
	}
	if cfg.Pin == "" {
		return nil, errors.New("spi: chip select pin not set")
	}
	if cfg.Bus == "" {
		return nil, errors.New("spi: bus not set")
	}

	oid := m.CreateOID()
	if err := m.AddConfigCommand("config_spi", oid, cfg.Pin, cfg.CSActiveHigh); err != nil {
		return nil, fmt.Errorf("spi: %w", err)
	}
	if err := m.AddConfigCommand("spi_set_bus", oid, cfg.Bus, dac.SPIMode, cfg.Rate); err != nil {
		return nil, fmt.Errorf("spi: %w", err)
	}
	return &SPIBus{mcu: m, oid: oid}, nil
}

// OID returns the object ID the bus was configured with
func (b *SPIBus) OID() uint8 {
	return b.oid
}

// Begin claims the bus for one frame
func (b *SPIBus) Begin() (dac.Transaction, error) {
	if !b.mcu.IsConfigured() {
		return nil, ErrNotConfigured
	}
	b.mu.Lock()
	return &spiTransaction{bus: b}, nil
}

type spiTransaction struct {
	bus    *SPIBus
	closed bool
}

func (t *spiTransaction) Write(frame []byte) error {
	if t.closed {
		return errSPITransactionClosed
	}
	return t.bus.mcu.SendCommand("spi_send", t.bus.oid, frame)
}

func (t *spiTransaction) Close() error {
	if t.closed {
		return errSPITransactionClosed
	}
	t.closed = true
	t.bus.mu.Unlock()
	return nil
}
