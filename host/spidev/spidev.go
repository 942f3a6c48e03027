// Package spidev drives a DAC from a Linux SPI controller through periph.io
package spidev

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"ad568x/dac"
)

var errTransactionClosed = errors.New("spidev: transaction already closed")

// Bus is a dac.Transport over one spidev chip select. The kernel asserts
// CS for the length of each Tx, so every frame is a single Tx.
type Bus struct {
	port   spi.PortCloser
	conn   spi.Conn
	logger *zap.Logger
	mu     sync.Mutex
}

var _ dac.Transport = (*Bus)(nil)

// Open initializes the host drivers and opens the named port, e.g.
// "/dev/spidev0.0" or "SPI0.0". An empty name picks the first port.
func Open(name string, rate uint32, logger *zap.Logger) (*Bus, error) {
	if err := dac.CheckClockRate(rate); err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("spidev: host init: %w", err)
	}
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("spidev: open %q: %w", name, err)
	}
	b, err := Connect(port, rate, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	return b, nil
}

// Connect configures an open port for the DAC: mode 1, 8-bit words
func Connect(port spi.PortCloser, rate uint32, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := dac.CheckClockRate(rate); err != nil {
		return nil, err
	}
	c, err := port.Connect(physic.Frequency(rate)*physic.Hertz, spi.Mode1, 8)
	if err != nil {
		return nil, fmt.Errorf("spidev: connect: %w", err)
	}
	logger.Debug("spi port connected",
		zap.Stringer("port", port),
		zap.Uint32("rate", rate))
	return &Bus{port: port, conn: c, logger: logger}, nil
}

// Begin claims the port for one frame
func (b *Bus) Begin() (dac.Transaction, error) {
	b.mu.Lock()
	return &transaction{bus: b}, nil
}

// Close releases the port
func (b *Bus) Close() error {
	return b.port.Close()
}

type transaction struct {
	bus    *Bus
	closed bool
}

func (t *transaction) Write(frame []byte) error {
	if t.closed {
		return errTransactionClosed
	}
	return t.bus.conn.Tx(frame, nil)
}

func (t *transaction) Close() error {
	if t.closed {
		return errTransactionClosed
	}
	t.closed = true
	t.bus.mu.Unlock()
	return nil
}
