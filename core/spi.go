// SPI device support
// Chip-select framed transactions over the hardware or software SPI HAL
package core

import (
	"errors"
	"sync"

	"ad568x/dac"
)

// SPI device flags
const (
	SF_HARDWARE       = 0x00 // Hardware SPI
	SF_SOFTWARE       = 0x01 // Software SPI (bit-banged)
	SF_CS_ACTIVE_HIGH = 0x02 // Chip select active high (default is active low)
	SF_HAVE_PIN       = 0x04 // Has chip select pin
)

var (
	ErrInvalidMode        = errors.New("invalid SPI mode")
	ErrNoSoftwareSPI      = errors.New("software SPI driver not configured")
	ErrTransactionClosed  = errors.New("SPI transaction already closed")
	errBufferLenMismatch  = errors.New("tx and rx buffer lengths must match")
	errInvalidSoftwareSPI = errors.New("invalid software SPI handle")
)

// SPIDeviceConfig holds configuration for one device on an SPI bus
type SPIDeviceConfig struct {
	Name string // Human-readable device name

	Bus  SPIBusID
	Mode SPIMode
	Rate uint32 // Clock rate in Hz, required

	// Chip select
	HaveCS       bool
	CSPin        GPIOPin
	CSActiveHigh bool

	// Software SPI pins, used when Software is set. MISO is only touched
	// when HaveMISO is set; write-only devices leave it unwired.
	Software bool
	SCLK     GPIOPin
	MOSI     GPIOPin
	HaveMISO bool
	MISO     GPIOPin
}

// NewSPIDeviceConfig creates a config for a hardware SPI device with an
// active-low chip select pin
func NewSPIDeviceConfig(name string, bus SPIBusID, mode SPIMode, rate uint32, csPin GPIOPin) *SPIDeviceConfig {
	return &SPIDeviceConfig{
		Name:   name,
		Bus:    bus,
		Mode:   mode,
		Rate:   rate,
		HaveCS: true,
		CSPin:  csPin,
	}
}

// SPIDevice represents a configured SPI device. It implements dac.Transport:
// each transaction asserts chip select, and closing it deasserts chip select.
type SPIDevice struct {
	Name  string
	Flags uint8   // Device flags (hardware/software, CS polarity, etc.)
	Pin   GPIOPin // Chip select pin (if SF_HAVE_PIN is set)

	// Bus configuration
	BusHandle interface{} // Opaque handle from ConfigureBus
	BusID     SPIBusID
	Mode      SPIMode
	Rate      uint32

	mu sync.Mutex
}

var _ dac.Transport = (*SPIDevice)(nil)

// NewSPIDevice configures the chip select line (left deasserted) and the bus
func NewSPIDevice(cfg *SPIDeviceConfig) (*SPIDevice, error) {
	if cfg == nil {
		return nil, errors.New("SPI device config is nil")
	}
	if err := dac.CheckClockRate(cfg.Rate); err != nil {
		return nil, err
	}
	if !cfg.Mode.Valid() {
		return nil, ErrInvalidMode
	}

	dev := &SPIDevice{
		Name:  cfg.Name,
		BusID: cfg.Bus,
		Mode:  cfg.Mode,
		Rate:  cfg.Rate,
	}

	if cfg.HaveCS {
		dev.Flags |= SF_HAVE_PIN
		dev.Pin = cfg.CSPin
		if cfg.CSActiveHigh {
			dev.Flags |= SF_CS_ACTIVE_HIGH
		}

		if err := MustGPIO().ConfigureOutput(cfg.CSPin); err != nil {
			return nil, err
		}
		if err := dev.setCS(false); err != nil {
			return nil, err
		}
	}

	if cfg.Software {
		dev.Flags |= SF_SOFTWARE

		softSPI := GetSoftwareSPI()
		if softSPI == nil {
			return nil, ErrNoSoftwareSPI
		}
		miso := NoPin
		if cfg.HaveMISO {
			miso = cfg.MISO
		}
		handle, err := softSPI.ConfigureSoftwareSPI(cfg.SCLK, cfg.MOSI, miso, cfg.Mode, cfg.Rate)
		if err != nil {
			return nil, err
		}
		dev.BusHandle = handle
		return dev, nil
	}

	handle, err := MustSPI().ConfigureBus(SPIConfig{
		BusID: cfg.Bus,
		Mode:  cfg.Mode,
		Rate:  cfg.Rate,
	})
	if err != nil {
		return nil, err
	}
	dev.BusHandle = handle

	return dev, nil
}

// setCS drives the chip select line to its active or inactive level
func (dev *SPIDevice) setCS(active bool) error {
	if dev.Flags&SF_HAVE_PIN == 0 {
		return nil
	}
	level := !active // Default: active low
	if dev.Flags&SF_CS_ACTIVE_HIGH != 0 {
		level = active
	}
	return MustGPIO().SetPin(dev.Pin, level)
}

// transfer clocks data through the configured bus without touching CS
func (dev *SPIDevice) transfer(txData []byte, rxData []byte) error {
	if dev.Flags&SF_SOFTWARE != 0 {
		softSPI := GetSoftwareSPI()
		if softSPI == nil {
			return ErrNoSoftwareSPI
		}
		return softSPI.Transfer(dev.BusHandle, txData, rxData)
	}
	return MustSPI().Transfer(dev.BusHandle, txData, rxData)
}

// Begin claims the device and asserts chip select
func (dev *SPIDevice) Begin() (dac.Transaction, error) {
	dev.mu.Lock()
	if err := dev.setCS(true); err != nil {
		// Try to leave the line idle before giving up the claim
		_ = dev.setCS(false)
		dev.mu.Unlock()
		return nil, err
	}
	return &spiTransaction{dev: dev}, nil
}

// Transfer performs one full-duplex transfer framed by chip select
func (dev *SPIDevice) Transfer(txData []byte, rxData []byte) (err error) {
	tx, err := dev.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := tx.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return tx.(*spiTransaction).transfer(txData, rxData)
}

// spiTransaction is an open chip select window on an SPIDevice
type spiTransaction struct {
	dev    *SPIDevice
	closed bool
}

func (t *spiTransaction) transfer(txData []byte, rxData []byte) error {
	if t.closed {
		return ErrTransactionClosed
	}
	if rxData != nil && len(rxData) != len(txData) {
		return errBufferLenMismatch
	}
	return t.dev.transfer(txData, rxData)
}

// Write sends data, discarding whatever the device clocks back
func (t *spiTransaction) Write(data []byte) error {
	return t.transfer(data, nil)
}

// Close deasserts chip select and releases the device
func (t *spiTransaction) Close() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	err := t.dev.setCS(false)
	t.dev.mu.Unlock()
	return err
}
