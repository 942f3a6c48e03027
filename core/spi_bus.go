package core

import (
	"errors"
	"fmt"
	"sync"

	"tinygo.org/x/drivers"
)

// BusConfigureFunc applies clock rate and mode to a platform bus. On TinyGo
// targets this wraps machine.SPI.Configure.
type BusConfigureFunc func(id SPIBusID, bus drivers.SPI, config SPIConfig) error

// BusDriver implements SPIDriver over TinyGo driver buses. Any type with the
// drivers.SPI method set works, including machine.SPI.
type BusDriver struct {
	mu sync.Mutex

	buses map[SPIBusID]drivers.SPI

	// Track configured buses to avoid reconfiguration
	configuredBuses map[SPIBusID]*busInstance

	// Configure is called when a bus is first configured or its settings
	// change. Nil means the platform configured the bus up front.
	Configure BusConfigureFunc
}

// busInstance holds configuration for a specific SPI bus
type busInstance struct {
	bus    drivers.SPI
	config SPIConfig
}

// NewBusDriver creates a driver for the given buses
func NewBusDriver(buses map[SPIBusID]drivers.SPI) *BusDriver {
	return &BusDriver{
		buses:           buses,
		configuredBuses: make(map[SPIBusID]*busInstance),
	}
}

// ConfigureBus sets up a bus with the requested mode and rate
func (d *BusDriver) ConfigureBus(config SPIConfig) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !config.Mode.Valid() {
		return nil, ErrInvalidMode
	}

	// Same settings: share the existing instance
	if inst, exists := d.configuredBuses[config.BusID]; exists && inst.config == config {
		return inst, nil
	}

	bus, exists := d.buses[config.BusID]
	if !exists || bus == nil {
		return nil, fmt.Errorf("invalid SPI bus ID %d", config.BusID)
	}

	if d.Configure != nil {
		if err := d.Configure(config.BusID, bus, config); err != nil {
			return nil, err
		}
	}

	inst := &busInstance{bus: bus, config: config}
	d.configuredBuses[config.BusID] = inst
	return inst, nil
}

// Transfer performs a full-duplex transfer; rxData may be nil
func (d *BusDriver) Transfer(busHandle interface{}, txData []byte, rxData []byte) error {
	inst, ok := busHandle.(*busInstance)
	if !ok {
		return errors.New("invalid SPI bus handle")
	}
	if rxData != nil && len(txData) != len(rxData) {
		return errBufferLenMismatch
	}
	return inst.bus.Tx(txData, rxData)
}

// GetBusInfo returns information about available SPI buses
func (d *BusDriver) GetBusInfo() map[SPIBusID]string {
	info := make(map[SPIBusID]string, len(d.buses))
	for id := range d.buses {
		info[id] = fmt.Sprintf("spi%d", id)
	}
	return info
}
