//go:build rp2040

package main

import (
	"errors"
	"machine"

	"tinygo.org/x/drivers"

	"ad568x/core"
)

// RP2040 SPI bus configurations, named as in Klipper's rp2040 port
type spiBusConfig struct {
	spi  *machine.SPI // SPI controller (SPI0 or SPI1)
	sck  machine.Pin  // Clock pin
	mosi machine.Pin  // Master Out Slave In
	miso machine.Pin  // Master In Slave Out
	name string
}

var rp2040SPIBuses = map[core.SPIBusID]spiBusConfig{
	0: {spi: machine.SPI0, sck: machine.GPIO2, mosi: machine.GPIO3, miso: machine.GPIO0, name: "spi0a"},
	1: {spi: machine.SPI0, sck: machine.GPIO6, mosi: machine.GPIO7, miso: machine.GPIO4, name: "spi0b"},
	2: {spi: machine.SPI0, sck: machine.GPIO18, mosi: machine.GPIO19, miso: machine.GPIO16, name: "spi0c"},
	3: {spi: machine.SPI0, sck: machine.GPIO22, mosi: machine.GPIO23, miso: machine.GPIO20, name: "spi0d"},

	5: {spi: machine.SPI1, sck: machine.GPIO10, mosi: machine.GPIO11, miso: machine.GPIO8, name: "spi1a"},
	6: {spi: machine.SPI1, sck: machine.GPIO14, mosi: machine.GPIO15, miso: machine.GPIO12, name: "spi1b"},
	7: {spi: machine.SPI1, sck: machine.GPIO26, mosi: machine.GPIO27, miso: machine.GPIO24, name: "spi1c"},
}

// newSPIDriver exposes the machine SPI controllers through core.BusDriver
func newSPIDriver() *core.BusDriver {
	buses := make(map[core.SPIBusID]drivers.SPI, len(rp2040SPIBuses))
	for id, cfg := range rp2040SPIBuses {
		buses[id] = cfg.spi
	}
	d := core.NewBusDriver(buses)
	d.Configure = configureBus
	return d
}

// configureBus routes the bus pins and sets clock and mode
func configureBus(id core.SPIBusID, _ drivers.SPI, config core.SPIConfig) error {
	busConfig, exists := rp2040SPIBuses[id]
	if !exists {
		return errors.New("invalid SPI bus ID")
	}
	return busConfig.spi.Configure(machine.SPIConfig{
		Frequency: config.Rate,
		SCK:       busConfig.sck,
		SDO:       busConfig.mosi,
		SDI:       busConfig.miso,
		Mode:      uint8(config.Mode),
	})
}
