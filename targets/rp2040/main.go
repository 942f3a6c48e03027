//go:build rp2040

// Firmware that drives an AD5686 from an RP2040 and takes line commands
// ("set a 32768", "setn b 0.25", "all 0", "reset") over USB serial.
package main

import (
	"errors"
	"machine"
	"strconv"
	"time"

	"ad568x/core"
	"ad568x/dac"
	"ad568x/host/shell"
)

// Board wiring
const (
	dacBus    core.SPIBusID = 0 // spi0a: SCK GPIO2, SDO GPIO3
	dacCSPin  core.GPIOPin  = 5 // SYNC
	dacRateHz               = 10_000_000

	lineMax = 64
)

func main() {
	core.SetGPIODriver(NewRPGPIODriver())
	core.SetSPIDriver(newSPIDriver())

	cfg := core.NewSPIDeviceConfig("ad5686", dacBus, dac.SPIMode, dacRateHz, dacCSPin)
	bus, err := core.NewSPIDevice(cfg)
	if err != nil {
		halt("spi: " + err.Error())
	}

	dev := dac.New(bus, dac.AD5686)
	if err := dev.Reset(); err != nil {
		halt(err.Error())
	}

	registry := newRegistry(dev)

	line := make([]byte, 0, lineMax)
	for {
		if machine.Serial.Buffered() == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		c, err := machine.Serial.ReadByte()
		if err != nil {
			continue
		}
		switch c {
		case '\r', '\n':
			if len(line) == 0 {
				continue
			}
			if err := registry.Exec(string(line)); err != nil {
				println("error:", err.Error())
			} else {
				println("ok")
			}
			line = line[:0]
		default:
			if len(line) < lineMax {
				line = append(line, c)
			}
		}
	}
}

func newRegistry(dev *dac.Device) *shell.Registry {
	r := shell.NewRegistry()
	r.Register(&shell.Command{Name: "reset", Handler: func([]string) error {
		return dev.Reset()
	}})
	r.Register(&shell.Command{Name: "set", MinArgs: 2, MaxArgs: 2, Handler: func(args []string) error {
		ch, err := lookup(dev, args[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(args[1], 0, 16)
		if err != nil {
			return err
		}
		return ch.SetValue(uint16(v))
	}})
	r.Register(&shell.Command{Name: "setn", MinArgs: 2, MaxArgs: 2, Handler: func(args []string) error {
		ch, err := lookup(dev, args[0])
		if err != nil {
			return err
		}
		f, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		return ch.SetNormalized(f)
	}})
	r.Register(&shell.Command{Name: "all", MinArgs: 1, MaxArgs: 1, Handler: func(args []string) error {
		v, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return err
		}
		return dev.WriteAll(uint16(v))
	}})
	return r
}

func lookup(dev *dac.Device, name string) (*dac.AnalogOut, error) {
	ch, ok := dev.Channel(name)
	if !ok {
		return nil, errors.New("unknown channel " + name)
	}
	return ch, nil
}

// halt reports a fatal boot error forever
func halt(msg string) {
	for {
		println("fatal:", msg)
		time.Sleep(time.Second)
	}
}
