package core

import (
	"sync"
	"time"

	"ad568x/dac"
)

// SoftSPI implements SoftwareSPIDriver by bit-banging GPIO pins through the
// GPIO HAL. Bits go out MSB first.
type SoftSPI struct {
	mu   sync.Mutex
	gpio GPIODriver

	// Sleep waits half a clock period; replaced in tests
	Sleep func(time.Duration)
}

// softwareSPIInstance holds configuration for a software SPI bus
type softwareSPIInstance struct {
	sclk GPIOPin
	mosi GPIOPin
	miso GPIOPin
	mode SPIMode
	rate uint32

	// Delay between clock transitions
	halfPeriod time.Duration

	cpol bool // Clock polarity: false = idle low, true = idle high
	cpha bool // Clock phase: false = sample on first edge, true = sample on second edge
}

// NewSoftSPI creates a software SPI driver on top of a GPIO driver
func NewSoftSPI(gpio GPIODriver) *SoftSPI {
	return &SoftSPI{
		gpio:  gpio,
		Sleep: time.Sleep,
	}
}

// ConfigureSoftwareSPI sets up GPIO pins for software SPI and parks the clock
// at its idle level. Pass NoPin as miso for a write-only bus; reads then
// return zeros.
func (d *SoftSPI) ConfigureSoftwareSPI(sclk, mosi, miso GPIOPin, mode SPIMode, rate uint32) (interface{}, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !mode.Valid() {
		return nil, ErrInvalidMode
	}
	if rate == 0 {
		return nil, dac.ErrNoClockRate
	}

	inst := &softwareSPIInstance{
		sclk: sclk,
		mosi: mosi,
		miso: miso,
		mode: mode,
		rate: rate,
		cpol: mode.CPOL(),
		cpha: mode.CPHA(),
	}

	// Clock toggles twice per bit, so half period is 1 / (2 * rate)
	inst.halfPeriod = time.Duration(500000000/rate) * time.Nanosecond

	if err := d.gpio.ConfigureOutput(sclk); err != nil {
		return nil, err
	}
	if err := d.gpio.ConfigureOutput(mosi); err != nil {
		return nil, err
	}
	if miso != NoPin {
		if err := d.gpio.ConfigureInput(miso); err != nil {
			return nil, err
		}
	}

	if err := d.gpio.SetPin(sclk, inst.cpol); err != nil {
		return nil, err
	}
	if err := d.gpio.SetPin(mosi, false); err != nil {
		return nil, err
	}

	return inst, nil
}

// Transfer performs a software SPI transfer; rxData may be nil
func (d *SoftSPI) Transfer(handle interface{}, txData []byte, rxData []byte) error {
	inst, ok := handle.(*softwareSPIInstance)
	if !ok {
		return errInvalidSoftwareSPI
	}
	if rxData != nil && len(txData) != len(rxData) {
		return errBufferLenMismatch
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for i, b := range txData {
		in, err := d.transferByte(inst, b)
		if err != nil {
			return err
		}
		if rxData != nil {
			rxData[i] = in
		}
	}
	return nil
}

// transferByte shifts one byte out and one byte in
func (d *SoftSPI) transferByte(inst *softwareSPIInstance, txByte byte) (byte, error) {
	var rxByte byte

	for bit := 7; bit >= 0; bit-- {
		if err := d.gpio.SetPin(inst.mosi, txByte&(1<<bit) != 0); err != nil {
			return 0, err
		}

		// CPHA=0: sample before the first edge
		if !inst.cpha {
			if err := d.sample(inst, &rxByte, bit); err != nil {
				return 0, err
			}
		}

		// First clock edge
		if err := d.gpio.SetPin(inst.sclk, !inst.cpol); err != nil {
			return 0, err
		}
		d.Sleep(inst.halfPeriod)

		// CPHA=1: sample after the first edge
		if inst.cpha {
			if err := d.sample(inst, &rxByte, bit); err != nil {
				return 0, err
			}
		}

		// Second clock edge (back to idle)
		if err := d.gpio.SetPin(inst.sclk, inst.cpol); err != nil {
			return 0, err
		}
		d.Sleep(inst.halfPeriod)
	}

	return rxByte, nil
}

func (d *SoftSPI) sample(inst *softwareSPIInstance, rxByte *byte, bit int) error {
	if inst.miso == NoPin {
		return nil
	}
	level, err := d.gpio.GetPin(inst.miso)
	if err != nil {
		return err
	}
	if level {
		*rxByte |= 1 << bit
	}
	return nil
}
