package core

import "errors"

// pinEvent is one SetPin call seen by MockGPIODriver
type pinEvent struct {
	pin   GPIOPin
	value bool
}

// MockGPIODriver is a test implementation of GPIODriver
type MockGPIODriver struct {
	pins    map[GPIOPin]bool
	outputs map[GPIOPin]bool
	inputs  map[GPIOPin]bool
	events  []pinEvent
	failPin GPIOPin
	failOn  bool
}

func NewMockGPIODriver() *MockGPIODriver {
	return &MockGPIODriver{
		pins:    make(map[GPIOPin]bool),
		outputs: make(map[GPIOPin]bool),
		inputs:  make(map[GPIOPin]bool),
	}
}

func (m *MockGPIODriver) ConfigureOutput(pin GPIOPin) error {
	m.outputs[pin] = true
	m.pins[pin] = false
	return nil
}

func (m *MockGPIODriver) ConfigureInput(pin GPIOPin) error {
	m.inputs[pin] = true
	return nil
}

func (m *MockGPIODriver) SetPin(pin GPIOPin, value bool) error {
	if m.failOn && pin == m.failPin {
		return errors.New("pin write failed")
	}
	m.pins[pin] = value
	m.events = append(m.events, pinEvent{pin: pin, value: value})
	return nil
}

func (m *MockGPIODriver) GetPin(pin GPIOPin) (bool, error) {
	return m.pins[pin], nil
}

// MockSPIDriver records transfers and the chip select level seen during each
type MockSPIDriver struct {
	gpio      *MockGPIODriver
	csPin     GPIOPin
	configs   []SPIConfig
	transfers [][]byte
	csDuring  []bool
	err       error
}

func (m *MockSPIDriver) ConfigureBus(config SPIConfig) (interface{}, error) {
	m.configs = append(m.configs, config)
	return config.BusID, nil
}

func (m *MockSPIDriver) Transfer(busHandle interface{}, txData []byte, rxData []byte) error {
	m.csDuring = append(m.csDuring, m.gpio.pins[m.csPin])
	if m.err != nil {
		return m.err
	}
	m.transfers = append(m.transfers, append([]byte(nil), txData...))
	for i := range rxData {
		rxData[i] = ^txData[i]
	}
	return nil
}

func (m *MockSPIDriver) GetBusInfo() map[SPIBusID]string {
	return map[SPIBusID]string{0: "spi0"}
}

// setupMockHAL installs fresh mock drivers and returns them
func setupMockHAL(csPin GPIOPin) (*MockGPIODriver, *MockSPIDriver) {
	gpio := NewMockGPIODriver()
	spi := &MockSPIDriver{gpio: gpio, csPin: csPin}
	SetGPIODriver(gpio)
	SetSPIDriver(spi)
	SetSoftwareSPIDriver(nil)
	return gpio, spi
}

func countLevels(events []pinEvent, pin GPIOPin, value bool) int {
	n := 0
	for _, e := range events {
		if e.pin == pin && e.value == value {
			n++
		}
	}
	return n
}
