// Package mcu talks to a Klipper-protocol microcontroller over a serial
// link: it retrieves the command dictionary, sends configuration and
// exposes the MCU's SPI buses as DAC transports.
package mcu

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ad568x/host/serial"
	"ad568x/protocol"
)

const (
	identifyChunkSize = 40
	identifyMaxChunks = 1000

	// DefaultResponseTimeout bounds how long a query waits for its reply
	DefaultResponseTimeout = time.Second
)

var (
	ErrNotConnected    = errors.New("not connected to MCU")
	ErrNoDictionary    = errors.New("dictionary not loaded")
	ErrNotConfigured   = errors.New("MCU configuration not finalized")
	ErrShutdown        = errors.New("MCU is shut down")
	ErrConfigMismatch  = errors.New("MCU already configured with different settings; restart the MCU")
	ErrConfigFinalized = errors.New("MCU configuration already finalized")
)

// ConfigState is the MCU's answer to get_config
type ConfigState struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
	MoveCount  uint16
}

// MCU represents a connection to a Klipper microcontroller
type MCU struct {
	logger *zap.Logger

	// Transport layer
	transport *protocol.HostTransport

	// Dictionary data
	dictMu         sync.RWMutex
	dictionary     *Dictionary
	dictionaryData []byte

	// Configuration built up before FinalizeConfig
	mu         sync.Mutex
	oidCount   int
	configCmds []configCommand
	configured bool

	// Connection state
	connected bool
}

type configCommand struct {
	name string
	args []interface{}
}

// NewMCU creates a new MCU instance (not yet connected). A nil logger
// disables logging.
func NewMCU(logger *zap.Logger) *MCU {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MCU{logger: logger}
}

// Connect connects to an MCU via serial port
func (m *MCU) Connect(device string) error {
	return m.ConnectWithConfig(serial.DefaultConfig(device))
}

// ConnectWithConfig connects to an MCU with a custom serial config
func (m *MCU) ConnectWithConfig(cfg *serial.Config) error {
	port, err := serial.Open(cfg)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.Flush(); err != nil {
		m.logger.Warn("serial flush failed", zap.Error(err))
	}

	m.ConnectPort(port)
	m.logger.Info("connected", zap.String("device", cfg.Device), zap.Int("baud", cfg.Baud))

	// Give MCU time to initialize (if it just powered on)
	time.Sleep(100 * time.Millisecond)

	return nil
}

// ConnectPort attaches an already open link
func (m *MCU) ConnectPort(port io.ReadWriteCloser) {
	m.transport = protocol.NewHostTransport(port, m.logger.Named("transport"))
	m.transport.SetResponseHandler(m.handleResponse)
	m.connected = true
}

// Close closes the connection to the MCU
func (m *MCU) Close() error {
	if !m.connected {
		return nil
	}
	m.connected = false
	return m.transport.Close()
}

// IsConnected returns whether the MCU is connected
func (m *MCU) IsConnected() bool {
	return m.connected
}

// RetrieveDictionary retrieves the complete dictionary from the MCU
func (m *MCU) RetrieveDictionary() error {
	if !m.connected {
		return ErrNotConnected
	}

	m.logger.Debug("retrieving dictionary")

	var dictBuffer bytes.Buffer
	offset := uint32(0)

	for i := 0; i < identifyMaxChunks; i++ {
		chunk, err := m.sendIdentify(offset, identifyChunkSize)
		if err != nil {
			return fmt.Errorf("failed to retrieve dictionary chunk at offset %d: %w", offset, err)
		}

		dictBuffer.Write(chunk)
		offset += uint32(len(chunk))

		// A short chunk is the last one
		if len(chunk) < identifyChunkSize {
			break
		}
	}

	m.dictionaryData = dictBuffer.Bytes()

	dict, err := ParseDictionary(m.dictionaryData)
	if err != nil {
		return fmt.Errorf("failed to parse dictionary: %w", err)
	}
	m.dictMu.Lock()
	m.dictionary = dict
	m.dictMu.Unlock()

	m.logger.Info("dictionary loaded",
		zap.Int("bytes", len(m.dictionaryData)),
		zap.String("version", dict.Version),
		zap.Int("commands", len(dict.Commands)),
		zap.Int("responses", len(dict.Responses)))
	return nil
}

// sendIdentify sends an identify command and waits for the matching chunk
func (m *MCU) sendIdentify(offset uint32, count uint8) ([]byte, error) {
	payload := protocol.AppendVLQUint(nil, protocol.CmdIdentify)
	payload = protocol.AppendVLQUint(payload, offset)
	payload = protocol.AppendVLQUint(payload, uint32(count))

	data, err := m.request(payload, protocol.CmdIdentifyResponse, DefaultResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("identify: %w", err)
	}

	respOffset, err := protocol.DecodeVLQUint(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response offset: %w", err)
	}
	if respOffset != offset {
		return nil, fmt.Errorf("offset mismatch: expected %d, got %d", offset, respOffset)
	}

	chunk, err := protocol.DecodeVLQBytes(&data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode response data: %w", err)
	}
	return append([]byte(nil), chunk...), nil
}

// request sends a payload and returns the arguments of the first response
// with the given ID. Other responses are skipped.
func (m *MCU) request(payload []byte, respID uint32, timeout time.Duration) ([]byte, error) {
	if err := m.transport.SendCommand(payload); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("response timeout after %v", timeout)
		}
		resp, err := m.transport.ReceiveResponse(remaining)
		if err != nil {
			return nil, err
		}

		data := resp.Payload
		id, err := protocol.DecodeVLQUint(&data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode response command ID: %w", err)
		}
		if id == respID {
			return data, nil
		}
		m.logger.Debug("skipping response", zap.Uint32("id", id))
	}
}

// handleResponse logs responses from the MCU as they arrive
func (m *MCU) handleResponse(cmdID uint16, data []byte) {
	if !m.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	m.dictMu.RLock()
	dict := m.dictionary
	m.dictMu.RUnlock()
	if dict == nil {
		return
	}
	mf, ok := dict.Response(int(cmdID))
	if !ok {
		m.logger.Debug("unknown response", zap.Uint16("id", cmdID))
		return
	}
	params, err := mf.Decode(data)
	if err != nil {
		m.logger.Debug("undecodable response", zap.String("name", mf.Name), zap.Error(err))
		return
	}
	m.logger.Debug("response", zap.String("name", mf.Name), zap.Any("params", params))
}

// GetDictionary returns the parsed dictionary
func (m *MCU) GetDictionary() *Dictionary {
	return m.dictionary
}

// GetDictionaryRaw returns the raw dictionary data
func (m *MCU) GetDictionaryRaw() []byte {
	return m.dictionaryData
}

// PrintDictionary writes a summary of the dictionary
func (m *MCU) PrintDictionary(w io.Writer) {
	if m.dictionary == nil {
		fmt.Fprintln(w, "No dictionary loaded")
		return
	}
	d := m.dictionary

	fmt.Fprintf(w, "Version: %s\n", d.Version)
	fmt.Fprintf(w, "Build: %s\n", d.BuildVersions)

	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintln(w, "Config:")
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, d.Config[k])
	}

	fmt.Fprintf(w, "Commands (%d):\n", len(d.Commands))
	for _, name := range d.CommandNames() {
		mf, _ := d.Command(name)
		fmt.Fprintf(w, "  [%d] %s\n", mf.ID, mf)
	}

	if len(d.enumerations) > 0 {
		names := make([]string, 0, len(d.enumerations))
		for name := range d.enumerations {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(w, "Enumerations (%d):\n", len(names))
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d values\n", name, len(d.enumerations[name]))
		}
	}
}

// SendCommand encodes a named command from the dictionary and sends it
func (m *MCU) SendCommand(name string, args ...interface{}) error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}

	payload, err := m.dictionary.Encode(name, args...)
	if err != nil {
		return err
	}
	return m.transport.SendCommand(payload)
}

// Query sends a named command and decodes the named response
func (m *MCU) Query(name, response string, args ...interface{}) (map[string]interface{}, error) {
	if !m.connected {
		return nil, ErrNotConnected
	}
	if m.dictionary == nil {
		return nil, ErrNoDictionary
	}

	mf, ok := m.dictionary.ResponseByName(response)
	if !ok {
		return nil, fmt.Errorf("unknown response: %s", response)
	}
	payload, err := m.dictionary.Encode(name, args...)
	if err != nil {
		return nil, err
	}
	data, err := m.request(payload, uint32(mf.ID), DefaultResponseTimeout)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return mf.Decode(data)
}

// QueryConfig asks the MCU for its configuration state
func (m *MCU) QueryConfig() (*ConfigState, error) {
	params, err := m.Query("get_config", "config")
	if err != nil {
		return nil, err
	}
	u := func(key string) uint32 {
		v, _ := params[key].(uint32)
		return v
	}
	return &ConfigState{
		IsConfig:   u("is_config") != 0,
		CRC:        u("crc"),
		IsShutdown: u("is_shutdown") != 0,
		MoveCount:  uint16(u("move_count")),
	}, nil
}

// CreateOID reserves the next object ID
func (m *MCU) CreateOID() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	oid := uint8(m.oidCount)
	m.oidCount++
	return oid
}

// AddConfigCommand queues a command for FinalizeConfig. The command is
// validated against the dictionary when one is loaded.
func (m *MCU) AddConfigCommand(name string, args ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.configured {
		return ErrConfigFinalized
	}
	if m.dictionary != nil {
		if _, err := m.dictionary.Encode(name, args...); err != nil {
			return err
		}
	}
	m.configCmds = append(m.configCmds, configCommand{name: name, args: args})
	return nil
}

// configLines renders the config script and its CRC
func (m *MCU) configLines() ([]configCommand, uint32) {
	cmds := m.configCmds
	if _, ok := m.dictionary.Command("allocate_oids"); ok {
		cmds = append([]configCommand{{name: "allocate_oids", args: []interface{}{m.oidCount}}}, cmds...)
	}
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = m.dictionary.Line(c.name, c.args...)
	}
	return cmds, crc32.ChecksumIEEE([]byte(strings.Join(lines, "\n")))
}

// FinalizeConfig sends the queued configuration. An MCU that is already
// configured with the same script is reused as is.
func (m *MCU) FinalizeConfig() error {
	if !m.connected {
		return ErrNotConnected
	}
	if m.dictionary == nil {
		return ErrNoDictionary
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configured {
		return ErrConfigFinalized
	}

	cmds, crc := m.configLines()

	if _, ok := m.dictionary.Command("get_config"); ok {
		state, err := m.QueryConfig()
		if err != nil {
			return err
		}
		if state.IsShutdown {
			return ErrShutdown
		}
		if state.IsConfig {
			if state.CRC != crc {
				return fmt.Errorf("%w (crc %08x, want %08x)", ErrConfigMismatch, state.CRC, crc)
			}
			m.logger.Info("reusing existing MCU configuration", zap.Uint32("crc", crc))
			m.configured = true
			return nil
		}
	}

	for _, c := range cmds {
		if err := m.SendCommand(c.name, c.args...); err != nil {
			return fmt.Errorf("config command %s: %w", c.name, err)
		}
	}
	if _, ok := m.dictionary.Command("finalize_config"); ok {
		if err := m.SendCommand("finalize_config", crc); err != nil {
			return err
		}
	}

	m.logger.Info("MCU configured", zap.Int("commands", len(cmds)), zap.Uint32("crc", crc))
	m.configured = true
	return nil
}

// IsConfigured reports whether FinalizeConfig has completed
func (m *MCU) IsConfigured() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.configured
}
