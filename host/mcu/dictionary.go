package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"ad568x/protocol"
)

// Dictionary represents the parsed MCU dictionary
type Dictionary struct {
	Version       string                     `json:"version"`
	BuildVersions string                     `json:"build_versions"`
	Config        map[string]interface{}     `json:"config"`
	Commands      map[string]int             `json:"commands"`
	Responses     map[string]int             `json:"responses"`
	Enumerations  map[string]json.RawMessage `json:"enumerations,omitempty"`

	commands     map[string]*protocol.MessageFormat
	responses    map[int]*protocol.MessageFormat
	enumerations map[string]map[string]int
}

var ErrUnknownCommand = errors.New("unknown command")

// ParseDictionary decodes a dictionary blob, inflating it first when it
// carries a zlib header
func ParseDictionary(data []byte) (*Dictionary, error) {
	if isZlib(data) {
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to decompress dictionary: %w", err)
		}
		defer r.Close()
		if data, err = io.ReadAll(r); err != nil {
			return nil, fmt.Errorf("failed to decompress dictionary: %w", err)
		}
	}

	dict := &Dictionary{}
	if err := json.Unmarshal(data, dict); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	if err := dict.index(); err != nil {
		return nil, err
	}
	return dict, nil
}

// isZlib reports whether data starts with a valid zlib header
func isZlib(data []byte) bool {
	if len(data) < 2 || data[0]&0x0F != 8 {
		return false
	}
	return (uint16(data[0])<<8|uint16(data[1]))%31 == 0
}

func (d *Dictionary) index() error {
	d.commands = make(map[string]*protocol.MessageFormat, len(d.Commands))
	for format, id := range d.Commands {
		mf, err := protocol.ParseFormat(id, format)
		if err != nil {
			return fmt.Errorf("command %q: %w", format, err)
		}
		d.commands[mf.Name] = mf
	}

	d.responses = make(map[int]*protocol.MessageFormat, len(d.Responses))
	for format, id := range d.Responses {
		mf, err := protocol.ParseFormat(id, format)
		if err != nil {
			return fmt.Errorf("response %q: %w", format, err)
		}
		d.responses[id] = mf
	}

	d.enumerations = make(map[string]map[string]int, len(d.Enumerations))
	for name, raw := range d.Enumerations {
		values, err := parseEnumeration(raw)
		if err != nil {
			return fmt.Errorf("enumeration %q: %w", name, err)
		}
		d.enumerations[name] = values
	}
	return nil
}

// parseEnumeration expands an enumeration object. A value is either a
// plain integer or a [start, count] range; "gpio0": [0, 30] defines gpio0
// through gpio29.
func parseEnumeration(raw json.RawMessage) (map[string]int, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}

	values := make(map[string]int)
	for key, v := range entries {
		var single int
		if err := json.Unmarshal(v, &single); err == nil {
			values[key] = single
			continue
		}

		var rng [2]int
		if err := json.Unmarshal(v, &rng); err != nil {
			return nil, fmt.Errorf("%s: value is neither integer nor range", key)
		}
		root, first, ok := splitNumericSuffix(key)
		if !ok {
			return nil, fmt.Errorf("%s: range key has no numeric suffix", key)
		}
		for i := 0; i < rng[1]; i++ {
			values[root+strconv.Itoa(first+i)] = rng[0] + i
		}
	}
	return values, nil
}

func splitNumericSuffix(s string) (string, int, bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

// Command returns the format of a named command
func (d *Dictionary) Command(name string) (*protocol.MessageFormat, bool) {
	mf, ok := d.commands[name]
	return mf, ok
}

// Response returns the format of a response by ID
func (d *Dictionary) Response(id int) (*protocol.MessageFormat, bool) {
	mf, ok := d.responses[id]
	return mf, ok
}

// ResponseByName returns the format of a named response
func (d *Dictionary) ResponseByName(name string) (*protocol.MessageFormat, bool) {
	for _, mf := range d.responses {
		if mf.Name == name {
			return mf, true
		}
	}
	return nil, false
}

// Enum resolves a symbolic value such as "gpio17" in the named enumeration
func (d *Dictionary) Enum(enum, value string) (int, error) {
	values, ok := d.enumerations[enum]
	if !ok {
		return 0, fmt.Errorf("no enumeration %q in dictionary", enum)
	}
	v, ok := values[value]
	if !ok {
		return 0, fmt.Errorf("unknown %s %q", enum, value)
	}
	return v, nil
}

// HasEnum reports whether the dictionary declares the named enumeration
func (d *Dictionary) HasEnum(enum string) bool {
	_, ok := d.enumerations[enum]
	return ok
}

// Encode builds the payload for a named command. String arguments to
// integer parameters are resolved through the enumeration named after the
// parameter.
func (d *Dictionary) Encode(name string, args ...interface{}) ([]byte, error) {
	mf, ok := d.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	if len(args) != len(mf.Params) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", name, len(mf.Params), len(args))
	}

	resolved := make([]interface{}, len(args))
	for i, p := range mf.Params {
		s, isString := args[i].(string)
		if isString && (p.Type == protocol.ParamUint || p.Type == protocol.ParamInt) {
			v, err := d.resolve(p.Name, s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			resolved[i] = v
			continue
		}
		resolved[i] = args[i]
	}
	return mf.Encode(resolved...)
}

// resolve maps a symbolic argument through its enumeration, or parses it as
// a number when the firmware declares no enumeration for the parameter
func (d *Dictionary) resolve(param, value string) (int, error) {
	if d.HasEnum(param) {
		return d.Enum(param, value)
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("no enumeration %q in dictionary", param)
	}
	return v, nil
}

// Line renders a command the way it is written in a config script; the
// config CRC is computed over these lines
func (d *Dictionary) Line(name string, args ...interface{}) string {
	parts := []string{name}
	if mf, ok := d.commands[name]; ok {
		for i, p := range mf.Params {
			if i < len(args) {
				parts = append(parts, p.Name+"="+lineValue(args[i]))
			}
		}
	}
	return strings.Join(parts, " ")
}

func lineValue(arg interface{}) string {
	switch v := arg.(type) {
	case bool:
		if v {
			return "1"
		}
		return "0"
	case []byte:
		return hex.EncodeToString(v)
	}
	return fmt.Sprint(arg)
}

// CommandNames returns every command name, sorted
func (d *Dictionary) CommandNames() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
