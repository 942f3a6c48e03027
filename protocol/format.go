package protocol

import (
	"fmt"
	"strings"
)

// ParamType is the wire type of one message parameter
type ParamType uint8

const (
	ParamUint   ParamType = iota // %u %c %hu
	ParamInt                     // %i %hi
	ParamBuffer                  // %*s %.*s
	ParamString                  // %s
)

var paramTypes = map[string]ParamType{
	"%u":   ParamUint,
	"%c":   ParamUint,
	"%hu":  ParamUint,
	"%i":   ParamInt,
	"%hi":  ParamInt,
	"%*s":  ParamBuffer,
	"%.*s": ParamBuffer,
	"%s":   ParamString,
}

// Param is a named, typed message parameter
type Param struct {
	Name string
	Type ParamType
}

// MessageFormat is one command or response from the MCU dictionary
type MessageFormat struct {
	ID     int
	Name   string
	Params []Param
}

// ParseFormat parses a dictionary entry such as
// "spi_send oid=%c data=%*s"
func ParseFormat(id int, format string) (*MessageFormat, error) {
	fields := strings.Fields(format)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty message format")
	}

	mf := &MessageFormat{ID: id, Name: fields[0]}
	for _, field := range fields[1:] {
		name, spec, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%s: malformed parameter %q", mf.Name, field)
		}
		pt, ok := paramTypes[spec]
		if !ok {
			return nil, fmt.Errorf("%s: unknown parameter type %q", mf.Name, spec)
		}
		mf.Params = append(mf.Params, Param{Name: name, Type: pt})
	}
	return mf, nil
}

// Encode builds a message payload: the command ID followed by each argument
func (mf *MessageFormat) Encode(args ...interface{}) ([]byte, error) {
	if len(args) != len(mf.Params) {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", mf.Name, len(mf.Params), len(args))
	}

	payload := AppendVLQUint(nil, uint32(mf.ID))
	for i, p := range mf.Params {
		switch p.Type {
		case ParamUint, ParamInt:
			v, err := toInt32(args[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", mf.Name, p.Name, err)
			}
			payload = AppendVLQInt(payload, v)
		case ParamBuffer, ParamString:
			switch v := args[i].(type) {
			case []byte:
				payload = AppendVLQBytes(payload, v)
			case string:
				payload = AppendVLQBytes(payload, []byte(v))
			default:
				return nil, fmt.Errorf("%s: %s: expected bytes, got %T", mf.Name, p.Name, args[i])
			}
		}
	}
	return payload, nil
}

// Decode parses the arguments of a payload whose command ID has already been
// consumed. Unsigned values decode as uint32, signed as int32, buffers as
// []byte and strings as string.
func (mf *MessageFormat) Decode(data []byte) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(mf.Params))
	for _, p := range mf.Params {
		var err error
		switch p.Type {
		case ParamUint:
			params[p.Name], err = DecodeVLQUint(&data)
		case ParamInt:
			params[p.Name], err = DecodeVLQInt(&data)
		case ParamBuffer:
			var b []byte
			b, err = DecodeVLQBytes(&data)
			params[p.Name] = append([]byte(nil), b...)
		case ParamString:
			var b []byte
			b, err = DecodeVLQBytes(&data)
			params[p.Name] = string(b)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", mf.Name, p.Name, err)
		}
	}
	return params, nil
}

func (mf *MessageFormat) String() string {
	var sb strings.Builder
	sb.WriteString(mf.Name)
	for _, p := range mf.Params {
		sb.WriteString(" " + p.Name + "=" + p.Type.String())
	}
	return sb.String()
}

func (pt ParamType) String() string {
	switch pt {
	case ParamUint:
		return "%u"
	case ParamInt:
		return "%i"
	case ParamBuffer:
		return "%*s"
	case ParamString:
		return "%s"
	}
	return "%?"
}

func toInt32(arg interface{}) (int32, error) {
	switch v := arg.(type) {
	case int:
		return int32(v), nil
	case int8:
		return int32(v), nil
	case int16:
		return int32(v), nil
	case int32:
		return v, nil
	case int64:
		return int32(v), nil
	case uint:
		return int32(v), nil
	case uint8:
		return int32(v), nil
	case uint16:
		return int32(v), nil
	case uint32:
		return int32(v), nil
	case uint64:
		return int32(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("expected integer, got %T", arg)
}
