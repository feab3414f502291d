package client

import (
	"errors"
	"fmt"
	"strings"

	"buckboost/protocol"
)

var (
	ErrBadFormat   = errors.New("bad message format")
	ErrMissingArg  = errors.New("missing argument")
	ErrUnknownArg  = errors.New("unknown argument")
	ErrBufferParam = errors.New("buffer parameters cannot be sent")
)

// ParamType is the wire type of one message parameter.
type ParamType uint8

const (
	ParamUint32 ParamType = iota // %u
	ParamInt32                   // %i
	ParamUint16                  // %hu
	ParamInt16                   // %hi
	ParamByte                    // %c
	ParamBuffer                  // %.*s, %*s
)

var paramTypes = map[string]ParamType{
	"%u":   ParamUint32,
	"%i":   ParamInt32,
	"%hu":  ParamUint16,
	"%hi":  ParamInt16,
	"%c":   ParamByte,
	"%.*s": ParamBuffer,
	"%*s":  ParamBuffer,
}

// Param is one name=%x field.
type Param struct {
	Name string
	Type ParamType
}

// MessageFormat describes a command or response from the dictionary,
// e.g. "set_target millivolts=%u".
type MessageFormat struct {
	ID     uint16
	Name   string
	Params []Param
}

// ParseFormat parses a dictionary key.
func ParseFormat(id uint16, key string) (*MessageFormat, error) {
	fields := strings.Fields(key)
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrBadFormat)
	}
	f := &MessageFormat{ID: id, Name: fields[0]}
	for _, field := range fields[1:] {
		name, spec, ok := strings.Cut(field, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: %q in %q", ErrBadFormat, field, key)
		}
		typ, ok := paramTypes[spec]
		if !ok {
			return nil, fmt.Errorf("%w: type %q in %q", ErrBadFormat, spec, key)
		}
		f.Params = append(f.Params, Param{Name: name, Type: typ})
	}
	return f, nil
}

// String renders the format back into its dictionary form.
func (f *MessageFormat) String() string {
	var b strings.Builder
	b.WriteString(f.Name)
	for _, p := range f.Params {
		b.WriteByte(' ')
		b.WriteString(p.Name)
		b.WriteByte('=')
		for spec, typ := range paramTypes {
			if typ == p.Type && spec != "%*s" {
				b.WriteString(spec)
				break
			}
		}
	}
	return b.String()
}

// Args holds named integer arguments of a command.
type Args map[string]int64

// Encode writes the arguments in format order. Every parameter must be
// present and no extra names are accepted.
func (f *MessageFormat) Encode(output protocol.OutputBuffer, args Args) error {
	for name := range args {
		if !f.has(name) {
			return fmt.Errorf("%s: %w %q", f.Name, ErrUnknownArg, name)
		}
	}
	for _, p := range f.Params {
		v, ok := args[p.Name]
		if !ok {
			return fmt.Errorf("%s: %w %q", f.Name, ErrMissingArg, p.Name)
		}
		switch p.Type {
		case ParamBuffer:
			return fmt.Errorf("%s: %w", f.Name, ErrBufferParam)
		case ParamInt32, ParamInt16:
			protocol.EncodeVLQInt(output, int32(v))
		default:
			protocol.EncodeVLQUint(output, uint32(v))
		}
	}
	return nil
}

func (f *MessageFormat) has(name string) bool {
	for _, p := range f.Params {
		if p.Name == name {
			return true
		}
	}
	return false
}

// Response is a decoded device message.
type Response struct {
	Name    string
	Values  map[string]int64
	Buffers map[string][]byte
}

// Value returns an integer field, 0 when absent.
func (r Response) Value(name string) int64 {
	return r.Values[name]
}

// Decode reads the parameters that follow the message ID.
func (f *MessageFormat) Decode(data *[]byte) (Response, error) {
	r := Response{Name: f.Name, Values: make(map[string]int64, len(f.Params))}
	for _, p := range f.Params {
		if p.Type == ParamBuffer {
			b, err := protocol.DecodeVLQBytes(data)
			if err != nil {
				return r, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			if r.Buffers == nil {
				r.Buffers = make(map[string][]byte)
			}
			r.Buffers[p.Name] = append([]byte(nil), b...)
			continue
		}
		v, err := protocol.DecodeVLQInt(data)
		if err != nil {
			return r, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
		}
		switch p.Type {
		case ParamUint32:
			r.Values[p.Name] = int64(uint32(v))
		case ParamInt32:
			r.Values[p.Name] = int64(v)
		case ParamUint16:
			r.Values[p.Name] = int64(uint16(v))
		case ParamInt16:
			r.Values[p.Name] = int64(int16(v))
		case ParamByte:
			r.Values[p.Name] = int64(uint8(v))
		}
	}
	return r, nil
}

// Format renders a response as "name a=1 b=2" in parameter order.
func (f *MessageFormat) Format(r Response) string {
	var b strings.Builder
	b.WriteString(f.Name)
	for _, p := range f.Params {
		if p.Type == ParamBuffer {
			fmt.Fprintf(&b, " %s=%q", p.Name, r.Buffers[p.Name])
			continue
		}
		fmt.Fprintf(&b, " %s=%d", p.Name, r.Values[p.Name])
	}
	return b.String()
}
