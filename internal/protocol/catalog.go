package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Message type identifiers known to the reference firmware (spi.h).
const (
	MsgTypeOscillatorInterval = 0x01 // SPICMD_PPS, sent once per measured GPS interval
)

// Field describes one little-endian integer inside a frame, between the type
// byte and the delimiter.
type Field struct {
	Name   string
	Width  int // 1, 2, 4 or 8 bytes
	Signed bool
}

// MessageType describes one fixed-length frame. Length counts the type byte
// and the trailing delimiter, so Fields must cover exactly Length-2 bytes.
type MessageType struct {
	ID      byte
	Name    string
	Length  int
	Fields  []Field
	Handler Sink // Optional; the decoder's default sink is used when nil
}

// payloadWidth returns the number of bytes covered by the fields.
func (m *MessageType) payloadWidth() int {
	n := 0
	for _, f := range m.Fields {
		n += f.Width
	}
	return n
}

func (m *MessageType) validate(c Controls) error {
	if m.ID == c.Idle || m.ID == c.Delimiter {
		return fmt.Errorf("message type 0x%02x collides with a control byte", m.ID)
	}
	if m.Length < 2 {
		return fmt.Errorf("message type 0x%02x: length %d is too short (minimum 2)", m.ID, m.Length)
	}
	seen := make(map[string]bool, len(m.Fields))
	for _, f := range m.Fields {
		switch f.Width {
		case 1, 2, 4, 8:
		default:
			return fmt.Errorf("message type 0x%02x: field %q has unsupported width %d", m.ID, f.Name, f.Width)
		}
		if f.Name == "" {
			return fmt.Errorf("message type 0x%02x: unnamed field", m.ID)
		}
		if seen[f.Name] {
			return fmt.Errorf("message type 0x%02x: duplicate field %q", m.ID, f.Name)
		}
		seen[f.Name] = true
	}
	if w := m.payloadWidth(); w != m.Length-2 {
		return fmt.Errorf("message type 0x%02x: fields cover %d bytes, length %d needs %d", m.ID, w, m.Length, m.Length-2)
	}
	return nil
}

// String returns a short description such as "0x01 Oscillator Interval (9 bytes)".
func (m *MessageType) String() string {
	return fmt.Sprintf("0x%02x %s (%d bytes)", m.ID, m.Name, m.Length)
}

// Catalog maps type IDs to message types. It is immutable after NewCatalog.
type Catalog struct {
	types map[byte]*MessageType
}

// NewCatalog validates and indexes the given message types.
func NewCatalog(c Controls, types ...*MessageType) (*Catalog, error) {
	cat := &Catalog{types: make(map[byte]*MessageType, len(types))}
	for _, mt := range types {
		if mt == nil {
			continue
		}
		if err := mt.validate(c); err != nil {
			return nil, err
		}
		if _, exists := cat.types[mt.ID]; exists {
			return nil, fmt.Errorf("duplicate message type 0x%02x", mt.ID)
		}
		cat.types[mt.ID] = mt
	}
	return cat, nil
}

// Lookup returns the message type registered for id.
func (c *Catalog) Lookup(id byte) (*MessageType, bool) {
	mt, ok := c.types[id]
	return mt, ok
}

// Types returns the registered types ordered by ID.
func (c *Catalog) Types() []*MessageType {
	out := make([]*MessageType, 0, len(c.types))
	for _, mt := range c.types {
		out = append(out, mt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered types.
func (c *Catalog) Len() int {
	return len(c.types)
}

// OscillatorInterval returns the descriptor for the firmware's PPS report:
// CPU clock (u32), measured interval exponent (u8) and accumulated error (i16).
func OscillatorInterval() *MessageType {
	return &MessageType{
		ID:     MsgTypeOscillatorInterval,
		Name:   "Oscillator Interval",
		Length: 9,
		Fields: []Field{
			{Name: "f_cpu", Width: 4},
			{Name: "interval", Width: 1},
			{Name: "variance", Width: 2, Signed: true},
		},
	}
}

// DefaultCatalog returns a catalog holding only OscillatorInterval.
func DefaultCatalog(c Controls) (*Catalog, error) {
	return NewCatalog(c, OscillatorInterval())
}

// ParseLayout builds a field list from a Python struct style format such as
// "<IBh", the notation the original host utility used. Only little-endian
// ('<' or no prefix) integer codes are accepted: b B h H i I l L q Q.
// names supplies one name per code; missing names default to field1..N.
func ParseLayout(format string, names []string) ([]Field, error) {
	format = strings.TrimSpace(format)
	if strings.HasPrefix(format, "<") {
		format = format[1:]
	} else if format != "" && strings.ContainsAny(format[:1], ">!=@") {
		return nil, fmt.Errorf("layout %q: only little-endian layouts are supported", format)
	}

	fields := make([]Field, 0, len(format))
	for i, code := range format {
		var f Field
		switch code {
		case 'b':
			f = Field{Width: 1, Signed: true}
		case 'B':
			f = Field{Width: 1}
		case 'h':
			f = Field{Width: 2, Signed: true}
		case 'H':
			f = Field{Width: 2}
		case 'i', 'l':
			f = Field{Width: 4, Signed: true}
		case 'I', 'L':
			f = Field{Width: 4}
		case 'q':
			f = Field{Width: 8, Signed: true}
		case 'Q':
			f = Field{Width: 8}
		default:
			return nil, fmt.Errorf("layout %q: unsupported code %q", format, code)
		}
		if i < len(names) && names[i] != "" {
			f.Name = names[i]
		} else {
			f.Name = fmt.Sprintf("field%d", i+1)
		}
		fields = append(fields, f)
	}
	if len(names) > len(fields) {
		return nil, fmt.Errorf("layout %q has %d fields but %d names were given", format, len(fields), len(names))
	}
	return fields, nil
}
