package protocol

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"
)

// Value is one unpacked field.
type Value struct {
	Field Field
	bits  uint64
}

// Int returns the value sign-extended when the field is signed.
func (v Value) Int() int64 {
	if !v.Field.Signed {
		return int64(v.bits)
	}
	shift := uint(64 - 8*v.Field.Width)
	return int64(v.bits<<shift) >> shift
}

// Uint returns the raw bits of the field.
func (v Value) Uint() uint64 {
	return v.bits
}

func (v Value) String() string {
	if v.Field.Signed {
		return strconv.FormatInt(v.Int(), 10)
	}
	return strconv.FormatUint(v.bits, 10)
}

// Message is a decoded frame.
type Message struct {
	Type   *MessageType
	Values []Value
	Raw    []byte // Unstuffed frame including type byte and delimiter
}

// TypeID returns the frame's leading byte.
func (m *Message) TypeID() byte {
	return m.Type.ID
}

// Value returns the named field.
func (m *Message) Value(name string) (Value, bool) {
	for _, v := range m.Values {
		if v.Field.Name == name {
			return v, true
		}
	}
	return Value{}, false
}

// Int returns the named field as a signed integer.
func (m *Message) Int(name string) (int64, bool) {
	v, ok := m.Value(name)
	if !ok {
		return 0, false
	}
	return v.Int(), true
}

// Uint returns the named field as an unsigned integer.
func (m *Message) Uint(name string) (uint64, bool) {
	v, ok := m.Value(name)
	if !ok {
		return 0, false
	}
	return v.Uint(), true
}

// Fields returns the values keyed by field name.
func (m *Message) Fields() map[string]int64 {
	out := make(map[string]int64, len(m.Values))
	for _, v := range m.Values {
		out[v.Field.Name] = v.Int()
	}
	return out
}

func (m *Message) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s{", m.Type.Name)
	for i, v := range m.Values {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%s", v.Field.Name, v.String())
	}
	b.WriteString("}")
	return b.String()
}

// Unpack splits an unstuffed frame of exactly Length bytes into values.
func (m *MessageType) Unpack(frame []byte) (*Message, error) {
	if len(frame) != m.Length {
		return nil, fmt.Errorf("%s: frame is %d bytes, want %d", m.Name, len(frame), m.Length)
	}
	if frame[0] != m.ID {
		return nil, fmt.Errorf("%s: frame type 0x%02x, want 0x%02x", m.Name, frame[0], m.ID)
	}

	msg := &Message{
		Type:   m,
		Values: make([]Value, 0, len(m.Fields)),
		Raw:    append([]byte(nil), frame...),
	}
	off := 1
	for _, f := range m.Fields {
		var bits uint64
		b := frame[off : off+f.Width]
		switch f.Width {
		case 1:
			bits = uint64(b[0])
		case 2:
			bits = uint64(binary.LittleEndian.Uint16(b))
		case 4:
			bits = uint64(binary.LittleEndian.Uint32(b))
		case 8:
			bits = binary.LittleEndian.Uint64(b)
		}
		msg.Values = append(msg.Values, Value{Field: f, bits: bits})
		off += f.Width
	}
	return msg, nil
}
