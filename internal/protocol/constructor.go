package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame constructors for the host → MCU direction and for test fixtures.
//
// The firmware's transmit ISR (spi.c) sends the content byte by byte, stuffs
// END and ESC, and closes the frame with a bare END. EncodeFrame produces the
// same byte sequence.

// Pack builds the unstuffed content of a frame: the type byte, each field in
// little-endian order and the delimiter. values must match Fields one to one
// and fit the field's width and signedness.
//
// Example:
//
//	content, err := OscillatorInterval().Pack(DefaultControls(), 4000000, 3, -12)
func (m *MessageType) Pack(c Controls, values ...int64) ([]byte, error) {
	if len(values) != len(m.Fields) {
		return nil, fmt.Errorf("%s: got %d values for %d fields", m.Name, len(values), len(m.Fields))
	}

	content := make([]byte, m.Length)
	content[0] = m.ID
	off := 1
	for i, f := range m.Fields {
		v := values[i]
		if err := checkRange(f, v); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		b := content[off : off+f.Width]
		switch f.Width {
		case 1:
			b[0] = byte(v)
		case 2:
			binary.LittleEndian.PutUint16(b, uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(b, uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(b, uint64(v))
		}
		off += f.Width
	}
	content[m.Length-1] = c.Delimiter
	return content, nil
}

func checkRange(f Field, v int64) error {
	if f.Width == 8 {
		if !f.Signed && v < 0 {
			return fmt.Errorf("field %s: %d is negative", f.Name, v)
		}
		return nil
	}
	bits := uint(8 * f.Width)
	if f.Signed {
		lo, hi := -(int64(1) << (bits - 1)), int64(1)<<(bits-1)-1
		if v < lo || v > hi {
			return fmt.Errorf("field %s: %d out of range [%d, %d]", f.Name, v, lo, hi)
		}
		return nil
	}
	if v < 0 || v > int64(1)<<bits-1 {
		return fmt.Errorf("field %s: %d out of range [0, %d]", f.Name, v, int64(1)<<bits-1)
	}
	return nil
}

// EncodeFrame stuffs a frame body (everything before the terminator) and
// appends the delimiter.
func EncodeFrame(body []byte, c Controls) []byte {
	out := Escape(body, c)
	return append(out, c.Delimiter)
}

// Build packs values for m and returns the stuffed, terminated frame.
func Build(m *MessageType, c Controls, values ...int64) ([]byte, error) {
	content, err := m.Pack(c, values...)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(content[:len(content)-1], c), nil
}
