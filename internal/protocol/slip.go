package protocol

import "fmt"

// Default control bytes used by the GPSDO firmware (spi.h).
const (
	DefaultIdle      = 0x00 // NUL, sent in both directions when there is nothing to say
	DefaultDelimiter = 0xC0 // END, always the final byte of a frame
	DefaultEsc       = 0xDB
	DefaultEscEnd    = 0xDC // ESC ESC_END encodes a literal END
	DefaultEscEsc    = 0xDD // ESC ESC_ESC encodes a literal ESC
)

// Controls holds the reserved bytes of the wire framing. It is passed to the
// decoder at construction so that nothing depends on package-level state.
type Controls struct {
	Idle      byte
	Delimiter byte
	Esc       byte
	EscEnd    byte
	EscEsc    byte
}

// DefaultControls returns the control bytes of the reference firmware.
func DefaultControls() Controls {
	return Controls{
		Idle:      DefaultIdle,
		Delimiter: DefaultDelimiter,
		Esc:       DefaultEsc,
		EscEnd:    DefaultEscEnd,
		EscEsc:    DefaultEscEsc,
	}
}

// Validate checks that all five control bytes are distinct.
func (c Controls) Validate() error {
	named := []struct {
		name string
		b    byte
	}{
		{"idle", c.Idle},
		{"delimiter", c.Delimiter},
		{"esc", c.Esc},
		{"esc_end", c.EscEnd},
		{"esc_esc", c.EscEsc},
	}
	for i := range named {
		for j := i + 1; j < len(named); j++ {
			if named[i].b == named[j].b {
				return fmt.Errorf("control bytes %s and %s are both 0x%02x", named[i].name, named[j].name, named[i].b)
			}
		}
	}
	return nil
}

// Escape stuffs data so that it contains no delimiter byte. Delimiter becomes
// (Esc, EscEnd) and Esc becomes (Esc, EscEsc). The terminating delimiter is
// not appended; see EncodeFrame.
func Escape(data []byte, c Controls) []byte {
	out := make([]byte, 0, len(data)+len(data)/8+1)
	for _, b := range data {
		switch b {
		case c.Delimiter:
			out = append(out, c.Esc, c.EscEnd)
		case c.Esc:
			out = append(out, c.Esc, c.EscEsc)
		default:
			out = append(out, b)
		}
	}
	return out
}

// Unescape reverses Escape. Only the two recognised escape pairs are
// rewritten; an Esc followed by anything else, or an Esc that is the last
// byte, is copied through unchanged.
func Unescape(data []byte, c Controls) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		b := data[i]
		if b == c.Esc && i+1 < len(data) {
			switch data[i+1] {
			case c.EscEnd:
				out = append(out, c.Delimiter)
				i++
				continue
			case c.EscEsc:
				out = append(out, c.Esc)
				i++
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

// unstuffed is the result of decoding the head of a raw buffer.
type unstuffed struct {
	content []byte
	used    int  // raw bytes consumed to produce content
	literal bool // last content byte came from a single, unescaped raw byte
}

// unstuff decodes raw until want content bytes are produced or raw runs out.
// A dangling Esc at the end of raw is left unconsumed so the caller can keep
// it pending until its pair arrives. An Esc followed by anything other than
// EscEnd or EscEsc is reported as ErrInvalidEscape, mirroring the firmware,
// which drops such a transmission.
func (c Controls) unstuff(raw []byte, want int) (unstuffed, error) {
	u := unstuffed{content: make([]byte, 0, want)}
	for u.used < len(raw) && len(u.content) < want {
		b := raw[u.used]
		if b != c.Esc {
			u.content = append(u.content, b)
			u.used++
			u.literal = true
			continue
		}
		if u.used+1 >= len(raw) {
			break
		}
		switch raw[u.used+1] {
		case c.EscEnd:
			u.content = append(u.content, c.Delimiter)
		case c.EscEsc:
			u.content = append(u.content, c.Esc)
		default:
			return u, ErrInvalidEscape
		}
		u.used += 2
		u.literal = false
	}
	return u, nil
}

// trimIdle drops a leading run of idle bytes.
func (c Controls) trimIdle(data []byte) []byte {
	i := 0
	for i < len(data) && data[i] == c.Idle {
		i++
	}
	return data[i:]
}
