package protocol

import (
	"errors"
	"fmt"
)

// Recoverable parse failures. Each one sends the decoder into
// resynchronization; none of them stop the poll loop.
var (
	// ErrUnknownType means the leading byte of a frame is not in the catalog.
	ErrUnknownType = errors.New("unknown message type")
	// ErrFramingMismatch means a frame reached its declared length without a
	// raw delimiter in the final position.
	ErrFramingMismatch = errors.New("frame terminator missing at declared length")
	// ErrInvalidEscape means an escape byte was followed by a byte that is
	// neither EscEnd nor EscEsc.
	ErrInvalidEscape = errors.New("invalid escape sequence")
)

// ParseError describes a recoverable failure at a specific frame.
type ParseError struct {
	Err    error  // One of the sentinel errors above
	TypeID byte   // Leading byte of the offending frame
	Raw    []byte // Raw bytes examined, capped for logging
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("type 0x%02x: %v", e.TypeID, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// maxErrorRaw bounds the bytes kept in a ParseError.
const maxErrorRaw = 64

func newParseError(err error, typeID byte, raw []byte) *ParseError {
	if len(raw) > maxErrorRaw {
		raw = raw[:maxErrorRaw]
	}
	return &ParseError{
		Err:    err,
		TypeID: typeID,
		Raw:    append([]byte(nil), raw...),
	}
}

// IsRecoverable reports whether err is a parse failure the decoder recovers
// from by resynchronizing.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrUnknownType) ||
		errors.Is(err, ErrFramingMismatch) ||
		errors.Is(err, ErrInvalidEscape)
}
