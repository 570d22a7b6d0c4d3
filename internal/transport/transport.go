package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultSize is the number of bytes clocked in each direction per exchange.
const DefaultSize = 32

// DefaultSpeedHz matches the 10 kHz clock the MCU firmware is tuned for.
const DefaultSpeedHz = 10000

var (
	// ErrClosed is returned by Exchange after Close.
	ErrClosed = errors.New("transport closed")
	// ErrRequestTooLong means a request did not fit in one exchange.
	ErrRequestTooLong = errors.New("request longer than exchange size")
	// ErrShortResponse means the peer returned fewer bytes than were sent.
	ErrShortResponse = errors.New("response length does not match request")
	// ErrUnsupported is returned when a transport kind is not available on
	// this platform.
	ErrUnsupported = errors.New("transport not supported on this platform")
)

// Transport performs fixed-size full-duplex exchanges with the MCU. Every
// error it returns is fatal to the poll loop.
type Transport interface {
	// Exchange sends req (padded with idle bytes to Size) and returns the
	// Size bytes clocked back. A nil request sends only idle bytes.
	Exchange(ctx context.Context, req []byte) ([]byte, error)
	// Size is the exchange length in bytes.
	Size() int
	// Close releases the underlying device or connection.
	Close() error
}

// Error wraps a transport failure with the operation and source that failed.
type Error struct {
	Op     string // open, exchange, close
	Source string // device path, URL or capture file
	Err    error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Source, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind selects a transport implementation.
type Kind string

const (
	KindSpidev    Kind = "spidev"
	KindWebSocket Kind = "websocket"
	KindReplay    Kind = "replay"
	KindMemory    Kind = "memory"
)

// Config describes how to reach the MCU.
type Config struct {
	Kind Kind

	// spidev
	Device      string // e.g. /dev/spidev0.0
	SpeedHz     uint32
	Mode        uint8
	BitsPerWord uint8

	// websocket
	URL              string
	HandshakeTimeout time.Duration

	// replay
	CaptureFile string

	// Size is the exchange length; 0 means DefaultSize.
	Size int
	// Idle pads short requests.
	Idle byte
}

// WithDefaults fills zero fields.
func (c Config) WithDefaults() Config {
	if c.Kind == "" {
		c.Kind = KindSpidev
	}
	if c.Device == "" {
		c.Device = "/dev/spidev0.0"
	}
	if c.SpeedHz == 0 {
		c.SpeedHz = DefaultSpeedHz
	}
	if c.BitsPerWord == 0 {
		c.BitsPerWord = 8
	}
	if c.Size == 0 {
		c.Size = DefaultSize
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	return c
}

// Source returns the device, URL or file the config points at.
func (c Config) Source() string {
	switch c.Kind {
	case KindWebSocket:
		return c.URL
	case KindReplay:
		return c.CaptureFile
	case KindMemory:
		return "memory"
	default:
		return c.Device
	}
}

// Open creates the transport selected by cfg.Kind.
func Open(ctx context.Context, cfg Config) (Transport, error) {
	cfg = cfg.WithDefaults()
	if cfg.Size <= 0 {
		return nil, &Error{Op: "open", Source: cfg.Source(), Err: fmt.Errorf("invalid exchange size %d", cfg.Size)}
	}

	switch cfg.Kind {
	case KindSpidev:
		s, err := OpenSpidev(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case KindWebSocket:
		ws, err := DialWebSocket(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return ws, nil
	case KindReplay:
		r, err := OpenReplay(cfg.CaptureFile, cfg.Size)
		if err != nil {
			return nil, err
		}
		return r, nil
	case KindMemory:
		return NewMemory(cfg.Size, cfg.Idle), nil
	default:
		return nil, &Error{Op: "open", Err: fmt.Errorf("unknown transport kind %q", cfg.Kind)}
	}
}

// With opens a transport, runs fn, and closes the transport on every exit
// path. A close error is joined to fn's error.
func With(ctx context.Context, cfg Config, fn func(Transport) error) (err error) {
	t, err := Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := t.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	return fn(t)
}

// IdleRequest returns a request of size idle bytes.
func IdleRequest(size int, idle byte) []byte {
	req := make([]byte, size)
	if idle != 0 {
		for i := range req {
			req[i] = idle
		}
	}
	return req
}

// PadRequest pads req to size with idle bytes. It fails if req is longer
// than size.
func PadRequest(req []byte, size int, idle byte) ([]byte, error) {
	if len(req) > size {
		return nil, fmt.Errorf("%w: %d > %d", ErrRequestTooLong, len(req), size)
	}
	out := IdleRequest(size, idle)
	copy(out, req)
	return out, nil
}
