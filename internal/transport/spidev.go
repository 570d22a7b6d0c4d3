package transport

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/host/v3/sysfs"
)

// Spidev drives a Linux spidev character device as SPI master.
type Spidev struct {
	mu     sync.Mutex
	port   *sysfs.SPI
	conn   spi.Conn
	path   string
	size   int
	idle   byte
	closed bool
}

// parseSpidevPath extracts bus and chip select from /dev/spidevB.C.
func parseSpidevPath(path string) (bus, cs int, err error) {
	var tail string
	n, _ := fmt.Sscanf(filepath.Base(path), "spidev%d.%d%s", &bus, &cs, &tail)
	if n != 2 || bus < 0 || cs < 0 {
		return 0, 0, fmt.Errorf("%q is not a spidev device path (want /dev/spidevB.C)", path)
	}
	return bus, cs, nil
}

// OpenSpidev opens and configures cfg.Device.
func OpenSpidev(cfg Config) (*Spidev, error) {
	cfg = cfg.WithDefaults()
	if runtime.GOOS != "linux" {
		return nil, &Error{Op: "open", Source: cfg.Device, Err: ErrUnsupported}
	}
	if cfg.Mode > 3 {
		return nil, &Error{Op: "open", Source: cfg.Device, Err: fmt.Errorf("SPI mode %d out of range 0-3", cfg.Mode)}
	}

	bus, cs, err := parseSpidevPath(cfg.Device)
	if err != nil {
		return nil, &Error{Op: "open", Source: cfg.Device, Err: err}
	}

	port, err := sysfs.NewSPI(bus, cs)
	if err != nil {
		return nil, &Error{Op: "open", Source: cfg.Device, Err: err}
	}

	freq := physic.Frequency(cfg.SpeedHz) * physic.Hertz
	conn, err := port.Connect(freq, spi.Mode(cfg.Mode), int(cfg.BitsPerWord))
	if err != nil {
		port.Close()
		return nil, &Error{Op: "open", Source: cfg.Device, Err: fmt.Errorf("configure mode %d, %d bits, %s: %w", cfg.Mode, cfg.BitsPerWord, freq, err)}
	}

	return &Spidev{
		port: port,
		conn: conn,
		path: cfg.Device,
		size: cfg.Size,
		idle: cfg.Idle,
	}, nil
}

// Exchange clocks one full-duplex transfer.
func (s *Spidev) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "exchange", Source: s.path, Err: err}
	}

	tx, err := PadRequest(req, s.size, s.idle)
	if err != nil {
		return nil, &Error{Op: "exchange", Source: s.path, Err: err}
	}
	rx := make([]byte, s.size)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, &Error{Op: "exchange", Source: s.path, Err: ErrClosed}
	}

	if err := s.conn.Tx(tx, rx); err != nil {
		return nil, &Error{Op: "exchange", Source: s.path, Err: err}
	}
	return rx, nil
}

// Size returns the exchange length.
func (s *Spidev) Size() int {
	return s.size
}

// Close closes the device. It is safe to call more than once.
func (s *Spidev) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.port.Close(); err != nil {
		return &Error{Op: "close", Source: s.path, Err: err}
	}
	return nil
}
