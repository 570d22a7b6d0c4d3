// Package capture reads and writes raw SPI exchange logs.
//
// A capture file is a header followed by one record per exchange. Each value
// is a msgpack payload behind a 4-byte big-endian length prefix, so a file cut
// short by a crash is detected instead of silently misread.
package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// Format identifies capture files.
	Format = "spilink-capture"
	// Version is the current capture format version.
	Version = 1

	lengthPrefixSize = 4
	// maxPayloadSize bounds a single record; real records are tens of bytes.
	maxPayloadSize = 1 << 20
)

// ErrTruncated means the file ended in the middle of a record.
var ErrTruncated = errors.New("capture truncated")

// Header is the first value in a capture file.
type Header struct {
	Format  string    `msgpack:"format"`
	Version int       `msgpack:"version"`
	Size    int       `msgpack:"size"`
	Source  string    `msgpack:"source"`
	Started time.Time `msgpack:"started"`
}

// Record is one exchange: what the host sent and what came back.
type Record struct {
	Seq      uint64    `msgpack:"seq"`
	Time     time.Time `msgpack:"time"`
	Request  []byte    `msgpack:"req"`
	Response []byte    `msgpack:"resp"`
}

// Writer appends records to a capture stream. It is safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	bw     *bufio.Writer
	closer io.Closer
	seq    uint64
	now    func() time.Time
}

// Create creates (or truncates) a capture file at path.
func Create(path string, header Header) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	w, err := NewWriter(f, header)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the header to w and returns a Writer for the records.
func NewWriter(w io.Writer, header Header) (*Writer, error) {
	header.Format = Format
	header.Version = Version
	if header.Started.IsZero() {
		header.Started = time.Now()
	}

	cw := &Writer{bw: bufio.NewWriter(w), now: time.Now}
	if err := cw.writeValue(&header); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return cw, nil
}

// Write appends one exchange.
func (w *Writer) Write(req, resp []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.seq++
	rec := Record{
		Seq:      w.seq,
		Time:     w.now(),
		Request:  req,
		Response: resp,
	}
	if err := w.writeValue(&rec); err != nil {
		return fmt.Errorf("failed to write capture record %d: %w", rec.Seq, err)
	}
	return nil
}

func (w *Writer) writeValue(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	var prefix [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.bw.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.bw.Write(payload); err != nil {
		return err
	}
	return nil
}

// Flush writes buffered records to the underlying writer.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bw.Flush()
}

// Close flushes and, for files opened with Create, closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.bw.Flush()
	if w.closer != nil {
		err = errors.Join(err, w.closer.Close())
		w.closer = nil
	}
	return err
}

// Reader iterates over the records of a capture stream.
type Reader struct {
	br     *bufio.Reader
	closer io.Closer
	header Header
}

// Open opens a capture file and reads its header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewReader reads and checks the header from r.
func NewReader(r io.Reader) (*Reader, error) {
	cr := &Reader{br: bufio.NewReader(r)}
	if err := cr.readValue(&cr.header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty capture: %w", ErrTruncated)
		}
		return nil, fmt.Errorf("failed to read capture header: %w", err)
	}
	if cr.header.Format != Format {
		return nil, fmt.Errorf("not a capture file (format %q)", cr.header.Format)
	}
	if cr.header.Version != Version {
		return nil, fmt.Errorf("unsupported capture version %d (expected %d)", cr.header.Version, Version)
	}
	return cr, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF after the last one.
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.readValue(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Reader) readValue(v any) error {
	var prefix [lengthPrefixSize]byte
	if _, err := io.ReadFull(r.br, prefix[:]); err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("%w: length prefix: %v", ErrTruncated, err)
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxPayloadSize {
		return fmt.Errorf("capture record of %d bytes exceeds limit", n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r.br, payload); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrTruncated, err)
	}
	if err := msgpack.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("failed to decode capture record: %w", err)
	}
	return nil
}

// Close closes the file opened by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	return err
}
