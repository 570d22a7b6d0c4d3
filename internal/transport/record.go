package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/ocxo/spilink/internal/capture"
)

// ErrReplayExhausted is returned once a replay has served every record.
var ErrReplayExhausted = errors.New("capture replay exhausted")

// Recorder wraps a transport and appends every successful exchange to a
// capture.
type Recorder struct {
	inner Transport
	w     *capture.Writer
	idle  byte
}

// NewRecorder records exchanges on t into w. Requests are padded with idle
// before being stored so captures hold exactly what went on the wire.
func NewRecorder(t Transport, w *capture.Writer, idle byte) *Recorder {
	return &Recorder{inner: t, w: w, idle: idle}
}

// Exchange forwards to the wrapped transport and records the result.
func (r *Recorder) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	tx, err := PadRequest(req, r.inner.Size(), r.idle)
	if err != nil {
		return nil, &Error{Op: "exchange", Err: err}
	}
	rx, err := r.inner.Exchange(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := r.w.Write(tx, rx); err != nil {
		return nil, &Error{Op: "exchange", Source: "capture", Err: err}
	}
	return rx, nil
}

// Size returns the wrapped transport's exchange length.
func (r *Recorder) Size() int {
	return r.inner.Size()
}

// Close closes the wrapped transport and the capture writer.
func (r *Recorder) Close() error {
	return errors.Join(r.inner.Close(), r.w.Close())
}

// Replay serves responses from a capture instead of hardware. Requests are
// ignored.
type Replay struct {
	r      *capture.Reader
	source string
	size   int
}

// OpenReplay opens a capture file. A size of 0 takes the exchange size from
// the capture header.
func OpenReplay(path string, size int) (*Replay, error) {
	r, err := capture.Open(path)
	if err != nil {
		return nil, &Error{Op: "open", Source: path, Err: err}
	}
	rp, err := NewReplay(r, size)
	if err != nil {
		r.Close()
		return nil, &Error{Op: "open", Source: path, Err: err}
	}
	rp.source = path
	return rp, nil
}

// NewReplay serves records from r.
func NewReplay(r *capture.Reader, size int) (*Replay, error) {
	recorded := r.Header().Size
	if size == 0 {
		size = recorded
	}
	if recorded != 0 && recorded != size {
		return nil, fmt.Errorf("capture exchange size %d does not match %d", recorded, size)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid exchange size %d", size)
	}
	return &Replay{r: r, source: "capture", size: size}, nil
}

// Exchange returns the next recorded response.
func (p *Replay) Exchange(ctx context.Context, _ []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "exchange", Source: p.source, Err: err}
	}
	rec, err := p.r.Next()
	if err == io.EOF {
		return nil, &Error{Op: "exchange", Source: p.source, Err: ErrReplayExhausted}
	}
	if err != nil {
		return nil, &Error{Op: "exchange", Source: p.source, Err: err}
	}
	if len(rec.Response) != p.size {
		return nil, &Error{Op: "exchange", Source: p.source,
			Err: fmt.Errorf("%w: record %d has %d bytes", ErrShortResponse, rec.Seq, len(rec.Response))}
	}
	return rec.Response, nil
}

// Size returns the exchange length.
func (p *Replay) Size() int {
	return p.size
}

// Close closes the capture file.
func (p *Replay) Close() error {
	return p.r.Close()
}
