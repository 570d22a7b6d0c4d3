package protocol

import (
	"errors"
	"fmt"
)

// StreamState is what the decoder remembers between exchanges.
type StreamState struct {
	// Pending holds the raw, still stuffed bytes of one incomplete frame. It
	// never contains a complete terminated frame.
	Pending []byte
	// Resyncing is set after a parse failure. While set, nothing before the
	// next raw delimiter is treated as content.
	Resyncing bool
}

// Stats are cumulative decoder counters.
type Stats struct {
	Chunks         uint64 // Feed calls
	Frames         uint64 // Messages delivered to a sink
	Resyncs        uint64 // Entries into resynchronization
	UnknownTypes   uint64
	FramingErrors  uint64
	EscapeErrors   uint64
	DiscardedBytes uint64 // Non-idle bytes thrown away while looking for a boundary
}

// Result reports what a single Feed call did.
type Result struct {
	Decoded   int  // Messages delivered during this call
	Pending   int  // Raw bytes left buffered for the next call
	Discarded int  // Non-idle bytes dropped while resynchronizing
	Resyncing bool // Still looking for a frame boundary
}

// More reports whether undecoded bytes remain buffered. The poll loop uses it
// to exchange again immediately instead of sleeping.
func (r Result) More() bool {
	return r.Pending > 0
}

// Decoder turns a stream of fixed-size exchange chunks into messages. It
// strips idle padding, carries partial frames across calls, unstuffs escape
// sequences, validates type, length and terminator, and delivers each frame
// to a Sink. Any parse failure sends it into resynchronization.
//
// A Decoder is owned by one goroutine; it does no locking.
type Decoder struct {
	controls Controls
	catalog  *Catalog
	sink     Sink
	state    StreamState
	stats    Stats
}

// NewDecoder builds a decoder. A nil sink discards messages that have no
// per-type Handler.
func NewDecoder(c Controls, catalog *Catalog, sink Sink) (*Decoder, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controls: %w", err)
	}
	if catalog == nil {
		return nil, errors.New("decoder needs a message catalog")
	}
	if sink == nil {
		sink = discardSink{}
	}
	return &Decoder{
		controls: c,
		catalog:  catalog,
		sink:     sink,
	}, nil
}

// Feed processes one chunk. All complete frames in the accumulated buffer are
// delivered before it returns; an incomplete tail is kept for the next call.
//
// The returned error is nil unless one or more recoverable parse failures
// occurred (joined with errors.Join). The Result is valid either way and the
// decoder is ready for the next chunk. Every loop iteration consumes at least
// one byte, so the work done is bounded by the buffer length.
func (d *Decoder) Feed(chunk []byte) (Result, error) {
	d.stats.Chunks++

	var res Result
	var errs []error

	buf := chunk
	switch {
	case d.state.Resyncing:
		buf = d.seekBoundary(buf, &res)
		if d.state.Resyncing {
			res.Resyncing = true
			return res, nil
		}
		buf = d.controls.trimIdle(buf)
	case len(d.state.Pending) > 0:
		joined := make([]byte, 0, len(d.state.Pending)+len(chunk))
		joined = append(joined, d.state.Pending...)
		buf = append(joined, chunk...)
		d.state.Pending = nil
	default:
		buf = d.controls.trimIdle(buf)
	}

	for len(buf) > 0 {
		// A bare delimiter is an empty frame, treated as padding.
		if buf[0] == d.controls.Delimiter {
			buf = d.controls.trimIdle(buf[1:])
			continue
		}

		used, err := d.dispatch(buf)
		if err != nil {
			errs = append(errs, err)
			d.resync()
			buf = d.seekBoundary(buf[1:], &res)
			if d.state.Resyncing {
				break
			}
			buf = d.controls.trimIdle(buf)
			continue
		}
		if used == 0 {
			d.state.Pending = append([]byte(nil), buf...)
			break
		}

		res.Decoded++
		buf = d.controls.trimIdle(buf[used:])
	}

	res.Pending = len(d.state.Pending)
	res.Resyncing = d.state.Resyncing
	return res, errors.Join(errs...)
}

// dispatch decodes the frame at the head of raw. It returns the raw bytes the
// frame occupied, or 0 with a nil error when the frame is still incomplete.
func (d *Decoder) dispatch(raw []byte) (int, error) {
	head, err := d.controls.unstuff(raw, 1)
	if err != nil {
		d.stats.EscapeErrors++
		return 0, newParseError(err, raw[0], raw)
	}
	if len(head.content) == 0 {
		// Lone escape byte, its pair is in the next chunk.
		return 0, nil
	}

	typeID := head.content[0]
	mt, ok := d.catalog.Lookup(typeID)
	if !ok {
		d.stats.UnknownTypes++
		return 0, newParseError(ErrUnknownType, typeID, raw)
	}

	frame, err := d.controls.unstuff(raw, mt.Length)
	if err != nil {
		d.stats.EscapeErrors++
		return 0, newParseError(err, typeID, raw)
	}
	if len(frame.content) < mt.Length {
		return 0, nil
	}
	if !frame.literal || frame.content[mt.Length-1] != d.controls.Delimiter {
		d.stats.FramingErrors++
		return 0, newParseError(ErrFramingMismatch, typeID, raw[:frame.used])
	}

	msg, err := mt.Unpack(frame.content)
	if err != nil {
		d.stats.FramingErrors++
		return 0, newParseError(fmt.Errorf("%w: %v", ErrFramingMismatch, err), typeID, raw[:frame.used])
	}

	sink := mt.Handler
	if sink == nil {
		sink = d.sink
	}
	sink.HandleMessage(msg)
	d.stats.Frames++

	return frame.used, nil
}

// resync enters the resynchronizing state and drops any partial frame.
func (d *Decoder) resync() {
	d.state.Resyncing = true
	d.state.Pending = nil
	d.stats.Resyncs++
}

// seekBoundary discards buf through the first raw delimiter and leaves the
// resynchronizing state. If buf has no delimiter everything is discarded and
// the decoder stays resynchronizing.
func (d *Decoder) seekBoundary(buf []byte, res *Result) []byte {
	end := len(buf)
	found := false
	for i, b := range buf {
		if b == d.controls.Delimiter {
			end = i + 1
			found = true
			break
		}
	}

	for _, b := range buf[:end] {
		if b != d.controls.Idle {
			res.Discarded++
			d.stats.DiscardedBytes++
		}
	}

	if !found {
		return nil
	}
	d.state.Resyncing = false
	return buf[end:]
}

// State returns a copy of the stream state.
func (d *Decoder) State() StreamState {
	return StreamState{
		Pending:   append([]byte(nil), d.state.Pending...),
		Resyncing: d.state.Resyncing,
	}
}

// Stats returns the cumulative counters.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Controls returns the control bytes the decoder was built with.
func (d *Decoder) Controls() Controls {
	return d.controls
}

// Catalog returns the decoder's message catalog.
func (d *Decoder) Catalog() *Catalog {
	return d.catalog
}

// Reset drops any partial frame and returns to the synchronized state.
// Counters are kept.
func (d *Decoder) Reset() {
	d.state = StreamState{}
}
