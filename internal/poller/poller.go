// Package poller drives a decoder from a transport.
//
// The MCU cannot start a transfer, so the host polls: one exchange, decode,
// and if undecoded bytes remain, the decoder is discarding a corrupt
// transmission, or the host has something to send, exchange again right
// away; otherwise wait Interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ocxo/spilink/internal/logging"
	"github.com/ocxo/spilink/internal/protocol"
	"github.com/ocxo/spilink/internal/transport"
)

// DefaultInterval is the idle poll period used by the reference host utility.
const DefaultInterval = time.Second

// Options tune the poll loop.
type Options struct {
	// Interval is how long to wait after an exchange that left nothing pending.
	Interval time.Duration
	// Source labels log entries.
	Source string
	// OnPoll, if set, runs on the polling goroutine after every decoded
	// exchange.
	OnPoll func(protocol.Result)
}

// Stats counts poll loop activity.
type Stats struct {
	Exchanges   uint64
	ParseErrors uint64
	BytesSent   uint64
	Decoder     protocol.Stats
}

// Poller owns a transport and a decoder. Poll and Run must be called from a
// single goroutine; Send may be called from any goroutine.
type Poller struct {
	t    transport.Transport
	dec  *protocol.Decoder
	opts Options

	mu     sync.Mutex
	outbox []byte

	exchanges   uint64
	parseErrors uint64
	bytesSent   uint64
}

// New returns a poller. Zero options take defaults.
func New(t transport.Transport, dec *protocol.Decoder, opts Options) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Poller{t: t, dec: dec, opts: opts}
}

// Send queues stuffed frame bytes to go out in the following exchanges.
func (p *Poller) Send(wire []byte) {
	if len(wire) == 0 {
		return
	}
	p.mu.Lock()
	p.outbox = append(p.outbox, wire...)
	p.mu.Unlock()
}

// SendMessage builds a frame for mt and queues it.
func (p *Poller) SendMessage(mt *protocol.MessageType, values ...int64) error {
	frame, err := protocol.Build(mt, p.dec.Controls(), values...)
	if err != nil {
		return fmt.Errorf("failed to build %s: %w", mt.Name, err)
	}
	p.Send(frame)
	return nil
}

// Outstanding returns the number of queued bytes not yet sent.
func (p *Poller) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outbox)
}

func (p *Poller) nextRequest() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.outbox) == 0 {
		return nil
	}
	n := min(len(p.outbox), p.t.Size())
	req := append([]byte(nil), p.outbox[:n]...)
	p.outbox = p.outbox[n:]
	return req
}

// Poll performs one exchange and feeds the response to the decoder. A
// transport error is returned as is; parse errors are logged and counted,
// and the decoder has already recovered from them.
func (p *Poller) Poll(ctx context.Context) (protocol.Result, error) {
	req := p.nextRequest()
	rx, err := p.t.Exchange(ctx, req)
	if err != nil {
		return protocol.Result{}, err
	}
	p.exchanges++
	p.bytesSent += uint64(len(req))
	logging.LogExchange(p.opts.Source, p.exchanges, req, rx)

	res, perr := p.dec.Feed(rx)
	if perr != nil {
		p.parseErrors++
		logging.LogResync(p.opts.Source, perr, res.Discarded)
	}
	if p.opts.OnPoll != nil {
		p.opts.OnPoll(res)
	}
	return res, nil
}

// Run polls until ctx is cancelled or the transport fails. It returns nil
// on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	logging.Info("Poll loop started",
		zap.String("source", p.opts.Source),
		zap.Duration("interval", p.opts.Interval),
		zap.Int("exchange_size", p.t.Size()),
	)

	for {
		if ctx.Err() != nil {
			return p.stopped()
		}

		res, err := p.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return p.stopped()
			}
			logging.Error("Transport failed",
				zap.String("source", p.opts.Source),
				zap.Error(err),
			)
			return err
		}

		// Garbage still arriving while resynchronizing means the MCU is
		// mid-transmission; the next boundary is an exchange away.
		if res.More() || (res.Resyncing && res.Discarded > 0) || p.Outstanding() > 0 {
			continue
		}

		timer := time.NewTimer(p.opts.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return p.stopped()
		case <-timer.C:
		}
	}
}

func (p *Poller) stopped() error {
	logging.Info("Poll loop stopped",
		zap.String("source", p.opts.Source),
		zap.Uint64("exchanges", p.exchanges),
		zap.Uint64("parse_errors", p.parseErrors),
	)
	return nil
}

// Stats returns the loop and decoder counters. Call it from the polling
// goroutine (for example inside OnPoll).
func (p *Poller) Stats() Stats {
	return Stats{
		Exchanges:   p.exchanges,
		ParseErrors: p.parseErrors,
		BytesSent:   p.bytesSent,
		Decoder:     p.dec.Stats(),
	}
}

// Decoder returns the decoder being fed.
func (p *Poller) Decoder() *protocol.Decoder {
	return p.dec
}
