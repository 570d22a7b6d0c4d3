package transport

import (
	"context"
	"sync"

	"github.com/ocxo/spilink/internal/protocol"
)

// Memory emulates the MCU end of the link in memory. Queued frames are
// clocked out the way the firmware's transmit interrupt sends them: stuffed,
// terminated, and followed by idle bytes once the queue is empty. Requests
// are recorded and run through the firmware's receive rules so tests can see
// what the MCU would have accepted.
type Memory struct {
	mu       sync.Mutex
	size     int
	controls protocol.Controls

	queue    []byte
	requests [][]byte
	received [][]byte

	// receive state
	rx       []byte
	rxActive bool
	rxShift  bool

	exchanges int
	failAt    int
	failErr   error
	closed    bool
}

// NewMemory returns an emulator with default control bytes and the given
// idle byte.
func NewMemory(size int, idle byte) *Memory {
	c := protocol.DefaultControls()
	c.Idle = idle
	return NewEmulator(size, c)
}

// NewEmulator returns an emulator using explicit control bytes.
func NewEmulator(size int, c protocol.Controls) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	return &Memory{size: size, controls: c}
}

// Enqueue frames and queues one message body (type byte plus fields,
// without the terminator).
func (m *Memory) Enqueue(body []byte) {
	m.EnqueueRaw(protocol.EncodeFrame(body, m.controls))
}

// EnqueueMessage packs values for mt and queues the frame.
func (m *Memory) EnqueueMessage(mt *protocol.MessageType, values ...int64) error {
	frame, err := protocol.Build(mt, m.controls, values...)
	if err != nil {
		return err
	}
	m.EnqueueRaw(frame)
	return nil
}

// EnqueueRaw queues bytes exactly as they should appear on the wire.
func (m *Memory) EnqueueRaw(wire []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, wire...)
}

// FailAt makes exchange number n (1-based) fail with err.
func (m *Memory) FailAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = n
	m.failErr = err
}

// Exchange records req and clocks out up to Size queued bytes.
func (m *Memory) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, &Error{Op: "exchange", Source: "memory", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, &Error{Op: "exchange", Source: "memory", Err: ErrClosed}
	}
	tx, err := PadRequest(req, m.size, m.controls.Idle)
	if err != nil {
		return nil, &Error{Op: "exchange", Source: "memory", Err: err}
	}

	m.exchanges++
	if m.failAt > 0 && m.exchanges == m.failAt {
		return nil, &Error{Op: "exchange", Source: "memory", Err: m.failErr}
	}

	m.requests = append(m.requests, tx)
	for _, b := range tx {
		m.receive(b)
	}

	resp := IdleRequest(m.size, m.controls.Idle)
	n := copy(resp, m.queue)
	m.queue = m.queue[n:]
	return resp, nil
}

// receive applies the firmware receive rules to one byte from the host.
func (m *Memory) receive(b byte) {
	c := m.controls
	if !m.rxActive {
		if b != c.Idle {
			m.rxActive = true
			m.rx = []byte{b}
		}
		return
	}

	switch {
	case b == c.Delimiter:
		m.received = append(m.received, m.rx)
		m.rx = nil
		m.rxActive = false
	case m.rxShift:
		m.rxShift = false
		switch b {
		case c.EscEsc:
			m.rx = append(m.rx, c.Esc)
		case c.EscEnd:
			m.rx = append(m.rx, c.Delimiter)
		default:
			// invalid pair: the transmission is tossed
			m.rx = nil
			m.rxActive = false
		}
	case b == c.Esc:
		m.rxShift = true
	default:
		m.rx = append(m.rx, b)
	}
}

// Requests returns copies of every request seen, padded to Size.
func (m *Memory) Requests() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.requests))
	for i, r := range m.requests {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Received returns the unstuffed frame bodies the host sent, without
// terminators.
func (m *Memory) Received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.received))
	for i, r := range m.received {
		out[i] = append([]byte(nil), r...)
	}
	return out
}

// Queued returns the number of wire bytes not yet clocked out.
func (m *Memory) Queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Size returns the exchange length.
func (m *Memory) Size() int {
	return m.size
}

// Close stops further exchanges.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
