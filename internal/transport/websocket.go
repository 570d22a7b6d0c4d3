package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ocxo/spilink/internal/logging"
)

// WebSocket exchanges through a remote bridge. Each exchange is one binary
// message out and one binary message back.
type WebSocket struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	size   int
	idle   byte
	closed bool
}

// DialWebSocket connects to a bridge at cfg.URL (ws://host:port/exchange).
func DialWebSocket(ctx context.Context, cfg Config) (*WebSocket, error) {
	cfg = cfg.WithDefaults()
	if cfg.URL == "" {
		return nil, &Error{Op: "open", Err: fmt.Errorf("bridge URL is required")}
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (HTTP %d)", err, resp.StatusCode)
		}
		return nil, &Error{Op: "open", Source: cfg.URL, Err: err}
	}

	logging.Info("Connected to bridge",
		zap.String("url", cfg.URL),
		zap.Int("exchange_size", cfg.Size),
	)

	return &WebSocket{
		conn: conn,
		url:  cfg.URL,
		size: cfg.Size,
		idle: cfg.Idle,
	}, nil
}

// Exchange sends one padded request and waits for the bridge's response.
// The context deadline, if any, bounds both directions.
func (w *WebSocket) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	tx, err := PadRequest(req, w.size, w.idle)
	if err != nil {
		return nil, &Error{Op: "exchange", Source: w.url, Err: err}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, &Error{Op: "exchange", Source: w.url, Err: ErrClosed}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	_ = w.conn.SetWriteDeadline(deadline)
	_ = w.conn.SetReadDeadline(deadline)

	// Unblock a pending read when ctx is cancelled.
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, tx); err != nil {
		return nil, &Error{Op: "exchange", Source: w.url, Err: err}
	}

	msgType, rx, err := w.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &Error{Op: "exchange", Source: w.url, Err: err}
	}
	if msgType != websocket.BinaryMessage {
		return nil, &Error{Op: "exchange", Source: w.url, Err: fmt.Errorf("unexpected message type %d", msgType)}
	}
	if len(rx) != w.size {
		return nil, &Error{Op: "exchange", Source: w.url, Err: fmt.Errorf("%w: got %d bytes, want %d", ErrShortResponse, len(rx), w.size)}
	}
	return rx, nil
}

// Size returns the exchange length.
func (w *WebSocket) Size() int {
	return w.size
}

// Close sends a normal close frame and closes the connection.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	if err := w.conn.Close(); err != nil {
		return &Error{Op: "close", Source: w.url, Err: err}
	}
	return nil
}
