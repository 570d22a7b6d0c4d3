package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ocxo/spilink/internal/discovery"
	"github.com/ocxo/spilink/internal/logging"
	"github.com/ocxo/spilink/internal/transport"
)

var osHostname = os.Hostname

// Config holds the bridge configuration
type Config struct {
	Listen    string // host:port, e.g. ":8732"
	Advertise bool   // register an mDNS service
	Instance  string // mDNS instance name; hostname when empty
	Device    string // advertised in TXT records
	Version   string
}

// Server exposes one transport to WebSocket clients. Exchanges from all
// clients are serialized, so the MCU only ever sees one master.
type Server struct {
	config   *Config
	t        transport.Transport
	upgrader websocket.Upgrader

	exMu sync.Mutex // one outstanding exchange

	httpSrv *http.Server
	adv     *discovery.Advertisement

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*websocket.Conn

	exchanges atomic.Uint64
	failures  atomic.Uint64
	lastErr   atomic.Value // string
}

// New creates a bridge serving t.
func New(config *Config, t transport.Transport) *Server {
	return &Server{
		config: config,
		t:      t,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 256,
			// Bridges are reached by IP from other machines; there is no
			// browser origin to check.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		activeConns: make(map[string]*websocket.Conn),
	}
}

// Handler returns the HTTP routes: /exchange and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(discovery.DefaultPath, s.handleExchange)
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe listens on config.Listen and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logging.Info("Starting spilink bridge",
		zap.String("addr", ln.Addr().String()),
		zap.Int("exchange_size", s.t.Size()),
		zap.String("device", s.config.Device),
	)

	if s.config.Advertise {
		port := 0
		if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
			port = tcp.Port
		}
		adv, err := discovery.Advertise(s.instance(), port, s.txtRecords())
		if err != nil {
			// Clients can still connect by URL
			logging.Warn("mDNS advertisement failed", zap.Error(err))
		} else {
			s.adv = adv
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		logging.Info("Shutdown requested, stopping bridge...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.adv.Shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) instance() string {
	if s.config.Instance != "" {
		return s.config.Instance
	}
	host, err := osHostname()
	if err != nil || host == "" {
		return "spilink"
	}
	return host
}

func (s *Server) txtRecords() []string {
	txt := []string{
		"path=" + discovery.DefaultPath,
		"size=" + strconv.Itoa(s.t.Size()),
	}
	if s.config.Device != "" {
		txt = append(txt, "device="+s.config.Device)
	}
	if s.config.Version != "" {
		txt = append(txt, "version="+s.config.Version)
	}
	return txt
}

// handleExchange upgrades to WebSocket and relays one exchange per binary
// message.
func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}
	remoteAddr := r.RemoteAddr

	s.wg.Add(1)
	s.mu.Lock()
	s.activeConns[remoteAddr] = conn
	s.mu.Unlock()

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
		s.wg.Done()
		logging.LogConnection(remoteAddr, "websocket_closed")
	}()

	logging.LogConnection(remoteAddr, "websocket_upgraded")

	size := s.t.Size()
	for {
		msgType, req, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("WebSocket read ended",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}

		if msgType != websocket.BinaryMessage {
			s.closeWith(conn, websocket.CloseUnsupportedData, "exchanges are binary messages")
			return
		}
		if len(req) > size {
			s.closeWith(conn, websocket.CloseMessageTooBig, fmt.Sprintf("request of %d bytes exceeds exchange size %d", len(req), size))
			return
		}

		resp, err := s.exchange(r.Context(), req)
		if err != nil {
			logging.Error("Transport exchange failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			s.closeWith(conn, websocket.CloseInternalServerErr, "transport failure")
			return
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, resp); err != nil {
			logging.Debug("WebSocket write failed",
				zap.String("remote_addr", remoteAddr),
				zap.Error(err),
			)
			return
		}
	}
}

func (s *Server) exchange(ctx context.Context, req []byte) ([]byte, error) {
	s.exMu.Lock()
	defer s.exMu.Unlock()

	resp, err := s.t.Exchange(ctx, req)
	if err != nil {
		s.failures.Add(1)
		s.lastErr.Store(err.Error())
		return nil, err
	}
	n := s.exchanges.Add(1)
	s.lastErr.Store("")
	logging.LogExchange(s.config.Device, n, req, resp)
	return resp, nil
}

func (s *Server) closeWith(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

// Health is the /healthz response body.
type Health struct {
	Status    string `json:"status"`
	Exchanges uint64 `json:"exchanges"`
	Failures  uint64 `json:"failures"`
	Clients   int    `json:"clients"`
	Size      int    `json:"size"`
	LastError string `json:"last_error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := Health{
		Status:    "ok",
		Exchanges: s.exchanges.Load(),
		Failures:  s.failures.Load(),
		Clients:   s.GetActiveConnections(),
		Size:      s.t.Size(),
	}
	if last, _ := s.lastErr.Load().(string); last != "" {
		h.Status = "degraded"
		h.LastError = last
	}

	w.Header().Set("Content-Type", "application/json")
	if h.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down bridge...")

	s.adv.Shutdown()

	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	// Hijacked WebSocket connections are not closed by http.Server
	s.mu.Lock()
	for addr, conn := range s.activeConns {
		logging.Info("Closing active connection", zap.String("remote_addr", addr))
		s.closeWith(conn, websocket.CloseGoingAway, "bridge shutting down")
		_ = conn.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()

	if errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// GetActiveConnections returns the number of connected clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
