// Package hub implements the server role of the clipboard sync: it accepts
// websocket connections, relays clipboard updates between them, and tracks
// liveness via an application-level heartbeat/ack cycle.
//
// The hub never echoes an update back to the connection it arrived on.
// Updates are relayed in the order the hub receives them; no total order
// across connections is attempted.
package hub

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"go.klb.dev/clipcast/internal/protocol"
)

const (
	// DefaultPort is the hub listen port.
	DefaultPort = 2580

	// DefaultHeartbeatInterval is T: the hub sends a heartbeat every T and
	// drops a connection that stays silent for 3×T.
	DefaultHeartbeatInterval = 15 * time.Second

	// MaxMessageSize caps a single clipboard update. Oversized updates
	// drop the offending connection.
	MaxMessageSize = 10 << 20 // 10 MiB

	writeWait   = 10 * time.Second
	authTimeout = 10 * time.Second
)

// BindError reports that the listen port was unavailable. Fatal to hub
// start; surfaced upward, never retried internally.
type BindError struct {
	Port int
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind port %d: %v", e.Port, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// Config holds hub settings.
type Config struct {
	// Password, when non-empty, requires each client to complete an auth
	// exchange before it becomes active.
	Password string

	// HeartbeatInterval overrides DefaultHeartbeatInterval (tests).
	HeartbeatInterval time.Duration
}

// Hub accepts client connections and fans clipboard updates out between
// them. The connection set is guarded by a mutex: only the accept and
// disconnect paths mutate it, the broadcast path snapshots it.
type Hub struct {
	cfg      Config
	interval time.Duration

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[string]*conn
	ln     net.Listener
	srv    *http.Server
	closed bool

	updates chan protocol.Entry
	counts  chan int
	done    chan struct{}
}

// New returns a hub that is not yet listening.
func New(cfg Config) *Hub {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Hub{
		cfg:      cfg,
		interval: interval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are CLI daemons, not browsers; no origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:   make(map[string]*conn),
		updates: make(chan protocol.Entry, 64),
		counts:  make(chan int, 8),
		done:    make(chan struct{}),
	}
}

// Start binds the port and begins accepting connections in the background.
// Returns a *BindError when the port is unavailable.
func (h *Hub) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return &BindError{Port: port, Err: err}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", h.handleUpgrade)
	srv := &http.Server{Handler: mux}

	h.mu.Lock()
	h.ln = ln
	h.srv = srv
	h.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Debug("hub listener closed", "err", err)
		}
	}()

	slog.Info("hub listening", "addr", ln.Addr())
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (h *Hub) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln == nil {
		return nil
	}
	return h.ln.Addr()
}

// Updates delivers clipboard updates received from clients. The channel is
// never closed; callers stop reading when they stop the hub.
func (h *Hub) Updates() <-chan protocol.Entry { return h.updates }

// CountChanges notifies about connected-client count changes. Display only.
func (h *Hub) CountChanges() <-chan int { return h.counts }

// ClientCount returns the number of live connections.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Broadcast relays an update to every live connection except the one named
// by originID ("" for locally observed entries, which go to everyone).
func (h *Hub) Broadcast(e protocol.Entry, originID string) {
	msg := protocol.NewClipboard(e)

	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for id, c := range h.conns {
		if id == originID {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		c.trySend(msg)
	}
}

// Stop closes the listener and all connections gracefully. In-flight sends
// fail silently rather than block shutdown. A stopped hub cannot be
// restarted.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.done)
	srv := h.srv
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.closeGraceful()
	}
	if srv != nil {
		_ = srv.Close()
	}
	slog.Info("hub stopped")
}

func (h *Hub) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	h.serveConn(ws)
}

// register adds c to the connection set and broadcasts the new count.
func (h *Hub) register(c *conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.conns[c.id] = c
	total := len(h.conns)
	h.mu.Unlock()

	slog.Info("client connected", "conn", c.id, "remote", c.label, "total", total)
	h.broadcastCount(total)
	return true
}

// unregister removes c and broadcasts the new count. Safe to call twice.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if _, ok := h.conns[c.id]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, c.id)
	total := len(h.conns)
	closed := h.closed
	h.mu.Unlock()

	slog.Info("client disconnected", "conn", c.id, "remote", c.label, "total", total)
	if !closed {
		h.broadcastCount(total)
	}
}

// broadcastCount sends client_count to every connection and notifies the
// engine. Display only — nothing in the protocol depends on it.
func (h *Hub) broadcastCount(n int) {
	select {
	case h.counts <- n:
	default:
	}

	msg := &protocol.Message{Type: protocol.TypeClientCount, Count: n}
	h.mu.Lock()
	targets := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		c.trySend(msg)
	}
}

// deliver hands a remote update to the engine. Delivery is lossless: an
// update that is relayed to peers must also reach the history store, so a
// full feed blocks the connection's read loop instead of dropping.
func (h *Hub) deliver(e protocol.Entry) {
	select {
	case h.updates <- e:
	case <-h.done:
	}
}
