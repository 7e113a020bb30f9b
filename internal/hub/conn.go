package hub

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"go.klb.dev/clipcast/internal/protocol"
)

// Connection lifecycle: Connecting, Active, Closing, Closed; abrupt failure
// jumps from Active straight to Closed. Sends are only accepted while
// Active.
type connState int32

const (
	stateConnecting connState = iota
	stateActive
	stateClosing
	stateClosed
)

// conn is one live client connection, owned exclusively by the hub.
type conn struct {
	id          string
	label       string
	ws          *websocket.Conn
	connectedAt time.Time

	send      chan *protocol.Message
	done      chan struct{}
	closeOnce sync.Once
	state     atomic.Int32
}

func (c *conn) getState() connState { return connState(c.state.Load()) }

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		id:          uuid.NewString(),
		label:       ws.RemoteAddr().String(),
		ws:          ws,
		connectedAt: time.Now(),
		send:        make(chan *protocol.Message, 64),
		done:        make(chan struct{}),
	}
}

// serveConn authenticates, registers, and runs the read/write/heartbeat
// loops for one connection. Runs on the HTTP handler goroutine.
func (h *Hub) serveConn(ws *websocket.Conn) {
	c := newConn(ws)
	c.state.Store(int32(stateConnecting))
	log := slog.With("conn", c.id, "remote", c.label)

	ws.SetReadLimit(MaxMessageSize)

	if h.cfg.Password != "" {
		if !h.authenticate(c, log) {
			c.close()
			return
		}
	}

	// Active before register: registration broadcasts the new client count
	// to every connection, this one included.
	c.state.Store(int32(stateActive))
	if !h.register(c) {
		c.close()
		return
	}
	defer func() {
		h.unregister(c)
		c.close()
	}()

	go c.writePump()
	go h.heartbeatLoop(c)

	// Read loop. A connection that stays silent for 3×T — no update,
	// heartbeat, or ack — times out here and is removed.
	liveness := 3 * h.interval
	_ = ws.SetReadDeadline(time.Now().Add(liveness))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if c.getState() == stateActive {
				log.Info("connection lost", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(liveness))

		msg, err := protocol.Decode(data)
		if err != nil {
			log.Warn("malformed message", "err", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeClipboard:
			if msg.Content == "" {
				continue
			}
			e := msg.Entry()
			log.Debug("clipboard update", "source", e.SourceID, "id", e.ID)
			h.deliver(e)
			h.Broadcast(e, c.id)

		case protocol.TypeHeartbeat:
			c.trySend(&protocol.Message{Type: protocol.TypeAck})

		case protocol.TypeAck:
			// liveness handled by the read deadline reset above

		case protocol.TypeAuth:
			// no password required; accept redundant auth attempts
			c.trySend(&protocol.Message{Type: protocol.TypeAuthResult, Success: true})

		default:
			log.Warn("unexpected message type", "type", msg.Type)
		}
	}
}

// authenticate runs the password exchange. The client must present the
// correct password within authTimeout or the connection is rejected.
func (h *Hub) authenticate(c *conn, log *slog.Logger) bool {
	_ = c.ws.SetReadDeadline(time.Now().Add(authTimeout))
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		log.Warn("auth read failed", "err", err)
		return false
	}
	msg, err := protocol.Decode(data)
	if err != nil || msg.Type != protocol.TypeAuth || msg.Password != h.cfg.Password {
		log.Warn("auth failed")
		c.writeNow(&protocol.Message{Type: protocol.TypeAuthResult, Success: false})
		return false
	}
	return c.writeNow(&protocol.Message{Type: protocol.TypeAuthResult, Success: true})
}

// heartbeatLoop sends a heartbeat every T until the connection closes.
func (h *Hub) heartbeatLoop(c *conn) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.trySend(&protocol.Message{Type: protocol.TypeHeartbeat})
		}
	}
}

// writePump drains the send channel onto the socket.
func (c *conn) writePump() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if !c.writeNow(msg) {
				c.close()
				return
			}
		}
	}
}

// trySend queues msg without blocking; a slow consumer loses messages
// rather than stalling the hub. Only active connections accept sends:
// a connection that is still authenticating or already closing is skipped.
func (c *conn) trySend(msg *protocol.Message) {
	if c.getState() != stateActive {
		return
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		slog.Warn("send queue full, dropping", "conn", c.id, "type", msg.Type)
	}
}

// writeNow writes msg directly with a deadline. Only called from the write
// pump and the pre-registration auth path, never concurrently.
func (c *conn) writeNow(msg *protocol.Message) bool {
	data, err := msg.Encode()
	if err != nil {
		return true // encoding bugs shouldn't kill the connection
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data) == nil
}

// closeGraceful announces the close to the peer before tearing down.
func (c *conn) closeGraceful() {
	c.state.Store(int32(stateClosing))
	deadline := time.Now().Add(writeWait)
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"), deadline)
	c.close()
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(stateClosed))
		close(c.done)
		_ = c.ws.Close()
	})
}
