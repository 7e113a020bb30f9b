// Package client implements the client role of the clipboard sync: it
// connects to a hub over websocket, sends local clipboard updates, applies
// received ones, and reconnects with exponential backoff when the
// connection drops.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"go.klb.dev/clipcast/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second

	// livenessTimeout is 3× the hub heartbeat interval: a hub that stays
	// silent this long is treated as gone and the session ends.
	livenessTimeout = 45 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// ConnectError reports that the hub could not be reached: connection
// refused, DNS failure, or a failed websocket/auth handshake.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("connect %s: %v", e.URL, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// ErrAuthRejected is returned (wrapped in ConnectError) when the hub
// refuses the connection password.
var ErrAuthRejected = errors.New("authentication rejected")

// EventKind tags client status events.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventClientCount
)

// Event is a status change surfaced for display; nothing in the sync logic
// depends on it.
type Event struct {
	Kind  EventKind
	Count int // EventClientCount only
}

// Config holds client settings.
type Config struct {
	URL      string // ws:// or wss://
	SourceID string
	Password string

	// Liveness overrides livenessTimeout (tests).
	Liveness time.Duration
}

// Client maintains one session to a hub at a time.
type Client struct {
	cfg      Config
	liveness time.Duration

	mu   sync.Mutex
	sess *session

	updates chan protocol.Entry
	events  chan Event

	done     chan struct{}
	stopOnce sync.Once
}

// session is the state of one established connection.
type session struct {
	ws   *websocket.Conn
	send chan *protocol.Message
	done chan struct{}
	once sync.Once
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.ws.Close()
	})
}

func (s *session) trySend(msg *protocol.Message) {
	select {
	case s.send <- msg:
	case <-s.done:
	default:
		slog.Warn("client send queue full, dropping", "type", msg.Type)
	}
}

// New returns an unconnected client.
func New(cfg Config) *Client {
	liveness := cfg.Liveness
	if liveness <= 0 {
		liveness = livenessTimeout
	}
	return &Client{
		cfg:      cfg,
		liveness: liveness,
		updates:  make(chan protocol.Entry, 64),
		events:   make(chan Event, 16),
		done:     make(chan struct{}),
	}
}

// Connect dials the hub. The initial dial is synchronous: a refused
// connection, DNS failure, or failed handshake returns a *ConnectError and
// leaves the client stopped. After a successful dial the session is
// maintained in the background, reconnecting with exponential backoff
// (1s, 2s, 4s… capped at 30s) until Disconnect is called.
func (c *Client) Connect() error {
	ws, err := c.dial()
	if err != nil {
		return err
	}
	// Install the session before returning so a Send immediately after
	// Connect is never dropped as "disconnected".
	s := c.installSession(ws)
	go c.run(s)
	return nil
}

// Updates delivers clipboard updates received from the hub.
func (c *Client) Updates() <-chan protocol.Entry { return c.updates }

// Events delivers connection status changes for display.
func (c *Client) Events() <-chan Event { return c.events }

// IsConnected reports whether a session is currently established.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess != nil
}

// Send transmits a clipboard update. Non-blocking: the entry is queued if
// the transport is momentarily busy and dropped if the client is
// disconnected — there is no store-and-forward.
func (c *Client) Send(e protocol.Entry) {
	c.mu.Lock()
	s := c.sess
	c.mu.Unlock()
	if s == nil {
		slog.Debug("not connected, dropping update", "id", e.ID)
		return
	}
	s.trySend(protocol.NewClipboard(e))
}

// Disconnect stops the client and disables reconnection. Idempotent.
func (c *Client) Disconnect() {
	c.stopOnce.Do(func() {
		close(c.done)
		c.mu.Lock()
		s := c.sess
		c.mu.Unlock()
		if s != nil {
			s.close()
		}
	})
}

// dial establishes and authenticates one websocket connection.
func (c *Client) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(c.cfg.URL, nil)
	if err != nil {
		return nil, &ConnectError{URL: c.cfg.URL, Err: err}
	}

	if c.cfg.Password != "" {
		if err := c.authenticate(ws); err != nil {
			_ = ws.Close()
			return nil, &ConnectError{URL: c.cfg.URL, Err: err}
		}
	}
	return ws, nil
}

func (c *Client) authenticate(ws *websocket.Conn) error {
	auth := &protocol.Message{
		Type:     protocol.TypeAuth,
		SourceID: c.cfg.SourceID,
		Password: c.cfg.Password,
	}
	data, err := auth.Encode()
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("auth send: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	_, resp, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("auth read: %w", err)
	}
	msg, err := protocol.Decode(resp)
	if err != nil {
		return fmt.Errorf("auth response: %w", err)
	}
	if msg.Type != protocol.TypeAuthResult || !msg.Success {
		return ErrAuthRejected
	}
	return nil
}

// run services sessions until Disconnect, reconnecting between them.
func (c *Client) run(s *session) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0

	for {
		c.runSession(s)

		select {
		case <-c.done:
			return
		default:
		}
		slog.Warn("disconnected from hub")

		ws, err := c.redial(bo)
		if err != nil {
			return // Disconnect called, or auth permanently rejected
		}
		bo.Reset()
		s = c.installSession(ws)
	}
}

// redial retries the dial with exponential backoff until it succeeds or the
// client is stopped. An authentication rejection is permanent: the hub is
// reachable but refuses us, so retrying cannot help.
func (c *Client) redial(bo backoff.BackOff) (*websocket.Conn, error) {
	for {
		wait := bo.NextBackOff()
		slog.Info("reconnecting", "url", c.cfg.URL, "retry_in", wait)
		select {
		case <-c.done:
			return nil, fmt.Errorf("client stopped")
		case <-time.After(wait):
		}

		ws, err := c.dial()
		if err == nil {
			return ws, nil
		}
		if errors.Is(err, ErrAuthRejected) {
			slog.Error("authentication rejected, giving up")
			return nil, err
		}
		slog.Warn("reconnect failed", "err", err)
	}
}

// installSession publishes a fresh session for Send and marks the client
// connected.
func (c *Client) installSession(ws *websocket.Conn) *session {
	s := &session{
		ws:   ws,
		send: make(chan *protocol.Message, 8),
		done: make(chan struct{}),
	}
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	c.emit(Event{Kind: EventConnected})
	slog.Info("connected", "url", c.cfg.URL)
	return s
}

// runSession pumps one established connection until it fails or the client
// is stopped.
func (c *Client) runSession(s *session) {
	ws := s.ws

	defer func() {
		s.close()
		c.mu.Lock()
		c.sess = nil
		c.mu.Unlock()
		c.emit(Event{Kind: EventDisconnected})
	}()

	// Writer
	go func() {
		for {
			select {
			case <-s.done:
				return
			case msg := <-s.send:
				data, err := msg.Encode()
				if err != nil {
					continue
				}
				_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
					s.close()
					return
				}
			}
		}
	}()

	// Reader. The hub heartbeats every T; a read deadline of 3×T means a
	// dead hub is detected without a separate watchdog.
	_ = ws.SetReadDeadline(time.Now().Add(c.liveness))
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.liveness))

		msg, err := protocol.Decode(data)
		if err != nil {
			slog.Warn("malformed message from hub", "err", err)
			continue
		}

		switch msg.Type {
		case protocol.TypeClipboard:
			if msg.Content == "" {
				continue
			}
			e := msg.Entry()
			select {
			case c.updates <- e:
			default:
				slog.Warn("client update feed full, dropping", "source", e.SourceID)
			}

		case protocol.TypeHeartbeat:
			// answer promptly or the hub drops us after 3×T
			s.trySend(&protocol.Message{Type: protocol.TypeAck})

		case protocol.TypeAck:
			// nothing to do; the deadline reset above covers liveness

		case protocol.TypeClientCount:
			c.emit(Event{Kind: EventClientCount, Count: msg.Count})

		default:
			slog.Debug("ignoring message", "type", msg.Type)
		}
	}
}

func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}
