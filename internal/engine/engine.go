// Package engine ties the clipboard monitor, the history store, and one of
// the network roles (hub or client) together, and owns the loop-prevention
// and role lifecycle rules.
package engine

import (
	"errors"
	"log/slog"
	"sync"

	"go.klb.dev/clipcast/internal/client"
	"go.klb.dev/clipcast/internal/protocol"
	"go.klb.dev/clipcast/internal/tunnel"
)

// DefaultMaxContent caps a single clipboard payload at 10 MiB. Larger
// contents are skipped locally and rejected by the hub's read limit.
const DefaultMaxContent = 10 << 20

// ErrRoleActive is returned when a role is started while another is
// already running. Stop the current role first.
var ErrRoleActive = errors.New("another role is already active")

// Clipboard is the slice of clip.Monitor the engine depends on.
type Clipboard interface {
	Changes() <-chan protocol.Entry
	WriteSuppressed(content string) error
	Stop()
}

// History is the slice of history.Store the engine depends on.
type History interface {
	Append(e protocol.Entry) error
	Len() (int, error)
}

// Broadcaster is the slice of hub.Hub the server role depends on.
type Broadcaster interface {
	Start(port int) error
	Updates() <-chan protocol.Entry
	CountChanges() <-chan int
	ClientCount() int
	Broadcast(e protocol.Entry, originID string)
	Stop()
}

// Remote is the slice of client.Client the client role depends on.
type Remote interface {
	Connect() error
	Updates() <-chan protocol.Entry
	Events() <-chan client.Event
	Send(e protocol.Entry)
	Disconnect()
}

// Tunnel is the slice of tunnel.Supervisor the server role may use.
type Tunnel interface {
	Start(localPort int) error
	Status() tunnel.Status
	URL() string
	Events() <-chan tunnel.Event
	Stop()
}

// StatusKind tags engine status events.
type StatusKind int

const (
	StatusConnected StatusKind = iota
	StatusDisconnected
	StatusClientCount
	StatusTunnel
)

// Status is a display-oriented event; sync behavior never depends on a
// consumer draining these.
type Status struct {
	Kind   StatusKind
	Count  int           // StatusClientCount
	Tunnel tunnel.Status // StatusTunnel
	URL    string        // StatusTunnel, when running
	Err    error         // StatusTunnel, when failed
}

// Config holds engine settings.
type Config struct {
	SourceID    string
	Port        int  // hub listen port for the server role
	ReceiveOnly bool // record local changes but never propagate them
	MaxContent  int  // payload cap in bytes, defaults to DefaultMaxContent
}

// Engine runs at most one role at a time.
type Engine struct {
	cfg       Config
	clipboard Clipboard
	history   History

	mu         sync.Mutex
	role       protocol.Role
	starting   bool
	hub        Broadcaster
	remote     Remote
	tun        Tunnel
	connected  bool
	peerCount  int
	roleChange chan struct{}

	status   chan Status
	done     chan struct{}
	stopOnce sync.Once
}

// New wires an engine in the idle role. The clipboard monitor must already
// be started by the caller.
func New(clipboard Clipboard, hist History, cfg Config) *Engine {
	if cfg.MaxContent <= 0 {
		cfg.MaxContent = DefaultMaxContent
	}
	e := &Engine{
		cfg:        cfg,
		clipboard:  clipboard,
		history:    hist,
		role:       protocol.RoleIdle,
		roleChange: make(chan struct{}),
		status:     make(chan Status, 16),
		done:       make(chan struct{}),
	}
	go e.loop()
	return e
}

// Status delivers connection and tunnel state changes for display.
func (e *Engine) Status() <-chan Status { return e.status }

// Role returns the active role.
func (e *Engine) Role() protocol.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// StartServer binds the hub and optionally launches the tunnel. Fails with
// ErrRoleActive if a role is already running and with the hub's bind error
// if the port is taken.
func (e *Engine) StartServer(h Broadcaster, tun Tunnel) error {
	if err := e.reserveRole(); err != nil {
		return err
	}

	if err := h.Start(e.cfg.Port); err != nil {
		e.releaseRole()
		return err
	}
	if tun != nil {
		if err := tun.Start(e.cfg.Port); err != nil {
			// The hub still works on the LAN; keep the failed supervisor
			// assigned so its terminal state stays visible in Snapshot.
			slog.Warn("tunnel unavailable", "err", err)
			e.emit(Status{Kind: StatusTunnel, Tunnel: tunnel.StatusFailed, Err: err})
		}
	}

	e.mu.Lock()
	e.role = protocol.RoleServer
	e.starting = false
	e.hub = h
	e.tun = tun
	e.signalRoleChange()
	e.mu.Unlock()

	slog.Info("server role started", "port", e.cfg.Port, "source", e.cfg.SourceID)
	return nil
}

// StartClient dials the hub synchronously. Fails with ErrRoleActive if a
// role is already running and with the client's connect error if the hub
// is unreachable.
func (e *Engine) StartClient(r Remote) error {
	if err := e.reserveRole(); err != nil {
		return err
	}

	if err := r.Connect(); err != nil {
		e.releaseRole()
		return err
	}

	e.mu.Lock()
	e.role = protocol.RoleClient
	e.starting = false
	e.remote = r
	e.connected = true
	e.signalRoleChange()
	e.mu.Unlock()

	slog.Info("client role started", "source", e.cfg.SourceID)
	return nil
}

// reserveRole claims the role slot for a starter. The claim is held across
// the blocking start calls (bind, dial) so a concurrent starter sees
// ErrRoleActive instead of racing past the idle check.
func (e *Engine) reserveRole() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role != protocol.RoleIdle || e.starting {
		return ErrRoleActive
	}
	e.starting = true
	return nil
}

// releaseRole returns the engine to idle after a failed start.
func (e *Engine) releaseRole() {
	e.mu.Lock()
	e.starting = false
	e.mu.Unlock()
}

// StopRole tears the active role down and returns the engine to idle.
// No-op when already idle.
func (e *Engine) StopRole() {
	e.mu.Lock()
	h, r, tun := e.hub, e.remote, e.tun
	e.role = protocol.RoleIdle
	e.hub = nil
	e.remote = nil
	e.tun = nil
	e.connected = false
	e.peerCount = 0
	e.signalRoleChange()
	e.mu.Unlock()

	if tun != nil {
		tun.Stop()
	}
	if h != nil {
		h.Stop()
	}
	if r != nil {
		r.Disconnect()
	}
}

// Close stops the role, the event loop, and the clipboard monitor.
func (e *Engine) Close() {
	e.StopRole()
	e.stopOnce.Do(func() { close(e.done) })
	e.clipboard.Stop()
}

// Snapshot returns the current state for the status command.
func (e *Engine) Snapshot() protocol.StatusInfo {
	e.mu.Lock()
	info := protocol.StatusInfo{
		Role:     e.role,
		SourceID: e.cfg.SourceID,
	}
	switch e.role {
	case protocol.RoleServer:
		info.Connected = true
		info.ClientCount = e.hub.ClientCount()
		if e.tun != nil {
			info.TunnelStatus = e.tun.Status().String()
			info.PublicURL = e.tun.URL()
		}
	case protocol.RoleClient:
		info.Connected = e.connected
		info.ClientCount = e.peerCount
	}
	e.mu.Unlock()

	if n, err := e.history.Len(); err == nil {
		info.HistorySize = n
	}
	return info
}

// signalRoleChange wakes the loop so it re-snapshots the role channels.
// Callers hold e.mu.
func (e *Engine) signalRoleChange() {
	close(e.roleChange)
	e.roleChange = make(chan struct{})
}

// loop is the single goroutine that owns history writes and clipboard
// application for both directions.
func (e *Engine) loop() {
	for {
		e.mu.Lock()
		change := e.roleChange
		var (
			hubUpdates    <-chan protocol.Entry
			counts        <-chan int
			remoteUpdates <-chan protocol.Entry
			remoteEvents  <-chan client.Event
			tunEvents     <-chan tunnel.Event
		)
		if e.hub != nil {
			hubUpdates = e.hub.Updates()
			counts = e.hub.CountChanges()
		}
		if e.remote != nil {
			remoteUpdates = e.remote.Updates()
			remoteEvents = e.remote.Events()
		}
		if e.tun != nil {
			tunEvents = e.tun.Events()
		}
		e.mu.Unlock()

		select {
		case <-e.done:
			return

		case <-change:
			// role channels changed, re-snapshot

		case entry, ok := <-e.clipboard.Changes():
			if !ok {
				return
			}
			e.handleLocal(entry)

		case entry := <-hubUpdates:
			e.applyRemote(entry)

		case n := <-counts:
			e.mu.Lock()
			e.peerCount = n
			e.mu.Unlock()
			e.emit(Status{Kind: StatusClientCount, Count: n})

		case entry := <-remoteUpdates:
			e.applyRemote(entry)

		case ev := <-remoteEvents:
			e.handleClientEvent(ev)

		case ev := <-tunEvents:
			e.emit(Status{Kind: StatusTunnel, Tunnel: ev.Status, URL: ev.URL, Err: ev.Err})
		}
	}
}

// handleLocal records a local clipboard change and forwards it to the
// active role's transport.
func (e *Engine) handleLocal(entry protocol.Entry) {
	if len(entry.Content) > e.cfg.MaxContent {
		slog.Warn("clipboard content too large, not syncing", "bytes", len(entry.Content))
		return
	}
	if err := e.history.Append(entry); err != nil {
		slog.Error("history append failed", "err", err)
	}
	if e.cfg.ReceiveOnly {
		return
	}

	e.mu.Lock()
	role, h, r := e.role, e.hub, e.remote
	e.mu.Unlock()

	switch role {
	case protocol.RoleServer:
		h.Broadcast(entry, "")
	case protocol.RoleClient:
		r.Send(entry)
	}
	slog.Debug("local clipboard change", "id", entry.ID, "bytes", len(entry.Content))
}

// applyRemote records a peer's update and writes it to the local clipboard
// without re-triggering the monitor. Updates stamped with our own source ID
// are discarded; the hub never echoes to the sender, so seeing one here
// means a relay cycle and applying it would loop forever.
func (e *Engine) applyRemote(entry protocol.Entry) {
	if entry.SourceID == e.cfg.SourceID {
		slog.Debug("discarding own update echoed back", "id", entry.ID)
		return
	}
	if entry.Content == "" {
		return
	}
	if err := e.history.Append(entry); err != nil {
		slog.Error("history append failed", "err", err)
	}
	if err := e.clipboard.WriteSuppressed(entry.Content); err != nil {
		slog.Error("clipboard write failed", "err", err)
		return
	}
	slog.Info("clipboard updated from peer", "source", entry.SourceID, "bytes", len(entry.Content))
}

func (e *Engine) handleClientEvent(ev client.Event) {
	switch ev.Kind {
	case client.EventConnected:
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		e.emit(Status{Kind: StatusConnected})
	case client.EventDisconnected:
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		e.emit(Status{Kind: StatusDisconnected})
	case client.EventClientCount:
		e.mu.Lock()
		e.peerCount = ev.Count
		e.mu.Unlock()
		e.emit(Status{Kind: StatusClientCount, Count: ev.Count})
	}
}

func (e *Engine) emit(st Status) {
	select {
	case e.status <- st:
	default:
	}
}
