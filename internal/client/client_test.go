package client

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"go.klb.dev/clipcast/internal/hub"
	"go.klb.dev/clipcast/internal/protocol"
)

func startHub(t *testing.T, cfg hub.Config) (*hub.Hub, int) {
	t.Helper()
	h := hub.New(cfg)
	if err := h.Start(0); err != nil {
		t.Fatalf("hub start: %v", err)
	}
	t.Cleanup(h.Stop)
	return h, h.Addr().(*net.TCPAddr).Port
}

func wsURL(port int) string { return fmt.Sprintf("ws://127.0.0.1:%d", port) }

func waitEvent(t *testing.T, c *Client, want EventKind) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %d", want)
		}
	}
}

func TestConnectError(t *testing.T) {
	// Grab a port and close it so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := New(Config{URL: wsURL(port), SourceID: "host-a"})
	err = c.Connect()
	if err == nil {
		c.Disconnect()
		t.Fatal("Connect to dead port succeeded")
	}
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("error type = %T, want *ConnectError", err)
	}
}

func TestSendAndReceive(t *testing.T) {
	_, port := startHub(t, hub.Config{})

	a := New(Config{URL: wsURL(port), SourceID: "host-a"})
	if err := a.Connect(); err != nil {
		t.Fatalf("a connect: %v", err)
	}
	defer a.Disconnect()

	b := New(Config{URL: wsURL(port), SourceID: "host-b"})
	if err := b.Connect(); err != nil {
		t.Fatalf("b connect: %v", err)
	}
	defer b.Disconnect()

	// The hub announces each registration; once b sees a client_count it
	// is fully registered and will receive broadcasts.
	waitEvent(t, b, EventClientCount)

	a.Send(protocol.NewEntry("shared text", "host-a"))

	select {
	case e := <-b.Updates():
		if e.Content != "shared text" || e.SourceID != "host-a" {
			t.Errorf("b received %+v, want shared text from host-a", e)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("b never received the update")
	}

	// The origin must not get its own update back.
	select {
	case e := <-a.Updates():
		t.Fatalf("a received its own update back: %+v", e)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSendWhileDisconnectedDrops(t *testing.T) {
	c := New(Config{URL: "ws://127.0.0.1:1", SourceID: "host-a"})
	// Never connected: Send must be a silent no-op, not a panic or block.
	done := make(chan struct{})
	go func() {
		c.Send(protocol.NewEntry("dropped", "host-a"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send blocked while disconnected")
	}
}

func TestAuth(t *testing.T) {
	_, port := startHub(t, hub.Config{Password: "sekrit"})

	t.Run("wrong password", func(t *testing.T) {
		c := New(Config{URL: wsURL(port), SourceID: "host-a", Password: "nope"})
		err := c.Connect()
		if err == nil {
			c.Disconnect()
			t.Fatal("Connect with wrong password succeeded")
		}
		if !errors.Is(err, ErrAuthRejected) {
			t.Errorf("error = %v, want ErrAuthRejected", err)
		}
	})

	t.Run("correct password", func(t *testing.T) {
		c := New(Config{URL: wsURL(port), SourceID: "host-a", Password: "sekrit"})
		if err := c.Connect(); err != nil {
			t.Fatalf("Connect: %v", err)
		}
		c.Disconnect()
	})
}

func TestHeartbeatAck(t *testing.T) {
	interval := 100 * time.Millisecond
	h, port := startHub(t, hub.Config{HeartbeatInterval: interval})

	c := New(Config{URL: wsURL(port), SourceID: "host-a"})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()

	// Survive well past the hub's 3×T silence cutoff; the client's ack
	// replies are what keep it registered.
	time.Sleep(8 * interval)
	if got := h.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want client kept alive by acks", got)
	}
	if !c.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestReconnect(t *testing.T) {
	h1, port := startHub(t, hub.Config{})

	c := New(Config{URL: wsURL(port), SourceID: "host-a", Liveness: 2 * time.Second})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Disconnect()
	waitEvent(t, c, EventConnected)

	h1.Stop()
	waitEvent(t, c, EventDisconnected)

	// Rebind the same port; the client's backoff loop should find it.
	h2 := hub.New(hub.Config{})
	if err := h2.Start(port); err != nil {
		t.Fatalf("hub restart: %v", err)
	}
	defer h2.Stop()

	waitEvent(t, c, EventConnected)
	if !c.IsConnected() {
		t.Error("IsConnected() = false after reconnect")
	}
}

func TestDisconnectStopsReconnecting(t *testing.T) {
	h, port := startHub(t, hub.Config{})

	c := New(Config{URL: wsURL(port), SourceID: "host-a"})
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitEvent(t, c, EventConnected)

	c.Disconnect()
	c.Disconnect() // idempotent

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.ClientCount() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Errorf("ClientCount() = %d after Disconnect, want 0", h.ClientCount())
}
