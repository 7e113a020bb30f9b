package wire

import (
	"bytes"
	"net"
	"strings"
	"testing"

	"go.klb.dev/clipcast/internal/protocol"
)

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca, cb := New(a), New(b)

	go func() {
		_ = ca.WriteMsg(&protocol.Message{Type: protocol.TypeStatus})
	}()

	msg, err := cb.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if msg.Type != protocol.TypeStatus {
		t.Errorf("type = %q, want status", msg.Type)
	}
}

func TestStatusResponsePayload(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	ca, cb := New(a), New(b)

	info := &protocol.StatusInfo{
		Role:        protocol.RoleServer,
		SourceID:    "host-a",
		Connected:   true,
		ClientCount: 2,
		HistorySize: 40,
	}
	go func() {
		_ = ca.WriteMsg(&protocol.Message{Type: protocol.TypeStatusResponse, Status: info})
	}()

	msg, err := cb.ReadMsg()
	if err != nil {
		t.Fatalf("ReadMsg: %v", err)
	}
	if msg.Status == nil {
		t.Fatal("status payload missing")
	}
	if msg.Status.Role != protocol.RoleServer || msg.Status.ClientCount != 2 {
		t.Errorf("status = %+v, want the sent snapshot", msg.Status)
	}
}

func TestOversizedLineRejected(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	cb := New(b)

	// A newline-free stream past the cap: the reader must fail while
	// reading, not buffer the whole line first.
	go func() {
		chunk := bytes.Repeat([]byte("a"), 1<<20)
		for {
			if _, err := a.Write(chunk); err != nil {
				return
			}
		}
	}()

	_, err := cb.ReadMsg()
	if err == nil {
		t.Fatal("ReadMsg accepted an oversized line")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("err = %v, want a size limit error", err)
	}
}

func TestMalformedLine(t *testing.T) {
	t.Parallel()

	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	cb := New(b)
	go func() {
		_, _ = a.Write([]byte("not json\n"))
	}()

	if _, err := cb.ReadMsg(); err == nil {
		t.Error("ReadMsg accepted malformed input")
	}
}
