//go:build !windows

package tunnel

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeFakeCloudflared drops an executable script standing in for the real
// binary.
func writeFakeCloudflared(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cloudflared")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func waitStatus(t *testing.T, s *Supervisor, want Status) Event {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if ev.Status == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %v (current: %v)", want, s.Status())
		}
	}
}

func TestURLExtraction(t *testing.T) {
	// Mimic cloudflared's startup chatter: noise lines, then the banner
	// with the quick-tunnel URL, then stay alive.
	bin := writeFakeCloudflared(t, `
echo "2026-08-26T00:00:00Z INF Requesting new quick Tunnel on trycloudflare.com..."
echo "2026-08-26T00:00:01Z INF +  https://brave-otter-example.trycloudflare.com  +"
sleep 60
`)

	s := New(Config{Binary: bin})
	if err := s.Start(2580); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ev := waitStatus(t, s, StatusRunning)
	want := "wss://brave-otter-example.trycloudflare.com"
	if ev.URL != want {
		t.Errorf("event URL = %q, want %q (https rewritten to wss)", ev.URL, want)
	}
	if got := s.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
	if got := s.Status(); got != StatusRunning {
		t.Errorf("Status() = %v, want running", got)
	}
}

func TestMissingBinary(t *testing.T) {
	s := New(Config{Binary: filepath.Join(t.TempDir(), "no-such-binary")})
	err := s.Start(2580)
	if err == nil {
		s.Stop()
		t.Fatal("Start with missing binary succeeded")
	}
	var le *LaunchError
	if !errors.As(err, &le) {
		t.Fatalf("error type = %T, want *LaunchError", err)
	}
	if got := s.Status(); got != StatusFailed {
		t.Errorf("Status() = %v, want failed (terminal)", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	// The child dies instantly every time; after the retry budget the
	// supervisor must land in the terminal Failed state.
	bin := writeFakeCloudflared(t, "exit 1\n")

	s := New(Config{Binary: bin, MaxRetries: 2})
	if err := s.Start(2580); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	ev := waitStatus(t, s, StatusFailed)
	var le *LaunchError
	if !errors.As(ev.Err, &le) {
		t.Fatalf("event error type = %T, want *LaunchError", ev.Err)
	}
	if le.Attempts != 2 {
		t.Errorf("LaunchError.Attempts = %d, want 2", le.Attempts)
	}
	if got := s.Status(); got != StatusFailed {
		t.Errorf("Status() = %v, want failed", got)
	}
}

func TestStopTerminatesChild(t *testing.T) {
	bin := writeFakeCloudflared(t, `
echo "https://quiet-fox-example.trycloudflare.com"
sleep 60
`)

	s := New(Config{Binary: bin})
	if err := s.Start(2580); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStatus(t, s, StatusRunning)

	s.Stop()
	s.Stop() // idempotent

	if got := s.Status(); got != StatusStopped {
		t.Errorf("Status() = %v after Stop, want stopped", got)
	}
}

func TestFallbackURL(t *testing.T) {
	got := FallbackURL(2580)
	if len(got) == 0 || got[:5] != "ws://" {
		t.Errorf("FallbackURL = %q, want a ws:// LAN address", got)
	}
}
