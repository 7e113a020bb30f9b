package protocol

import (
	"encoding/json"
	"testing"
	"time"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := Fingerprint("hello")
	b := Fingerprint("hello")
	c := Fingerprint("hello ")

	if a != b {
		t.Errorf("identical content produced different fingerprints: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different content produced identical fingerprints")
	}
	if len(a) != 32 {
		t.Errorf("fingerprint length = %d, want 32 hex chars", len(a))
	}
}

func TestClipboardRoundTrip(t *testing.T) {
	t.Parallel()

	e := NewEntry("copy me", "host-a")
	msg := NewClipboard(e)

	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Verify the JSON schema fields peers rely on.
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if fields["type"] != "clipboard" {
		t.Errorf("type = %v, want clipboard", fields["type"])
	}
	if fields["content"] != "copy me" {
		t.Errorf("content = %v, want %q", fields["content"], "copy me")
	}
	if fields["source_id"] != "host-a" {
		t.Errorf("source_id = %v, want host-a", fields["source_id"])
	}
	if _, ok := fields["timestamp"].(float64); !ok {
		t.Errorf("timestamp missing or not numeric: %v", fields["timestamp"])
	}

	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := decoded.Entry()
	if got.Content != e.Content || got.SourceID != e.SourceID {
		t.Errorf("round trip = %+v, want content/source of %+v", got, e)
	}
	if got.ID != e.ID {
		t.Errorf("round-trip ID = %q, want %q (fingerprint is recomputed locally)", got.ID, e.ID)
	}
	if got.Timestamp.UnixMilli() != e.Timestamp.UnixMilli() {
		t.Errorf("round-trip timestamp = %v, want %v", got.Timestamp, e.Timestamp)
	}
}

func TestDecodeToleratesUnknownFields(t *testing.T) {
	t.Parallel()

	raw := []byte(`{"type":"clipboard","content":"x","source_id":"a","timestamp":1700000000000,"future_field":true}`)
	msg, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if msg.Type != TypeClipboard || msg.Content != "x" {
		t.Errorf("decoded = %+v", msg)
	}
	if got := msg.Entry().Timestamp; !got.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("timestamp = %v", got)
	}
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	if _, err := Decode([]byte("not json")); err == nil {
		t.Error("Decode accepted malformed input")
	}
}

func TestClientCountMessage(t *testing.T) {
	t.Parallel()

	msg := &Message{Type: TypeClientCount, Count: 3}
	raw, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Type != TypeClientCount || decoded.Count != 3 {
		t.Errorf("decoded = %+v, want client_count of 3", decoded)
	}
}
