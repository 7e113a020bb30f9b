// Package protocol defines the clipcast wire protocol.
//
// Hub and clients exchange JSON messages over a persistent websocket
// connection, one message per frame. There is no version field — both sides
// speak the single implicit schema below:
//
//	{"type": "clipboard"|"heartbeat"|"ack"|"client_count"|"auth"|"auth_result",
//	 "content"?: string, "source_id"?: string, "timestamp"?: number(unix ms),
//	 "count"?: number, "password"?: string, "success"?: bool}
//
// The same envelope, extended with the status fields, is reused on the local
// IPC socket between the CLI tools and a running daemon.
package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies the kind of message.
type Type string

const (
	TypeClipboard      Type = "clipboard"
	TypeHeartbeat      Type = "heartbeat"
	TypeAck            Type = "ack"
	TypeClientCount    Type = "client_count"
	TypeAuth           Type = "auth"
	TypeAuthResult     Type = "auth_result"
	TypeStatus         Type = "status"
	TypeStatusResponse Type = "status_response"
)

// Role identifies which side of the sync a daemon is running as.
type Role string

const (
	RoleIdle   Role = "idle"
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Entry is a single observed clipboard value. Entries are immutable values:
// created on detection or receipt, never mutated.
type Entry struct {
	Content   string
	SourceID  string
	Timestamp time.Time
	ID        string // content fingerprint, stable for identical content
}

// NewEntry creates an Entry for content observed now from source.
func NewEntry(content, sourceID string) Entry {
	return Entry{
		Content:   content,
		SourceID:  sourceID,
		Timestamp: time.Now(),
		ID:        Fingerprint(content),
	}
}

// Fingerprint returns a short stable hex digest of content, used as the
// entry ID and for history dedup.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:16])
}

// StatusInfo is the status_response payload on the IPC socket.
type StatusInfo struct {
	Role         Role   `json:"role"`
	SourceID     string `json:"source_id"`
	Connected    bool   `json:"connected"`
	ClientCount  int    `json:"client_count"`
	TunnelStatus string `json:"tunnel_status,omitempty"`
	PublicURL    string `json:"public_url,omitempty"`
	HistorySize  int    `json:"history_size"`
}

// Message is the top-level wire envelope.
type Message struct {
	Type Type `json:"type"`

	// clipboard
	Content   string `json:"content,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds

	// client_count
	Count int `json:"count,omitempty"`

	// auth / auth_result
	Password string `json:"password,omitempty"`
	Success  bool   `json:"success,omitempty"`

	// status_response (IPC only)
	Status *StatusInfo `json:"status,omitempty"`
}

// NewClipboard builds a clipboard message from an entry.
func NewClipboard(e Entry) *Message {
	return &Message{
		Type:      TypeClipboard,
		Content:   e.Content,
		SourceID:  e.SourceID,
		Timestamp: e.Timestamp.UnixMilli(),
	}
}

// Entry converts a clipboard message back into an Entry. The fingerprint is
// recomputed locally so the ID never depends on the remote side.
func (m *Message) Entry() Entry {
	return Entry{
		Content:   m.Content,
		SourceID:  m.SourceID,
		Timestamp: time.UnixMilli(m.Timestamp),
		ID:        Fingerprint(m.Content),
	}
}

// Encode serialises the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode deserialises a message from raw JSON bytes. Unknown fields are
// ignored so the schema can grow without breaking older peers.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("message decode: %w", err)
	}
	return &m, nil
}
