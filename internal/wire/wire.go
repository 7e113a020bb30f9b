// Package wire handles reading and writing newline-delimited JSON messages
// over a net.Conn. It is used on the local IPC socket between the CLI tools
// and a running daemon; the websocket transport has its own framing.
package wire

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"go.klb.dev/clipcast/internal/protocol"
)

const (
	// MaxMessageSize is the largest message we will read (16 MiB), leaving
	// headroom over the clipboard payload cap for the JSON envelope.
	MaxMessageSize = 16 * 1024 * 1024

	writeDeadline = 5 * time.Second
)

// Conn wraps a net.Conn with buffered newline-delimited JSON framing.
type Conn struct {
	conn net.Conn
	br   *bufio.Reader
}

// New wraps conn.
func New(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		br:   bufio.NewReaderSize(conn, 64*1024),
	}
}

// SetReadDeadline sets or clears the read deadline.
func (c *Conn) SetReadDeadline(d time.Duration) {
	if d == 0 {
		_ = c.conn.SetReadDeadline(time.Time{})
	} else {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	}
}

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.conn.Close() }

// WriteMsg serialises msg to JSON and writes it followed by a newline.
func (c *Conn) WriteMsg(msg *protocol.Message) error {
	raw, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	line := append(raw, '\n')

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_, err = c.conn.Write(line)
	_ = c.conn.SetWriteDeadline(time.Time{})
	return err
}

// ReadMsg reads one newline-terminated line and deserialises it into a
// Message. The size cap is enforced while reading, so an oversized or
// unterminated line cannot grow the buffer without bound.
func (c *Conn) ReadMsg() (*protocol.Message, error) {
	var line []byte
	for {
		chunk, err := c.br.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxMessageSize {
			return nil, fmt.Errorf("message too large (%d bytes)", len(line))
		}
		if err == nil {
			break
		}
		if err != bufio.ErrBufferFull {
			return nil, err
		}
	}
	return protocol.Decode(line[:len(line)-1])
}
