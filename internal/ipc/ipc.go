// Package ipc provides the local socket channel used by CLI tools
// (status/history) to talk to a running clipcast daemon instead of joining
// the sync as a peer.
//
// The channel carries the same JSON envelope as the websocket transport,
// framed one message per line. The daemon listens on the socket; CLI
// sub-commands probe for it and report "not running" if it is absent.
package ipc

import (
	"net"
	"os"
)

// SocketPath returns the platform-appropriate path for the IPC socket.
//
//   - Linux:   $XDG_RUNTIME_DIR/clipcast.sock (fallback $TMPDIR)
//   - macOS:   $TMPDIR/clipcast.sock
//   - Windows: \\.\pipe\clipcast
//
// Override with $CLIPCAST_SOCKET.
func SocketPath() string {
	if s := os.Getenv("CLIPCAST_SOCKET"); s != "" {
		return s
	}
	return socketPath()
}

// IsRunning reports whether a clipcast daemon appears to be listening on
// the IPC socket. It does a cheap dial-and-close; no data is exchanged.
func IsRunning() bool {
	c, err := dialIPC(SocketPath())
	if err != nil {
		return false
	}
	_ = c.Close()
	return true
}

// Listen creates a net.Listener on the IPC socket path, removing any stale
// socket file from a previous (crashed) run first.
func Listen() (net.Listener, error) {
	path := SocketPath()
	_ = os.Remove(path)
	return listenIPC(path)
}

// Dial connects to a running daemon's IPC socket.
func Dial() (net.Conn, error) {
	return dialIPC(SocketPath())
}
