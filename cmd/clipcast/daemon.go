package main

import (
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"go.klb.dev/clipcast/internal/clip"
	"go.klb.dev/clipcast/internal/engine"
	"go.klb.dev/clipcast/internal/history"
	"go.klb.dev/clipcast/internal/ipc"
	"go.klb.dev/clipcast/internal/protocol"
	"go.klb.dev/clipcast/internal/wire"
)

// openHistory opens (creating if needed) the history store configured in v.
func openHistory(v *viper.Viper) (*history.Store, error) {
	path := v.GetString("history")
	if path == "" {
		path = defaultHistoryPath()
	}
	if err := ensureParentDir(path); err != nil {
		return nil, err
	}
	max := v.GetInt("max-history")
	store, err := history.Open(path, max)
	if err != nil {
		return nil, err
	}
	slog.Info("history store open", "path", path, "max_items", max)
	return store, nil
}

// startMonitor wires the clipboard backend and starts polling.
func startMonitor(v *viper.Viper, sourceID string) *clip.Monitor {
	backend := clip.New()
	slog.Info("clipboard backend", "name", backend.Name())

	interval := time.Duration(v.GetInt("poll-interval-ms")) * time.Millisecond
	if interval <= 0 {
		interval = clip.DefaultPollInterval
	}
	mon := clip.NewMonitor(backend, sourceID)
	mon.Start(interval)
	return mon
}

// startIPC exposes the daemon's status over the local socket so the
// status/history CLI tools can reach it.
func startIPC(eng *engine.Engine) {
	ln, err := ipc.Listen()
	if err != nil {
		slog.Warn("IPC socket unavailable", "err", err)
		return
	}
	slog.Info("IPC socket listening", "path", ipc.SocketPath())
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go handleIPCConn(conn, eng)
		}
	}()
}

func handleIPCConn(conn net.Conn, eng *engine.Engine) {
	defer conn.Close()
	wc := wire.New(conn)
	wc.SetReadDeadline(5 * time.Second)

	msg, err := wc.ReadMsg()
	if err != nil {
		return
	}
	if msg.Type != protocol.TypeStatus {
		return
	}
	info := eng.Snapshot()
	_ = wc.WriteMsg(&protocol.Message{
		Type:   protocol.TypeStatusResponse,
		Status: &info,
	})
}

// logStatus narrates engine status events until the channel goes quiet at
// shutdown.
func logStatus(eng *engine.Engine) {
	for st := range eng.Status() {
		switch st.Kind {
		case engine.StatusConnected:
			slog.Info("connected to hub")
		case engine.StatusDisconnected:
			slog.Warn("disconnected from hub")
		case engine.StatusClientCount:
			slog.Info("connected clients", "count", st.Count)
		case engine.StatusTunnel:
			if st.Err != nil {
				slog.Error("tunnel failed", "err", st.Err)
			} else if st.URL != "" {
				slog.Info("tunnel status", "status", st.Tunnel, "url", st.URL)
			} else {
				slog.Info("tunnel status", "status", st.Tunnel)
			}
		}
	}
}

// waitForSignal blocks until SIGINT or SIGTERM.
func waitForSignal() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	slog.Info("shutting down", "signal", sig.String())
}
