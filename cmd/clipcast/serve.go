package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcast/internal/engine"
	"go.klb.dev/clipcast/internal/history"
	"go.klb.dev/clipcast/internal/hub"
	"go.klb.dev/clipcast/internal/tunnel"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard hub (+ local clipboard integration)",
		Long: `Starts the clipcast hub. All connected clients share a clipboard.
The serving host participates with its own clipboard as well.

With --tunnel a cloudflared quick tunnel is launched and the public wss://
URL is printed; without it clients connect over the LAN.

Config file search order:
  /etc/clipcast/clipcast.toml
  $HOME/.config/clipcast/clipcast.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPCAST_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.Int("port", hub.DefaultPort, "websocket listen port")
	f.String("password", "", "connection password (empty = no auth)")
	f.String("source", defaultSource(), "identifier stamped on this host's updates")
	f.Bool("tunnel", false, "expose the hub through a cloudflared quick tunnel")
	f.String("cloudflared", tunnel.DefaultBinary, "cloudflared binary")
	f.Int("tunnel-retries", tunnel.DefaultMaxRetries, "tunnel restart budget before giving up")
	f.String("history", "", "history database path (default: XDG data dir)")
	f.Int("max-history", history.DefaultMaxItems, "history entries to retain")
	f.Int("poll-interval-ms", 500, "clipboard poll interval in milliseconds")
	f.Bool("auto-sync", true, "propagate local clipboard changes (false = record and receive only)")
	f.Duration("heartbeat", hub.DefaultHeartbeatInterval, "heartbeat interval; clients silent for 3x this are dropped")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	port := v.GetInt("port")
	password := v.GetString("password")
	source := v.GetString("source")
	useTunnel := v.GetBool("tunnel")

	slog.Info("clipcast hub starting",
		"version", Version,
		"port", port,
		"source", source,
		"auth", password != "",
		"tunnel", useTunnel,
	)

	store, err := openHistory(v)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	mon := startMonitor(v, source)

	eng := engine.New(mon, store, engine.Config{
		SourceID:    source,
		Port:        port,
		ReceiveOnly: !v.GetBool("auto-sync"),
	})

	h := hub.New(hub.Config{
		Password:          password,
		HeartbeatInterval: v.GetDuration("heartbeat"),
	})

	var tun engine.Tunnel
	if useTunnel {
		tun = tunnel.New(tunnel.Config{
			Binary:     v.GetString("cloudflared"),
			MaxRetries: v.GetInt("tunnel-retries"),
		})
	}

	if err := eng.StartServer(h, tun); err != nil {
		eng.Close()
		return err
	}
	defer eng.Close()

	slog.Info("hub listening", "lan_url", tunnel.FallbackURL(port))

	startIPC(eng)
	go logStatus(eng)

	waitForSignal()
	// give in-flight appends a moment before the store closes
	time.Sleep(100 * time.Millisecond)
	return nil
}
