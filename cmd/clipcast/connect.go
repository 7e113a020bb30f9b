package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcast/internal/client"
	"go.klb.dev/clipcast/internal/engine"
	"go.klb.dev/clipcast/internal/history"
)

func newConnectCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a clipcast hub and sync the local clipboard",
		Long: `Connects to a clipcast hub and keeps the local system clipboard in
sync with all other connected peers. Reconnects automatically with
exponential backoff if the connection drops.

The URL is either the wss:// quick-tunnel address the hub printed or a
ws://host:port LAN address.

Config file search order:
  /etc/clipcast/clipcast.toml
  $HOME/.config/clipcast/clipcast.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → CLIPCAST_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runConnect(v) },
	}

	f := cmd.Flags()
	f.String("url", "", "hub websocket URL (ws:// or wss://), required")
	f.String("password", "", "connection password (must match the hub)")
	f.String("source", defaultSource(), "identifier stamped on this host's updates")
	f.String("history", "", "history database path (default: XDG data dir)")
	f.Int("max-history", history.DefaultMaxItems, "history entries to retain")
	f.Int("poll-interval-ms", 500, "clipboard poll interval in milliseconds")
	f.Bool("auto-sync", true, "propagate local clipboard changes (false = record and receive only)")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runConnect(v *viper.Viper) error {
	setupLogging(v)

	url := v.GetString("url")
	if url == "" {
		return fmt.Errorf("--url is required")
	}
	source := v.GetString("source")

	slog.Info("clipcast client starting",
		"version", Version,
		"url", url,
		"source", source,
	)

	store, err := openHistory(v)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	mon := startMonitor(v, source)

	eng := engine.New(mon, store, engine.Config{
		SourceID:    source,
		ReceiveOnly: !v.GetBool("auto-sync"),
	})

	c := client.New(client.Config{
		URL:      url,
		SourceID: source,
		Password: v.GetString("password"),
	})
	if err := eng.StartClient(c); err != nil {
		eng.Close()
		return err
	}
	defer eng.Close()

	startIPC(eng)
	go logStatus(eng)

	waitForSignal()
	time.Sleep(100 * time.Millisecond)
	return nil
}
