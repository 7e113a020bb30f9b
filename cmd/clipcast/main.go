// clipcast: clipboard sync over websockets.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"go.klb.dev/clipcast/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipcast",
		Short: "Clipboard sync over websockets",
		Long: `clipcast synchronises the system clipboard across machines over a
websocket connection, optionally exposed to the internet through a
cloudflared quick tunnel.

Run "clipcast serve" on one machine and "clipcast connect --url <ws-url>" on
the others. Use "clipcast status" and "clipcast history" as CLI tools on any
host running a daemon.

Config file search order (first found wins):
  /etc/clipcast/clipcast.toml
  $HOME/.config/clipcast/clipcast.toml
  path supplied via --config

All flags can be set via CLIPCAST_<FLAG> env vars or config-file keys.
See "clipcast serve --help" for the full flag reference.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newConnectCmd(),
		newStatusCmd(),
		newHistoryCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipcast %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
