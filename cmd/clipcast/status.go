package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcast/internal/ipc"
	"go.klb.dev/clipcast/internal/protocol"
	"go.klb.dev/clipcast/internal/wire"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's sync state",
		Long: `Displays the role, connection state, and history size of the clipcast
daemon running on this host. The request is sent over the local IPC socket;
if no daemon is listening the command fails.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	if !ipc.IsRunning() {
		return fmt.Errorf("no clipcast daemon running (socket: %s)", ipc.SocketPath())
	}

	conn, err := ipc.Dial()
	if err != nil {
		return fmt.Errorf("dial daemon: %w", err)
	}
	defer conn.Close()

	wc := wire.New(conn)
	if err := wc.WriteMsg(&protocol.Message{Type: protocol.TypeStatus}); err != nil {
		return fmt.Errorf("status request: %w", err)
	}
	wc.SetReadDeadline(5 * time.Second)
	resp, err := wc.ReadMsg()
	if err != nil {
		return fmt.Errorf("status read: %w", err)
	}
	if resp.Type != protocol.TypeStatusResponse || resp.Status == nil {
		return fmt.Errorf("unexpected response %q", resp.Type)
	}
	info := resp.Status

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Role:\t%s\n", info.Role)
	fmt.Fprintf(w, "Source:\t%s\n", info.SourceID)
	fmt.Fprintf(w, "Connected:\t%v\n", info.Connected)
	if info.Role == protocol.RoleServer {
		fmt.Fprintf(w, "Clients:\t%d\n", info.ClientCount)
	}
	if info.TunnelStatus != "" {
		fmt.Fprintf(w, "Tunnel:\t%s\n", info.TunnelStatus)
	}
	if info.PublicURL != "" {
		fmt.Fprintf(w, "Public URL:\t%s\n", info.PublicURL)
	}
	fmt.Fprintf(w, "History:\t%d entries\n", info.HistorySize)
	return w.Flush()
}
