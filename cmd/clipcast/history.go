package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go.klb.dev/clipcast/internal/history"
)

const previewLen = 60

func newHistoryCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "history [search term]",
		Short: "List or search the clipboard history",
		Long: `Lists the most recent clipboard entries, newest first. With a search
term only entries containing it (case-insensitive) are shown.

The history database is opened directly; WAL mode makes that safe alongside
a running daemon.`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, args []string) error {
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			return runHistory(v, term)
		},
	}

	f := cmd.Flags()
	f.String("history", "", "history database path (default: XDG data dir)")
	f.Int("limit", 20, "maximum entries to show")
	f.Bool("clear", false, "delete all history entries")
	f.Int64("delete", 0, "delete the entry with this ID")
	f.Bool("full", false, "print full contents instead of previews")
	f.Bool("json", false, "output raw JSON")
	addConfigFlag(cmd)

	return cmd
}

func runHistory(v *viper.Viper, term string) error {
	path := v.GetString("history")
	if path == "" {
		path = defaultHistoryPath()
	}
	store, err := history.Open(path, history.DefaultMaxItems)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer store.Close()

	switch {
	case v.GetBool("clear"):
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("History cleared.")
		return nil

	case v.GetInt64("delete") != 0:
		id := v.GetInt64("delete")
		if err := store.Delete(id); err != nil {
			return err
		}
		fmt.Printf("Entry %d deleted.\n", id)
		return nil
	}

	limit := v.GetInt("limit")
	var records []history.Record
	if term != "" {
		records, err = store.Query(term, limit)
	} else {
		records, err = store.Recent(limit)
	}
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc, _ := json.MarshalIndent(records, "", "  ")
		fmt.Println(string(enc))
		return nil
	}

	if len(records) == 0 {
		fmt.Println("No entries.")
		return nil
	}

	full := v.GetBool("full")
	w := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tWHEN\tSOURCE\tCONTENT\n")
	for _, r := range records {
		content := r.Content
		if !full {
			content = preview(content)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.ID, fmtAge(r.StoredAt), r.SourceID, content)
	}
	return w.Flush()
}

// preview flattens whitespace and truncates for one-line display.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > previewLen {
		return s[:previewLen] + "…"
	}
	return s
}
