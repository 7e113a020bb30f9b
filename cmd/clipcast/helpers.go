package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// defaultSource returns the identifier this daemon stamps on outgoing
// updates. It must differ between peers or loop prevention will discard
// real updates, so a random suffix is appended to the hostname.
func defaultSource() string {
	for _, env := range []string{
		"CLIPCAST_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
	} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}
	h, err := os.Hostname()
	if err != nil || h == "" {
		h = "unknown"
	}
	if isContainerID(h) {
		h = "container-" + h[:8]
	}
	return h + "-" + uuid.NewString()[:8]
}

// defaultHistoryPath puts the history database under the XDG data dir.
func defaultHistoryPath() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "clipcast", "history.db")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "clipcast-history.db")
	}
	return filepath.Join(home, ".local", "share", "clipcast", "history.db")
}

// ensureParentDir creates the directory a file path lives in.
func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

func fmtAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < time.Minute {
		return "just now"
	}
	if age < time.Hour {
		return t.Format("15:04")
	}
	return t.Format("2006-01-02 15:04")
}
