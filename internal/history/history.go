// Package history implements the bounded, deduplicating clipboard history
// store. Records are persisted to SQLite synchronously: once Append returns,
// the entry survives a process restart.
package history

import (
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO)

	"go.klb.dev/clipcast/internal/protocol"
)

// DefaultMaxItems bounds the store when no explicit maximum is configured.
const DefaultMaxItems = 100

// Record is the persisted form of a clipboard entry.
type Record struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	Fingerprint string    `json:"fingerprint"`
	SourceID    string    `json:"source_id"`
	StoredAt    time.Time `json:"stored_at"`
}

// Store is an append-only, size-bounded clipboard history.
//
// Writes are serialized through a single mutex so that coalescing and
// eviction stay correct when local and remote entries arrive concurrently.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	max int
}

// Open opens (creating if necessary) the history database at path. max
// bounds the record count; values < 1 fall back to DefaultMaxItems.
func Open(path string, max int) (*Store, error) {
	if max < 1 {
		max = DefaultMaxItems
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("history db pragma: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		source_id TEXT NOT NULL DEFAULT 'local',
		stored_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_history_stored ON history(stored_at DESC);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history db schema: %w", err)
	}
	return &Store{db: db, max: max}, nil
}

// Append records an entry. If the most recently stored record holds
// identical content, the entry is coalesced: only stored_at is refreshed.
// Otherwise a new record is inserted and the oldest records are evicted
// until the store is within its bound.
func (s *Store) Append(e protocol.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	storedAt := e.Timestamp.UnixMilli()
	if e.Timestamp.IsZero() {
		storedAt = time.Now().UnixMilli()
	}

	var lastID int64
	var lastPrint string
	err := s.db.QueryRow(
		`SELECT id, fingerprint FROM history ORDER BY id DESC LIMIT 1`,
	).Scan(&lastID, &lastPrint)
	switch {
	case err == sql.ErrNoRows:
		// empty store, plain insert below
	case err != nil:
		return fmt.Errorf("history append: %w", err)
	case lastPrint == e.ID:
		_, err := s.db.Exec(
			`UPDATE history SET stored_at = ? WHERE id = ?`, storedAt, lastID)
		if err != nil {
			return fmt.Errorf("history coalesce: %w", err)
		}
		return nil
	}

	if _, err := s.db.Exec(
		`INSERT INTO history (content, fingerprint, source_id, stored_at) VALUES (?, ?, ?, ?)`,
		e.Content, e.ID, e.SourceID, storedAt,
	); err != nil {
		return fmt.Errorf("history insert: %w", err)
	}

	// Evict oldest records beyond the bound (FIFO).
	if _, err := s.db.Exec(`
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY id DESC LIMIT ?
		)`, s.max,
	); err != nil {
		return fmt.Errorf("history evict: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(limit int) ([]Record, error) {
	return s.scan(
		`SELECT id, content, fingerprint, source_id, stored_at
		 FROM history ORDER BY stored_at DESC, id DESC LIMIT ?`, limit)
}

// Query returns up to limit records whose content contains term
// (case-insensitive substring match), newest first. LIKE metacharacters in
// term match literally.
func (s *Store) Query(term string, limit int) ([]Record, error) {
	return s.scan(
		`SELECT id, content, fingerprint, source_id, stored_at
		 FROM history
		 WHERE lower(content) LIKE '%' || lower(?) || '%' ESCAPE '\'
		 ORDER BY stored_at DESC, id DESC LIMIT ?`, likeEscape(term), limit)
}

// likeEscape escapes LIKE metacharacters so user input matches as a literal
// substring rather than a pattern.
func likeEscape(term string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(term)
}

// Delete removes the record with the given id. Missing ids are not an error.
func (s *Store) Delete(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM history WHERE id = ?`, id); err != nil {
		return fmt.Errorf("history delete: %w", err)
	}
	return nil
}

// Clear removes all records.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec(`DELETE FROM history`); err != nil {
		return fmt.Errorf("history clear: %w", err)
	}
	return nil
}

// Len returns the current record count.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM history`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history count: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) scan(query string, args ...any) ([]Record, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var storedAt int64
		if err := rows.Scan(&r.ID, &r.Content, &r.Fingerprint, &r.SourceID, &storedAt); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		r.StoredAt = time.UnixMilli(storedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
