package clip

import (
	"log/slog"
	"sync"
	"time"

	"go.klb.dev/clipcast/internal/protocol"
)

// DefaultPollInterval is the clipboard polling period. It is the dominant
// latency bound of the whole system: a change is never propagated faster
// than one tick plus one network round trip.
const DefaultPollInterval = 500 * time.Millisecond

// Monitor polls a Backend and emits an entry whenever the clipboard text
// differs from the last observed value. Comparison is on the raw text, not a
// hash, so there is no collision risk.
//
// WriteSuppressed and the poll tick share one critical section, so a write
// performed by the sync engine is never mistaken for an external change.
type Monitor struct {
	backend  Backend
	sourceID string

	mu       sync.Mutex
	lastSeen string

	entries   chan protocol.Entry
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewMonitor creates a Monitor that stamps emitted entries with sourceID.
func NewMonitor(backend Backend, sourceID string) *Monitor {
	return &Monitor{
		backend:  backend,
		sourceID: sourceID,
		entries:  make(chan protocol.Entry, 16),
		done:     make(chan struct{}),
	}
}

// Start begins the background polling loop. Repeated calls are no-ops: one
// monitor owns exactly one poll loop. The change feed is closed when the
// monitor is stopped; it cannot be restarted.
func (m *Monitor) Start(pollInterval time.Duration) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	m.startOnce.Do(func() { go m.poll(pollInterval) })
}

// Changes returns the feed of locally observed clipboard entries.
func (m *Monitor) Changes() <-chan protocol.Entry { return m.entries }

// WriteSuppressed sets the clipboard content and records it as the last
// observed value in the same critical section, so the next poll tick sees no
// change and does not re-emit it as a local change.
func (m *Monitor) WriteSuppressed(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen = content
	return m.backend.WriteText(content)
}

// Stop halts polling and closes the change feed. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Monitor) poll(interval time.Duration) {
	defer close(m.entries)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-t.C:
			entry, ok := m.tick()
			if !ok {
				continue
			}
			select {
			case m.entries <- entry:
			default:
				slog.Warn("clipboard change feed full, dropping", "id", entry.ID)
			}
		}
	}
}

// tick reads the clipboard once and reports a new entry if the content
// changed. Transient read errors are swallowed; the next tick retries.
func (m *Monitor) tick() (protocol.Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	text, err := m.backend.ReadText()
	if err != nil {
		slog.Debug("clipboard read failed", "err", err)
		return protocol.Entry{}, false
	}
	// Empty or non-text clipboard content is ignored.
	if text == "" || text == m.lastSeen {
		return protocol.Entry{}, false
	}
	m.lastSeen = text
	return protocol.NewEntry(text, m.sourceID), true
}
