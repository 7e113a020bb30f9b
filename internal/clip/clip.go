// Package clip provides access to the system clipboard and a polling
// Monitor that turns clipboard changes into a feed of entries.
//
// Build constraints select the backend implementation:
//
//	clip_desktop.go — Linux/macOS/Windows via golang.design/x/clipboard
//	clip_stub.go    — unsupported platforms
//
// Desktop environments without a display server (headless boxes, containers,
// CI) fall back to a no-op backend at runtime.
package clip

// Backend is the interface all platform clipboard implementations satisfy.
// Only text is synchronized; non-text clipboard content reads as empty.
type Backend interface {
	// Name returns a human-readable name for the backend.
	Name() string

	// ReadText returns the current clipboard text, or "" if the clipboard
	// is empty or holds a non-text type.
	ReadText() (string, error)

	// WriteText sets the clipboard to the given text.
	WriteText(text string) error

	// Close releases any resources held by the backend.
	Close()
}

// headlessBackend is a no-op backend for environments without a display
// server. It reads empty and silently discards writes.
type headlessBackend struct{}

func (headlessBackend) Name() string              { return "headless (no-op)" }
func (headlessBackend) ReadText() (string, error) { return "", nil }
func (headlessBackend) WriteText(_ string) error  { return nil }
func (headlessBackend) Close()                    {}
