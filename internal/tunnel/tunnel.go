// Package tunnel supervises a cloudflared quick-tunnel child process and
// extracts the public wss:// URL from its output, so a hub behind NAT can
// be reached without port forwarding.
package tunnel

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	// DefaultBinary is looked up on PATH unless Config.Binary overrides it.
	DefaultBinary = "cloudflared"

	// DefaultMaxRetries bounds restart attempts before the supervisor gives
	// up and enters the Failed state.
	DefaultMaxRetries = 5

	stopGrace = 3 * time.Second

	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// urlPattern matches the public endpoint cloudflared prints once the quick
// tunnel is established.
var urlPattern = regexp.MustCompile(`https://[a-zA-Z0-9-]+\.trycloudflare\.com`)

// Status is the supervisor lifecycle state.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event reports a status transition. URL is set on StatusRunning, Err on
// StatusFailed.
type Event struct {
	Status Status
	URL    string
	Err    error
}

// LaunchError reports that the tunnel process could not be started or kept
// alive within the retry budget.
type LaunchError struct {
	Attempts int
	Err      error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("tunnel failed after %d attempts: %v", e.Attempts, e.Err)
}
func (e *LaunchError) Unwrap() error { return e.Err }

// Config holds supervisor settings.
type Config struct {
	Binary     string // cloudflared path, defaults to DefaultBinary
	MaxRetries int    // restart budget, defaults to DefaultMaxRetries
}

// Supervisor manages one cloudflared child process.
type Supervisor struct {
	binary     string
	maxRetries int

	mu     sync.Mutex
	status Status
	url    string
	cmd    *exec.Cmd

	events   chan Event
	done     chan struct{}
	stopOnce sync.Once
}

// New returns a stopped supervisor.
func New(cfg Config) *Supervisor {
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	return &Supervisor{
		binary:     binary,
		maxRetries: retries,
		status:     StatusStopped,
		events:     make(chan Event, 8),
		done:       make(chan struct{}),
	}
}

// Start launches cloudflared for the given local port and supervises it in
// the background. It fails fast if the binary cannot be found; everything
// after that (crashes, restarts, the retry budget running out) is reported
// through Events.
func (s *Supervisor) Start(localPort int) error {
	path, err := exec.LookPath(s.binary)
	if err != nil {
		s.setFailed(&LaunchError{Attempts: 0, Err: err})
		return &LaunchError{Attempts: 0, Err: err}
	}
	s.setStatus(StatusStarting, "", nil)
	go s.run(path, localPort)
	return nil
}

// Status returns the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// URL returns the public wss:// endpoint, or "" until the tunnel is up.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Events delivers status transitions for display.
func (s *Supervisor) Events() <-chan Event { return s.events }

// Stop terminates the child process and disables restarts. Idempotent.
func (s *Supervisor) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		cmd := s.cmd
		s.mu.Unlock()
		if cmd != nil && cmd.Process != nil {
			terminate(cmd)
		}
		s.setStatus(StatusStopped, "", nil)
	})
}

// run restarts the child with exponential backoff until the retry budget is
// spent or Stop is called.
func (s *Supervisor) run(path string, localPort int) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	bo.MaxInterval = maxBackoff
	bo.MaxElapsedTime = 0
	bo.RandomizationFactor = 0

	var lastErr error
	for attempt := 1; ; attempt++ {
		err := s.runOnce(path, localPort)
		select {
		case <-s.done:
			return
		default:
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("tunnel process exited")
		}
		slog.Warn("tunnel process ended", "attempt", attempt, "err", lastErr)

		if attempt >= s.maxRetries {
			s.setFailed(&LaunchError{Attempts: attempt, Err: lastErr})
			return
		}

		select {
		case <-s.done:
			return
		case <-time.After(bo.NextBackOff()):
		}
		s.setStatus(StatusStarting, "", nil)
	}
}

// runOnce launches the child, scans its output for the public URL, and
// blocks until it exits.
func (s *Supervisor) runOnce(path string, localPort int) error {
	cmd := exec.Command(path, "tunnel", "--url", fmt.Sprintf("http://localhost:%d", localPort))

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout // cloudflared logs the URL on stderr

	if err := cmd.Start(); err != nil {
		return err
	}
	s.mu.Lock()
	s.cmd = cmd
	s.mu.Unlock()

	s.scan(stdout)

	err = cmd.Wait()
	s.mu.Lock()
	s.cmd = nil
	s.mu.Unlock()
	return err
}

// scan watches the child's output for the trycloudflare URL and flips the
// supervisor to Running when it appears.
func (s *Supervisor) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		match := urlPattern.FindString(line)
		if match == "" {
			continue
		}
		url := "wss://" + strings.TrimPrefix(match, "https://")
		slog.Info("tunnel established", "url", url)
		s.setStatus(StatusRunning, url, nil)
	}
}

func (s *Supervisor) setStatus(st Status, url string, err error) {
	s.mu.Lock()
	s.status = st
	s.url = url
	s.mu.Unlock()
	s.emit(Event{Status: st, URL: url, Err: err})
}

func (s *Supervisor) setFailed(err error) {
	slog.Error("tunnel supervisor giving up", "err", err)
	s.setStatus(StatusFailed, "", err)
}

func (s *Supervisor) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

// terminate asks the child to exit and kills it if it does not comply
// within the grace period.
func terminate(cmd *exec.Cmd) {
	proc := cmd.Process
	if err := proc.Signal(interruptSignal()); err != nil {
		_ = proc.Kill()
		return
	}
	// The run loop reaps the process via cmd.Wait; killing an already
	// exited process is a no-op.
	time.AfterFunc(stopGrace, func() { _ = proc.Kill() })
}

// FallbackURL returns a LAN websocket URL for the local port, derived from
// the interface a dial toward a public address would use. The UDP dial
// sends no packets; it only resolves the outbound interface.
func FallbackURL(port int) string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return fmt.Sprintf("ws://127.0.0.1:%d", port)
	}
	defer conn.Close()
	host := conn.LocalAddr().(*net.UDPAddr).IP.String()
	return fmt.Sprintf("ws://%s:%d", host, port)
}
