//go:build windows

package tunnel

import "os"

// Windows has no SIGTERM equivalent a console process reliably honors, so
// the child is killed outright.
func interruptSignal() os.Signal { return os.Kill }
