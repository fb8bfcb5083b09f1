// Package lifecycle holds the process-wide draining flag. The health handler
// reads it; main sets it on SIGINT or SIGTERM.
package lifecycle

import "sync/atomic"

var shuttingDown atomic.Bool

// SetShuttingDown marks the process as draining (or not, in tests).
func SetShuttingDown(v bool) {
	shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func IsShuttingDown() bool {
	return shuttingDown.Load()
}
