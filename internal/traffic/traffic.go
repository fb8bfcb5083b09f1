// Package traffic keeps sliding windows of listing request outcomes. It is the
// single source for the overload (denials) and degraded (error rate) health signals.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished listing request.
type Outcome int

const (
	Success Outcome = iota
	Error
	Denied
	numOutcomes
)

// retention bounds how far back any window can look.
const retention = 10 * time.Minute

var defaultTracker = NewTracker()

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RecordSuccess records a listing request that produced a 2xx response.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a listing request that failed with a server error.
func RecordError() { defaultTracker.Record(Error) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns successes, errors and denials within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.Count(Denied, window)
}

// ErrorRate returns (errors, successes+errors) within the window. Denials are excluded.
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Reset clears the process-wide tracker. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker holds timestamps per outcome, pruned to the retention period on write.
type Tracker struct {
	mu    sync.Mutex
	times [numOutcomes][]time.Time
	now   func() time.Time
}

// NewTracker returns an empty Tracker using the wall clock.
func NewTracker() *Tracker {
	return &Tracker{now: time.Now}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	if o < 0 || o >= numOutcomes {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.times[o] = append(t.times[o], now)
	t.pruneLocked(now)
}

// Count returns the number of o outcomes within the window ending now.
func (t *Tracker) Count(o Outcome, window time.Duration) int {
	if o < 0 || o >= numOutcomes {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.times[o], t.now().Add(-window))
}

// RequestCount returns the number of outcomes of any kind within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	n := 0
	for o := range t.times {
		n += countSince(t.times[o], cutoff)
	}
	return n
}

// ErrorRate returns (errors, successes+errors) within the window.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	errors = countSince(t.times[Error], cutoff)
	return errors, errors + countSince(t.times[Success], cutoff)
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for o := range t.times {
		t.times[o] = nil
	}
}

func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Slices are append-only in time order.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	for o := range t.times {
		times := t.times[o]
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			t.times[o] = append(times[:0], times[i:]...)
		}
	}
}
