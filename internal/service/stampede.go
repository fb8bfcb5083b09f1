package service

import "sync"

// stampedeTracker counts misses per cache key that are still waiting on upstream.
// A count above one means several lookups missed the same coordinate at once.
type stampedeTracker struct {
	mu      sync.Mutex
	pending map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{pending: make(map[string]int)}
}

// RecordMiss registers an unresolved miss for key and returns how many are now pending.
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.pending[key]++
	return st.pending[key]
}

// RecordHit resolves one pending miss for key. Extra calls are ignored.
func (st *stampedeTracker) RecordHit(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	switch n := st.pending[key]; {
	case n > 1:
		st.pending[key] = n - 1
	case n == 1:
		delete(st.pending, key)
	}
}

// Pending returns the unresolved miss count for key.
func (st *stampedeTracker) Pending(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pending[key]
}
