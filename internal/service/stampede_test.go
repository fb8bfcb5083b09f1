package service

import (
	"sync"
	"testing"
)

func TestStampedeTracker_Counts(t *testing.T) {
	st := newStampedeTracker()
	const key = "42.36,-71.06"

	steps := []struct {
		miss bool
		want int
	}{
		{true, 1},
		{true, 2},
		{false, 1},
		{true, 2},
		{false, 1},
		{false, 0},
		{false, 0},
		{true, 1},
	}
	for i, s := range steps {
		if s.miss {
			if got := st.RecordMiss(key); got != s.want {
				t.Fatalf("step %d RecordMiss = %d, want %d", i, got, s.want)
			}
			continue
		}
		st.RecordHit(key)
		if got := st.Pending(key); got != s.want {
			t.Fatalf("step %d Pending = %d, want %d", i, got, s.want)
		}
	}
}

func TestStampedeTracker_Concurrent(t *testing.T) {
	st := newStampedeTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.RecordMiss("k")
			st.RecordHit("k")
		}()
	}
	wg.Wait()
	if got := st.Pending("k"); got != 0 {
		t.Errorf("Pending = %d, want 0", got)
	}
	if len(st.pending) != 0 {
		t.Errorf("pending map has %d keys, want 0", len(st.pending))
	}
}
