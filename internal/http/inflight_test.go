package http

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestInFlightTracker_ConcurrentUpdates(t *testing.T) {
	var tracker InFlightTracker
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Increment()
			tracker.Decrement()
		}()
	}
	wg.Wait()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d after balanced updates, want 0", got)
	}

	tracker.Increment()
	tracker.Increment()
	if got := tracker.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
}

func TestInFlightTracker_WaitForZeroReturnsWhenDrained(t *testing.T) {
	var tracker InFlightTracker
	if err := tracker.WaitForZero(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("WaitForZero() on idle tracker = %v", err)
	}

	tracker.Increment()
	go func() {
		time.Sleep(10 * time.Millisecond)
		tracker.Decrement()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tracker.WaitForZero(ctx, 2*time.Millisecond); err != nil {
		t.Errorf("WaitForZero() = %v, want nil once drained", err)
	}
}

func TestInFlightTracker_WaitForZeroHonorsDeadline(t *testing.T) {
	var tracker InFlightTracker
	tracker.Increment()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tracker.WaitForZero(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForZero() = %v, want DeadlineExceeded", err)
	}
}
