package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit is open.
var ErrOpen = errors.New("circuit breaker open")

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects upstream calls by opening after consecutive failures
// and letting trial calls through once the open timeout has elapsed.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	component        string
	onStateChange    func(from, to State)
	now              func() time.Time
}

// Config holds circuit breaker parameters. Zero values take defaults
// (5 failures, 2 successes, 30s).
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	Component        string
	OnStateChange    func(from, to State)
}

// New creates a closed CircuitBreaker.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		component:        cfg.Component,
		onStateChange:    cfg.OnStateChange,
		now:              time.Now,
	}
}

// Call runs fn when the circuit allows it and records the result. While open and
// within the timeout it returns ErrOpen without calling fn.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.timeout {
			cb.mu.Unlock()
			return ErrOpen
		}
		cb.transitionLocked(StateHalfOpen)
	}
	cb.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.openedAt = cb.now()
			cb.transitionLocked(StateOpen)
		}
		return err
	}

	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
	return nil
}

// transitionLocked moves to state, resets counters and notifies. Caller holds mu.
func (cb *CircuitBreaker) transitionLocked(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Component returns the name the breaker was configured with.
func (cb *CircuitBreaker) Component() string {
	return cb.component
}
