package resilience

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String implements fmt.Stringer.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards a failing dependency. After FailureThreshold
// consecutive failures the circuit opens and calls fail fast for the
// cool-down period; the first call after the cool-down half-opens the
// circuit as a probe, and its outcome decides between closing and
// re-opening. State transitions are logged so circuit-open events can be
// audited.
type CircuitBreaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	log       *slog.Logger

	mu           sync.Mutex
	state        BreakerState
	failures     int
	openedAt     time.Time
	onTransition func(from, to BreakerState)
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, threshold int, cooldown time.Duration, log *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		log:       log,
		state:     BreakerClosed,
	}
}

// OnTransition registers a hook invoked on every state change, used for
// metrics. The hook runs with the breaker lock held and must not call back
// into the breaker.
func (cb *CircuitBreaker) OnTransition(fn func(from, to BreakerState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onTransition = fn
}

// Do executes fn through the breaker. While open and inside the cool-down it
// returns a KindCircuitOpen error without invoking fn.
func (cb *CircuitBreaker) Do(fn func() error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn()
	cb.after(err)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed, BreakerHalfOpen:
		return nil
	case BreakerOpen:
		if time.Since(cb.openedAt) >= cb.cooldown {
			cb.transition(BreakerHalfOpen)
			return nil
		}
		return &Error{
			Kind:      KindCircuitOpen,
			Component: cb.name,
			Op:        "call",
			Err:       fmt.Errorf("circuit open, %s remaining in cool-down", cb.cooldown-time.Since(cb.openedAt)),
		}
	default:
		return nil
	}
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		if cb.state == BreakerHalfOpen {
			cb.transition(BreakerClosed)
		}
		cb.failures = 0
		return
	}

	// Permanent failures (bad input, constraint violations) say nothing
	// about the health of the dependency.
	if !IsTransient(err) {
		return
	}

	cb.failures++
	switch cb.state {
	case BreakerClosed:
		if cb.failures >= cb.threshold {
			cb.open()
		}
	case BreakerHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = time.Now()
	cb.transition(BreakerOpen)
}

func (cb *CircuitBreaker) transition(to BreakerState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	if to != BreakerOpen {
		cb.failures = 0
	}
	if cb.log != nil {
		cb.log.Warn("circuit breaker state change",
			"breaker", cb.name,
			"from", from.String(),
			"to", to.String(),
			"consecutive_failures", cb.failures)
	}
	if cb.onTransition != nil {
		cb.onTransition(from, to)
	}
}
