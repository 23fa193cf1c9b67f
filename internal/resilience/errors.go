// Package resilience implements the failure-handling building blocks shared
// by the fetch and persist paths: a transient/permanent error taxonomy, a
// bounded retry policy with exponential backoff, and an explicit
// closed/open/half-open circuit breaker. Retry and circuit breaking are kept
// independent; the breaker wraps a dependency's call path while the retry
// policy is injected per operation.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Kind classifies a failure for handling decisions.
type Kind string

const (
	// KindTransient covers connectivity, timeout, rate-limit, and other
	// failures worth retrying within the attempt budget.
	KindTransient Kind = "transient"
	// KindPermanent covers failures where retrying cannot help, such as
	// malformed requests or constraint violations.
	KindPermanent Kind = "permanent"
	// KindCircuitOpen is returned while a breaker is failing fast.
	KindCircuitOpen Kind = "circuit_open"
)

// Error carries a failure plus its classification and origin.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s/%s] %s: %v", e.Component, e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable failure.
func Transient(component, op string, err error) *Error {
	return &Error{Kind: KindTransient, Component: component, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable failure.
func Permanent(component, op string, err error) *Error {
	return &Error{Kind: KindPermanent, Component: component, Op: op, Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors are
// probed: network and timeout failures count as transient, context
// cancellation and everything else as permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Kind == KindTransient
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"connection refused", "connection reset", "broken pipe",
		"no route to host", "timeout", "temporarily unavailable",
		"rate limit", "too many requests", "service unavailable",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsCircuitOpen reports whether err was produced by an open breaker.
func IsCircuitOpen(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == KindCircuitOpen
}
