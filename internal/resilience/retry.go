package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is an explicit bounded-attempt policy: max attempts, base
// delay, exponential doubling. The same policy object is injected into both
// the fetch and persist paths rather than each path keeping its own ad hoc
// loop.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewRetryPolicy builds a policy with the given attempt budget and base
// delay. MaxDelay caps the doubling at 16x the base.
func NewRetryPolicy(maxAttempts int, baseDelay time.Duration) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		MaxDelay:    16 * baseDelay,
	}
}

// Do runs fn under the policy. Permanent errors and context cancellation
// stop immediately; transient errors are retried with exponential backoff
// until the attempt budget is exhausted. The last error is returned wrapped
// with the attempt count.
func (p RetryPolicy) Do(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	strategy := backoff.NewExponentialBackOff()
	strategy.InitialInterval = p.BaseDelay
	strategy.MaxInterval = p.MaxDelay
	strategy.Multiplier = 2.0
	strategy.MaxElapsedTime = 0

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s canceled: %w", op, err)
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := strategy.NextBackOff()
		if log != nil {
			log.Warn("operation failed, backing off",
				"op", op,
				"attempt", attempt,
				"max_attempts", p.MaxAttempts,
				"backoff", wait,
				"error", lastErr)
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}
