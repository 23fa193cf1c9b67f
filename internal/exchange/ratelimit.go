package exchange

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/resilience"
)

// RateLimited throttles an inner fetcher with a shared token bucket. One
// RateLimited instance is shared by every worker so the combined request
// rate against the upstream source stays within its limit regardless of
// worker count.
type RateLimited struct {
	inner   Fetcher
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing requestsPerSecond
// sustained with a burst of the same size.
func NewRateLimited(inner Fetcher, requestsPerSecond float64) *RateLimited {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Fetch blocks until the limiter grants a token, then delegates. A context
// canceled while waiting is reported as permanent: the unit's deadline is
// gone and retrying cannot bring it back.
func (r *RateLimited) Fetch(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, resilience.Permanent("exchange", "rate_limit", err)
	}
	return r.inner.Fetch(ctx, symbol, interval, since, limit)
}
