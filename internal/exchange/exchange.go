// Package exchange defines the contract for fetching OHLCV candles from an
// upstream market-data source, plus the decorators the ingest pipeline wraps
// around any implementation: request pagination and shared rate limiting.
//
// Implementations must return candles in chronological order, aligned to the
// requested interval, and report upstream throttling and connectivity
// problems as transient errors so the retry policy can handle them.
package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/resilience"
)

// Fetcher retrieves candles from an upstream source. Since is inclusive;
// at most limit candles are returned, oldest first. Fewer than limit candles
// (including none) means the source has no more data at or after since.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error)
}

// DefaultPageLimit is the per-request candle cap used when paginating a
// window fetch. Matches the page size commonly enforced by exchange REST
// APIs.
const DefaultPageLimit = 300

// FetchRange paginates f over the inclusive window and returns every candle
// inside it, oldest first. Candles a source returns beyond the window end
// are dropped. The per-call timeout is the caller's responsibility via ctx.
func FetchRange(ctx context.Context, f Fetcher, symbol string, interval models.Interval, window models.TimeRange, pageLimit int) ([]models.Candle, error) {
	if pageLimit <= 0 {
		pageLimit = DefaultPageLimit
	}

	duration := interval.Duration()
	var out []models.Candle
	since := window.Start

	for !since.After(window.End) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch %s/%s: %w", symbol, interval, err)
		}

		page, err := f.Fetch(ctx, symbol, interval, since, pageLimit)
		if err != nil {
			return nil, fmt.Errorf("fetch %s/%s since %s: %w",
				symbol, interval, since.Format(time.RFC3339), err)
		}
		if len(page) == 0 {
			break
		}

		for _, c := range page {
			if c.Timestamp.After(window.End) {
				return out, nil
			}
			out = append(out, c)
		}

		next := page[len(page)-1].Timestamp.Add(duration)
		if !next.After(since) {
			return nil, resilience.Permanent("exchange", "fetch",
				fmt.Errorf("source did not advance past %s for %s/%s", since.Format(time.RFC3339), symbol, interval))
		}
		since = next

		if len(page) < pageLimit {
			break
		}
	}
	return out, nil
}
