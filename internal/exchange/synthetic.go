package exchange

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfort/candle-ingest/internal/models"
)

// Synthetic is a deterministic in-process fetcher. It serves candles from a
// fixed inventory per (symbol, interval), generated by Seed or loaded with
// Load, and can be scripted to fail so retry and circuit behavior can be
// exercised without a live upstream. It backs tests and the binary's dry-run
// mode.
type Synthetic struct {
	mu        sync.Mutex
	inventory map[string][]models.Candle

	// failures holds errors returned before any data is served; each Fetch
	// consumes one.
	failures []error

	calls int
}

// NewSynthetic creates an empty synthetic fetcher.
func NewSynthetic() *Synthetic {
	return &Synthetic{inventory: make(map[string][]models.Candle)}
}

func inventoryKey(symbol string, interval models.Interval) string {
	return symbol + "|" + string(interval)
}

// Seed generates count contiguous candles starting at start and adds them to
// the inventory. Prices follow a deterministic walk derived from the slot
// index, so seeding the same arguments always yields the same candles.
func (s *Synthetic) Seed(symbol string, interval models.Interval, start time.Time, count int) {
	duration := interval.Duration()
	base := decimal.NewFromInt(1000)

	candles := make([]models.Candle, 0, count)
	for i := 0; i < count; i++ {
		drift := decimal.NewFromInt(int64(i%40 - 20))
		open := base.Add(drift)
		closePrice := open.Add(decimal.NewFromInt(int64(i%7 - 3)))
		high := decimal.Max(open, closePrice).Add(decimal.NewFromInt(2))
		low := decimal.Min(open, closePrice).Sub(decimal.NewFromInt(2))

		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Interval:  interval,
			Timestamp: interval.Align(start.Add(time.Duration(i) * duration)),
			Open:      open.String(),
			High:      high.String(),
			Low:       low.String(),
			Close:     closePrice.String(),
			Volume:    fmt.Sprintf("%d", 100+i%50),
		})
	}
	s.Load(symbol, interval, candles)
}

// Load replaces the inventory for (symbol, interval) with the given candles,
// which must be sorted ascending.
func (s *Synthetic) Load(symbol string, interval models.Interval, candles []models.Candle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[inventoryKey(symbol, interval)] = candles
}

// FailNext queues errs to be returned by the next len(errs) Fetch calls.
func (s *Synthetic) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// Calls reports how many Fetch calls have been made.
func (s *Synthetic) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Fetch implements Fetcher.
func (s *Synthetic) Fetch(ctx context.Context, symbol string, interval models.Interval, since time.Time, limit int) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++

	if len(s.failures) > 0 {
		err := s.failures[0]
		s.failures = s.failures[1:]
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultPageLimit
	}

	out := make([]models.Candle, 0, limit)
	for _, c := range s.inventory[inventoryKey(symbol, interval)] {
		if c.Timestamp.Before(since) {
			continue
		}
		out = append(out, c)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
