package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/resilience"
)

// ResilientStore wraps a backend's write path with a bounded retry policy
// and a circuit breaker. The breaker sits inside the retry loop so every
// attempt is accounted against the dependency's health, and an open circuit
// fails the remaining attempts fast instead of hammering a degraded store.
// Reads pass through untouched; they are cheap to fail and the orchestrator
// treats read errors as unit failures anyway.
type ResilientStore struct {
	inner   Store
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	log     *slog.Logger
}

// NewResilientStore decorates inner with the given retry policy and breaker.
func NewResilientStore(inner Store, retry resilience.RetryPolicy, breaker *resilience.CircuitBreaker, log *slog.Logger) *ResilientStore {
	if log == nil {
		log = slog.Default()
	}
	return &ResilientStore{inner: inner, retry: retry, breaker: breaker, log: log}
}

// Breaker exposes the write-path circuit breaker for metrics wiring.
func (s *ResilientStore) Breaker() *resilience.CircuitBreaker { return s.breaker }

// Upsert implements CandleWriter with retry and circuit breaking.
func (s *ResilientStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	var written int
	err := s.retry.Do(ctx, s.log, "storage.upsert", func() error {
		return s.breaker.Do(func() error {
			n, err := s.inner.Upsert(ctx, candles)
			if err != nil {
				return err
			}
			written = n
			return nil
		})
	})
	return written, err
}

// Purge implements CandleWriter with retry and circuit breaking.
func (s *ResilientStore) Purge(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) (int, error) {
	var removed int
	err := s.retry.Do(ctx, s.log, "storage.purge", func() error {
		return s.breaker.Do(func() error {
			n, err := s.inner.Purge(ctx, symbol, interval, r)
			if err != nil {
				return err
			}
			removed = n
			return nil
		})
	})
	return removed, err
}

// Query implements CandleReader.
func (s *ResilientStore) Query(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) ([]models.Candle, error) {
	return s.inner.Query(ctx, symbol, interval, r)
}

// LatestTimestamp implements CandleReader.
func (s *ResilientStore) LatestTimestamp(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	return s.inner.LatestTimestamp(ctx, symbol, interval)
}

// Initialize implements Manager.
func (s *ResilientStore) Initialize(ctx context.Context) error {
	return s.inner.Initialize(ctx)
}

// Close implements Manager.
func (s *ResilientStore) Close() error { return s.inner.Close() }

// Stats implements Manager.
func (s *ResilientStore) Stats(ctx context.Context) (*Stats, error) { return s.inner.Stats(ctx) }

// HealthCheck implements Manager.
func (s *ResilientStore) HealthCheck(ctx context.Context) error { return s.inner.HealthCheck(ctx) }
