package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/resilience"
)

// flakyStore fails the first failuresBefore Upsert calls, then delegates to an
// in-memory store.
type flakyStore struct {
	*MemoryStore
	failuresBefore int
	calls          int
}

func (f *flakyStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	f.calls++
	if f.calls <= f.failuresBefore {
		return 0, resilience.Transient("storage", "upsert", errors.New("connection reset"))
	}
	return f.MemoryStore.Upsert(ctx, candles)
}

func newTestResilientStore(inner Store, maxAttempts, breakerThreshold int) *ResilientStore {
	retry := resilience.NewRetryPolicy(maxAttempts, time.Millisecond)
	breaker := resilience.NewCircuitBreaker("storage", breakerThreshold, 50*time.Millisecond, nil)
	return NewResilientStore(inner, retry, breaker, nil)
}

func TestResilientStore_RetriesTransientFailures(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failuresBefore: 2}
	store := newTestResilientStore(inner, 3, 10)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	written, err := store.Upsert(ctx, hourlyCandles("BTC-USD", start, 5))
	require.NoError(t, err)
	assert.Equal(t, 5, written)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientStore_ExhaustsRetryBudget(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failuresBefore: 10}
	store := newTestResilientStore(inner, 3, 10)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Upsert(ctx, hourlyCandles("BTC-USD", start, 5))
	require.Error(t, err)
	assert.Equal(t, 3, inner.calls)
}

func TestResilientStore_BreakerOpensAndFailsFast(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failuresBefore: 100}
	store := newTestResilientStore(inner, 2, 3)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := hourlyCandles("BTC-USD", start, 1)

	// Two cycles of two attempts each cross the three-failure threshold.
	_, err := store.Upsert(ctx, batch)
	require.Error(t, err)
	_, err = store.Upsert(ctx, batch)
	require.Error(t, err)
	assert.Equal(t, resilience.BreakerOpen, store.Breaker().State())

	// Fail-fast: the inner store is not touched while the circuit is open.
	callsBefore := inner.calls
	_, err = store.Upsert(ctx, batch)
	require.Error(t, err)
	assert.True(t, resilience.IsCircuitOpen(err))
	assert.Equal(t, callsBefore, inner.calls)
}

func TestResilientStore_BreakerRecoversAfterCooldown(t *testing.T) {
	inner := &flakyStore{MemoryStore: NewMemoryStore(), failuresBefore: 3}
	store := newTestResilientStore(inner, 1, 3)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	batch := hourlyCandles("BTC-USD", start, 2)

	for i := 0; i < 3; i++ {
		_, err := store.Upsert(ctx, batch)
		require.Error(t, err)
	}
	require.Equal(t, resilience.BreakerOpen, store.Breaker().State())

	time.Sleep(60 * time.Millisecond)

	// The probe after the cool-down succeeds and closes the circuit.
	written, err := store.Upsert(ctx, batch)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, resilience.BreakerClosed, store.Breaker().State())
}

func TestResilientStore_PermanentErrorsDoNotRetry(t *testing.T) {
	store := newTestResilientStore(NewMemoryStore(), 3, 3)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	bad := models.Candle{
		Symbol: "BTC-USD", Interval: models.Interval1h,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Open:      "not-a-number", High: "1", Low: "1", Close: "1", Volume: "1",
	}
	_, err := store.Upsert(ctx, []models.Candle{bad})
	require.Error(t, err)

	var ce *models.ConstraintError
	assert.ErrorAs(t, err, &ce)
	// Constraint violations say nothing about storage health.
	assert.Equal(t, resilience.BreakerClosed, store.Breaker().State())
}

func TestResilientStore_ReadsPassThrough(t *testing.T) {
	store := newTestResilientStore(NewMemoryStore(), 3, 3)
	ctx := context.Background()
	require.NoError(t, store.Initialize(ctx))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := store.Upsert(ctx, hourlyCandles("BTC-USD", start, 4))
	require.NoError(t, err)

	got, err := store.Query(ctx, "BTC-USD", models.Interval1h,
		models.TimeRange{Start: start, End: start.Add(3 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	latest, found, err := store.LatestTimestamp(ctx, "BTC-USD", models.Interval1h)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, latest.Equal(start.Add(3 * time.Hour)))
}
