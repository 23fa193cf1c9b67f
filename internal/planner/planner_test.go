package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/storage"
)

func seedStore(t *testing.T, symbol string, start time.Time, hours int) *storage.MemoryStore {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Initialize(context.Background()))

	candles := make([]models.Candle, 0, hours)
	for i := 0; i < hours; i++ {
		candles = append(candles, models.Candle{
			Symbol:    symbol,
			Interval:  models.Interval1h,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      "100", High: "110", Low: "90", Close: "105", Volume: "1",
		})
	}
	if hours > 0 {
		_, err := store.Upsert(context.Background(), candles)
		require.NoError(t, err)
	}
	return store
}

func TestPlan_NoStoredDataFetchesFullRange(t *testing.T) {
	store := seedStore(t, "BTC-USD", time.Time{}, 0)
	p := New(store, 15, nil)

	reqStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reqEnd := time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)

	plan, err := p.Plan(context.Background(), "BTC-USD", models.Interval1h, reqStart, reqEnd)
	require.NoError(t, err)

	assert.Equal(t, DecisionFullRange, plan.Decision)
	assert.True(t, plan.Window.Start.Equal(reqStart))
	assert.True(t, plan.Window.End.Equal(reqEnd))
}

func TestPlan_StoredFrontierAtOrPastEndSkips(t *testing.T) {
	reqStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reqEnd := reqStart.Add(99 * time.Hour)

	t.Run("frontier exactly at requested end", func(t *testing.T) {
		store := seedStore(t, "BTC-USD", reqStart, 100) // latest == reqEnd
		p := New(store, 15, nil)

		plan, err := p.Plan(context.Background(), "BTC-USD", models.Interval1h, reqStart, reqEnd)
		require.NoError(t, err)
		assert.Equal(t, DecisionSkip, plan.Decision)
		assert.True(t, plan.Window.IsZero())
	})

	t.Run("frontier past requested end", func(t *testing.T) {
		store := seedStore(t, "BTC-USD", reqStart, 150)
		p := New(store, 15, nil)

		plan, err := p.Plan(context.Background(), "BTC-USD", models.Interval1h, reqStart, reqEnd)
		require.NoError(t, err)
		assert.Equal(t, DecisionSkip, plan.Decision)
	})
}

func TestPlan_IncrementalStartsInsideOverlap(t *testing.T) {
	reqStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reqEnd := reqStart.Add(199 * time.Hour)

	// Stored through hour 99; with a 15-candle overlap the fetch starts at
	// hour 84.
	store := seedStore(t, "BTC-USD", reqStart, 100)
	p := New(store, 15, nil)

	plan, err := p.Plan(context.Background(), "BTC-USD", models.Interval1h, reqStart, reqEnd)
	require.NoError(t, err)

	assert.Equal(t, DecisionIncremental, plan.Decision)
	assert.True(t, plan.Window.Start.Equal(reqStart.Add(84*time.Hour)),
		"window start should be latest minus overlap, got %s", plan.Window.Start)
	assert.True(t, plan.Window.End.Equal(reqEnd))
}

func TestPlan_OverlapClampedToRequestedStart(t *testing.T) {
	reqStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	reqEnd := reqStart.Add(99 * time.Hour)

	// Only 5 candles stored: latest minus 15 candles lands before reqStart.
	store := seedStore(t, "BTC-USD", reqStart, 5)
	p := New(store, 15, nil)

	plan, err := p.Plan(context.Background(), "BTC-USD", models.Interval1h, reqStart, reqEnd)
	require.NoError(t, err)

	assert.Equal(t, DecisionIncremental, plan.Decision)
	assert.True(t, plan.Window.Start.Equal(reqStart))
	assert.True(t, plan.Window.End.Equal(reqEnd))
}

func TestPlan_RejectsInvalidRanges(t *testing.T) {
	store := seedStore(t, "BTC-USD", time.Time{}, 0)
	p := New(store, 15, nil)
	aligned := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Plan(context.Background(), "BTC-USD", models.Interval1h, aligned, aligned.Add(-time.Hour))
	assert.Error(t, err, "end before start")

	_, err = p.Plan(context.Background(), "BTC-USD", models.Interval1h, aligned.Add(30*time.Minute), aligned.Add(5*time.Hour))
	assert.Error(t, err, "misaligned start")
}

func TestPlan_OverlapScalesWithInterval(t *testing.T) {
	reqStart := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := storage.NewMemoryStore()
	require.NoError(t, store.Initialize(context.Background()))

	// Daily series stored through Jan 20.
	candles := make([]models.Candle, 0, 20)
	for i := 0; i < 20; i++ {
		candles = append(candles, models.Candle{
			Symbol:    "ETH-USD",
			Interval:  models.Interval1d,
			Timestamp: reqStart.Add(time.Duration(i) * 24 * time.Hour),
			Open:      "100", High: "110", Low: "90", Close: "105", Volume: "1",
		})
	}
	_, err := store.Upsert(context.Background(), candles)
	require.NoError(t, err)

	p := New(store, 15, nil)
	reqEnd := reqStart.Add(59 * 24 * time.Hour)

	plan, err := p.Plan(context.Background(), "ETH-USD", models.Interval1d, reqStart, reqEnd)
	require.NoError(t, err)

	// Latest is day 19; overlap of 15 daily candles puts the start at day 4.
	assert.Equal(t, DecisionIncremental, plan.Decision)
	assert.True(t, plan.Window.Start.Equal(reqStart.Add(4*24*time.Hour)))
}
