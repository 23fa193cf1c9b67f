package validator

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfort/candle-ingest/internal/models"
)

func newTestValidator() *Continuity {
	return New(2.0, 0.8, nil)
}

func candleAt(ts time.Time) models.Candle {
	return models.Candle{
		Symbol:    "BTC-USD",
		Interval:  models.Interval1h,
		Timestamp: ts,
		Open:      "100", High: "110", Low: "90", Close: "105", Volume: "10",
	}
}

func hourlySeries(start time.Time, n int) []models.Candle {
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candleAt(start.Add(time.Duration(i)*time.Hour)))
	}
	return out
}

func TestValidate_EmptySeriesPasses(t *testing.T) {
	result := newTestValidator().Validate(nil, models.Interval1h)
	assert.Equal(t, StatusPass, result.Status)
}

func TestValidate_ContiguousSeriesPasses(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := newTestValidator().Validate(hourlySeries(start, 100), models.Interval1h)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, 100, result.Observed)
	assert.Equal(t, 100, result.Expected)
}

func TestValidate_DuplicateTimestampFails(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := hourlySeries(start, 10)
	series = append(series[:5], append([]models.Candle{candleAt(start.Add(4 * time.Hour))}, series[5:]...)...)

	result := newTestValidator().Validate(series, models.Interval1h)

	require.Equal(t, StatusFail, result.Status)
	assert.Equal(t, ReasonDuplicates, result.Reason)
	// Duplicates corrupt the whole extent.
	assert.True(t, result.CorruptedRange.Start.Equal(start))
	assert.True(t, result.CorruptedRange.End.Equal(start.Add(9*time.Hour)))
}

func TestValidate_GapTolerance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		skipHours  int // hours missing between the two halves
		wantStatus Status
	}{
		{name: "no gap", skipHours: 0, wantStatus: StatusPass},
		{name: "delta exactly at 2x tolerance", skipHours: 1, wantStatus: StatusPass},
		{name: "delta at 3x exceeds tolerance", skipHours: 2, wantStatus: StatusFail},
		{name: "wide gap", skipHours: 10, wantStatus: StatusFail},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			series := hourlySeries(start, 50)
			resume := start.Add(time.Duration(50+tt.skipHours) * time.Hour)
			series = append(series, hourlySeries(resume, 50)...)

			result := newTestValidator().Validate(series, models.Interval1h)
			assert.Equal(t, tt.wantStatus, result.Status)
			if tt.wantStatus == StatusFail {
				assert.Equal(t, ReasonGap, result.Reason)
			}
		})
	}
}

func TestValidate_GapCorruptedRangeSpansMissingCandles(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := hourlySeries(start, 10)
	// Resume 5 hours after the last candle: hours 10..13 are missing.
	resume := start.Add(14 * time.Hour)
	series = append(series, hourlySeries(resume, 10)...)

	result := newTestValidator().Validate(series, models.Interval1h)

	require.Equal(t, StatusFail, result.Status)
	require.Equal(t, ReasonGap, result.Reason)
	assert.True(t, result.CorruptedRange.Start.Equal(start.Add(10*time.Hour)),
		"corrupted range should start at the first missing candle, got %s", result.CorruptedRange.Start)
	assert.True(t, result.CorruptedRange.End.Equal(start.Add(13*time.Hour)),
		"corrupted range should end at the last missing candle, got %s", result.CorruptedRange.End)
}

func TestValidate_CoverageRatio(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// Drop individual candles so no single gap trips the gap check, then vary
	// how many are missing over a 100-slot extent.
	buildSparse := func(slots, keepEvery int, dropped int) []models.Candle {
		series := make([]models.Candle, 0, slots)
		removed := 0
		for i := 0; i < slots; i++ {
			// Keep the first and last slots so the extent is fixed; drop every
			// keepEvery-th interior slot until the target count is reached.
			if i != 0 && i != slots-1 && removed < dropped && i%keepEvery == 0 {
				removed++
				continue
			}
			series = append(series, candleAt(start.Add(time.Duration(i)*time.Hour)))
		}
		return series
	}

	t.Run("85 of 100 passes at 0.8", func(t *testing.T) {
		series := buildSparse(100, 6, 15)
		require.Len(t, series, 85)

		result := newTestValidator().Validate(series, models.Interval1h)
		assert.Equal(t, StatusPass, result.Status, result.String())
		assert.Equal(t, 100, result.Expected)
	})

	t.Run("70 of 100 fails at 0.8", func(t *testing.T) {
		series := buildSparse(100, 3, 30)
		require.Len(t, series, 70)

		result := newTestValidator().Validate(series, models.Interval1h)
		require.Equal(t, StatusFail, result.Status)
		assert.Equal(t, ReasonLowCoverage, result.Reason)
		assert.Equal(t, 70, result.Observed)
		assert.Equal(t, 100, result.Expected)
		// Low coverage corrupts the whole extent.
		assert.True(t, result.CorruptedRange.Start.Equal(start))
		assert.True(t, result.CorruptedRange.End.Equal(start.Add(99*time.Hour)))
	})

	t.Run("exactly at the minimum passes", func(t *testing.T) {
		series := buildSparse(100, 4, 20)
		require.Len(t, series, 80)

		result := newTestValidator().Validate(series, models.Interval1h)
		assert.Equal(t, StatusPass, result.Status, result.String())
	})
}

func TestValidate_ChecksRunInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// A series with both a duplicate and a wide gap reports the duplicate:
	// duplicate detection runs first.
	series := []models.Candle{
		candleAt(start),
		candleAt(start),
		candleAt(start.Add(20 * time.Hour)),
	}

	result := newTestValidator().Validate(series, models.Interval1h)
	require.Equal(t, StatusFail, result.Status)
	assert.Equal(t, ReasonDuplicates, result.Reason)
}

func TestValidate_SingleCandlePasses(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result := newTestValidator().Validate([]models.Candle{candleAt(start)}, models.Interval1h)

	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, 1, result.Observed)
	assert.Equal(t, 1, result.Expected)
}

func TestValidate_DailyInterval(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make([]models.Candle, 0, 31)
	for i := 0; i < 31; i++ {
		c := candleAt(start.Add(time.Duration(i) * 24 * time.Hour))
		c.Interval = models.Interval1d
		series = append(series, c)
	}

	result := newTestValidator().Validate(series, models.Interval1d)
	assert.Equal(t, StatusPass, result.Status)
	assert.Equal(t, 31, result.Expected)
}

func TestResult_String(t *testing.T) {
	pass := Result{Status: StatusPass, Observed: 10, Expected: 10}
	assert.Equal(t, "PASS (10/10 candles)", pass.String())

	fail := Result{Status: StatusFail, Reason: ReasonGap, Detail: "gap of 3h"}
	assert.Equal(t, fmt.Sprintf("FAIL %s: gap of 3h", ReasonGap), fail.String())
}
