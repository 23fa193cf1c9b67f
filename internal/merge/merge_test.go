package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfort/candle-ingest/internal/models"
)

func candle(ts time.Time, close string) models.Candle {
	return models.Candle{
		Symbol:    "BTC-USD",
		Interval:  models.Interval1h,
		Timestamp: ts,
		Open:      "100", High: "110", Low: "90", Close: close, Volume: "1",
	}
}

func series(start time.Time, n int, close string) []models.Candle {
	out := make([]models.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, candle(start.Add(time.Duration(i)*time.Hour), close))
	}
	return out
}

func TestMerge_EmptyInputs(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := Merge(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	incoming := series(start, 5, "105")
	got, err = Merge(nil, incoming)
	require.NoError(t, err)
	assert.Equal(t, incoming, got)

	existing := series(start, 5, "105")
	got, err = Merge(existing, nil)
	require.NoError(t, err)
	assert.Equal(t, existing, got)
}

func TestMerge_IncomingWinsCollisions(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	existing := series(start, 10, "100")
	// Incoming overlaps the last 3 stored hours with corrected closes, then
	// extends 5 hours beyond.
	incoming := series(start.Add(7*time.Hour), 8, "999")

	got, err := Merge(existing, incoming)
	require.NoError(t, err)
	require.Len(t, got, 15)

	for i, c := range got {
		assert.True(t, c.Timestamp.Equal(start.Add(time.Duration(i)*time.Hour)))
		if i < 7 {
			assert.Equal(t, "100", c.Close, "hour %d should keep the stored candle", i)
		} else {
			assert.Equal(t, "999", c.Close, "hour %d should take the incoming candle", i)
		}
	}
}

func TestMerge_SortsUnorderedInput(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	incoming := []models.Candle{
		candle(start.Add(3*time.Hour), "3"),
		candle(start, "0"),
		candle(start.Add(1*time.Hour), "1"),
		candle(start.Add(2*time.Hour), "2"),
	}

	got, err := Merge(nil, incoming)
	require.NoError(t, err)
	require.Len(t, got, 4)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].Timestamp.Before(got[i].Timestamp))
	}
}

func TestMerge_DuplicatesWithinIncomingCollapse(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	// The same timestamp twice in incoming: last occurrence wins, the merged
	// series still has one candle per slot.
	incoming := []models.Candle{
		candle(start, "100"),
		candle(start.Add(time.Hour), "1"),
		candle(start, "200"),
	}

	got, err := Merge(nil, incoming)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "200", got[0].Close)
}

func TestMerge_NormalizesTimezones(t *testing.T) {
	utc := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))

	// The same instant expressed in two zones is one candle, not two.
	got, err := Merge(
		[]models.Candle{candle(utc, "100")},
		[]models.Candle{candle(est, "200")},
	)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "200", got[0].Close)
	assert.True(t, got[0].Timestamp.Equal(utc))
}

func TestMerge_DisjointRanges(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	existing := series(start, 5, "100")
	incoming := series(start.Add(10*time.Hour), 5, "200")

	got, err := Merge(existing, incoming)
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.True(t, got[0].Timestamp.Equal(start))
	assert.True(t, got[9].Timestamp.Equal(start.Add(14*time.Hour)))
}
