// Package merge combines an overlap re-read of stored candles with freshly
// fetched ones into a single series ready for persistence. The exchange is
// the source of truth: on a timestamp collision the incoming candle replaces
// the stored one, which is how late corrections inside the overlap window
// propagate into storage.
package merge

import (
	"fmt"
	"sort"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
)

// Merge deduplicates existing and incoming candles by timestamp, incoming
// winning every collision, and returns the combined series sorted ascending.
// The result is checked for strict timestamp monotonicity before it is
// returned; a violation means a merge bug and fails loudly rather than
// letting a corrupt batch reach storage. Either input may be empty.
func Merge(existing, incoming []models.Candle) ([]models.Candle, error) {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil, nil
	}

	byTimestamp := make(map[time.Time]models.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byTimestamp[c.Timestamp.UTC()] = c
	}
	for _, c := range incoming {
		byTimestamp[c.Timestamp.UTC()] = c
	}

	out := make([]models.Candle, 0, len(byTimestamp))
	for ts, c := range byTimestamp {
		c.Timestamp = ts
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})

	for i := 1; i < len(out); i++ {
		if !out[i].Timestamp.After(out[i-1].Timestamp) {
			return nil, fmt.Errorf("merge produced non-monotonic series at %s",
				out[i].Timestamp.Format(time.RFC3339))
		}
	}
	return out, nil
}
