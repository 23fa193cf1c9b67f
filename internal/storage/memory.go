package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
)

// MemoryStore is the in-memory storage backend used by tests and local
// development. It implements the full Store contract, including the
// insert-or-skip conflict semantics of the SQL backends, behind a single
// RWMutex.
type MemoryStore struct {
	mu sync.RWMutex

	// symbol -> interval -> timestamp -> candle
	candles map[string]map[models.Interval]map[time.Time]models.Candle

	initialized bool
	closed      bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		candles: make(map[string]map[models.Interval]map[time.Time]models.Candle),
	}
}

// Initialize implements Manager.
func (m *MemoryStore) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return opError("initialize", "", errors.New("store is closed"))
	}
	m.initialized = true
	return nil
}

// Close implements Manager.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Upsert implements CandleWriter. Conflicting timestamps are skipped, not
// overwritten, matching ON CONFLICT DO NOTHING in the SQL backends.
func (m *MemoryStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, opError("upsert", "candles", err)
	}
	if len(candles) == 0 {
		return 0, nil
	}
	if err := validateAll(candles); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, opError("upsert", "candles", errors.New("store is closed"))
	}

	written := 0
	for _, c := range candles {
		bySymbol := m.candles[c.Symbol]
		if bySymbol == nil {
			bySymbol = make(map[models.Interval]map[time.Time]models.Candle)
			m.candles[c.Symbol] = bySymbol
		}
		byInterval := bySymbol[c.Interval]
		if byInterval == nil {
			byInterval = make(map[time.Time]models.Candle)
			bySymbol[c.Interval] = byInterval
		}

		ts := c.Timestamp.UTC()
		if _, exists := byInterval[ts]; exists {
			continue
		}
		c.Timestamp = ts
		byInterval[ts] = c
		written++
	}
	return written, nil
}

// Query implements CandleReader.
func (m *MemoryStore) Query(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) ([]models.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, opError("query", "candles", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, opError("query", "candles", errors.New("store is closed"))
	}

	byInterval := m.candles[symbol][interval]
	out := make([]models.Candle, 0, len(byInterval))
	for ts, c := range byInterval {
		if r.Contains(ts) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// LatestTimestamp implements CandleReader.
func (m *MemoryStore) LatestTimestamp(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, opError("latest", "candles", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return time.Time{}, false, opError("latest", "candles", errors.New("store is closed"))
	}

	var latest time.Time
	found := false
	for ts := range m.candles[symbol][interval] {
		if !found || ts.After(latest) {
			latest = ts
			found = true
		}
	}
	return latest, found, nil
}

// Purge implements CandleWriter.
func (m *MemoryStore) Purge(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, opError("purge", "candles", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, opError("purge", "candles", errors.New("store is closed"))
	}

	byInterval := m.candles[symbol][interval]
	removed := 0
	for ts := range byInterval {
		if r.Contains(ts) {
			delete(byInterval, ts)
			removed++
		}
	}
	return removed, nil
}

// Stats implements Manager.
func (m *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalSymbols: len(m.candles)}
	for _, bySymbol := range m.candles {
		for _, byInterval := range bySymbol {
			for ts := range byInterval {
				stats.TotalCandles++
				if stats.EarliestData.IsZero() || ts.Before(stats.EarliestData) {
					stats.EarliestData = ts
				}
				if ts.After(stats.LatestData) {
					stats.LatestData = ts
				}
			}
		}
	}
	return stats, nil
}

// HealthCheck implements Manager.
func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return opError("health", "", errors.New("store is closed"))
	}
	return nil
}
