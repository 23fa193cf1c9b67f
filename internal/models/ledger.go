package models

import "time"

// LedgerEntry is the derived fetch-ledger record for one (symbol, interval)
// unit: the latest persisted timestamp plus a coverage ratio over a recent
// window. It is recomputed from the underlying candles on every ingestion
// cycle and has no lifecycle of its own.
type LedgerEntry struct {
	Symbol          string    `json:"symbol"`
	Interval        Interval  `json:"interval"`
	LatestTimestamp time.Time `json:"latest_timestamp"`
	HasData         bool      `json:"has_data"`

	// CoverageRatio is observed/expected candles over CoverageWindow
	// ending at LatestTimestamp. Zero when HasData is false.
	CoverageRatio  float64   `json:"coverage_ratio"`
	CoverageWindow TimeRange `json:"coverage_window"`

	RefreshedAt time.Time `json:"refreshed_at"`
}

// NewLedgerEntry derives a ledger entry from an ascending stored series over
// the given window. An empty series yields an entry with HasData false.
func NewLedgerEntry(symbol string, interval Interval, window TimeRange, series []Candle) LedgerEntry {
	entry := LedgerEntry{
		Symbol:         symbol,
		Interval:       interval,
		CoverageWindow: window,
		RefreshedAt:    time.Now().UTC(),
	}
	if len(series) == 0 {
		return entry
	}

	entry.HasData = true
	entry.LatestTimestamp = series[len(series)-1].Timestamp.UTC()

	expected := interval.ExpectedCount(interval.Align(window.Start), interval.Align(window.End))
	if expected > 0 {
		observed := 0
		for _, c := range series {
			if window.Contains(c.Timestamp) {
				observed++
			}
		}
		entry.CoverageRatio = float64(observed) / float64(expected)
	}
	return entry
}
