// Package models provides the core data structures for the candle ingestion
// pipeline: OHLCV candle records, the interval enumeration, and the derived
// fetch ledger. Prices and volumes are carried as decimal strings and parsed
// with shopspring/decimal; market data never passes through binary floats.
package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Candle represents one OHLCV observation for a symbol at a fixed interval.
// Timestamp marks the bucket start in UTC and must be aligned to an exact
// multiple of the interval duration since the Unix epoch.
type Candle struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Interval  Interval  `json:"interval" db:"interval"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
	Open      string    `json:"open" db:"open"`
	High      string    `json:"high" db:"high"`
	Low       string    `json:"low" db:"low"`
	Close     string    `json:"close" db:"close"`
	Volume    string    `json:"volume" db:"volume"`

	// Secondary fields carried opaquely from the fetcher; never validated
	// or interpreted by the core.
	QuoteVolume string `json:"quote_volume,omitempty" db:"quote_volume"`
	TradeCount  int64  `json:"trade_count,omitempty" db:"trade_count"`
}

// ConstraintError reports a malformed candle that must be rejected before it
// reaches the storage engine. It names the offending field so the drop can be
// audited from logs.
type ConstraintError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConstraintError) Error() string {
	return fmt.Sprintf("candle constraint violation on %s: %s", e.Field, e.Message)
}

// Validate checks every persisted-record invariant: non-empty symbol, known
// interval, boundary-aligned timestamp, positive prices, non-negative volume,
// and OHLC legality (high >= max(open, close), low <= min(open, close)).
// Malformed candles are rejected, never coerced.
func (c *Candle) Validate() error {
	if c.Symbol == "" {
		return &ConstraintError{Field: "symbol", Message: "symbol cannot be empty"}
	}
	if !c.Interval.Valid() {
		return &ConstraintError{Field: "interval", Message: fmt.Sprintf("unknown interval %q", string(c.Interval))}
	}
	if c.Timestamp.IsZero() {
		return &ConstraintError{Field: "timestamp", Message: "timestamp cannot be zero"}
	}
	if !c.Interval.IsAligned(c.Timestamp) {
		return &ConstraintError{
			Field:   "timestamp",
			Message: fmt.Sprintf("%s is not aligned to the %s boundary", c.Timestamp.Format(time.RFC3339), c.Interval),
		}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ConstraintError{Field: "open", Message: fmt.Sprintf("invalid decimal: %v", err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ConstraintError{Field: "high", Message: fmt.Sprintf("invalid decimal: %v", err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ConstraintError{Field: "low", Message: fmt.Sprintf("invalid decimal: %v", err)}
	}
	closePrice, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ConstraintError{Field: "close", Message: fmt.Sprintf("invalid decimal: %v", err)}
	}
	volume, err := decimal.NewFromString(c.Volume)
	if err != nil {
		return &ConstraintError{Field: "volume", Message: fmt.Sprintf("invalid decimal: %v", err)}
	}

	for _, p := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"open", open}, {"high", high}, {"low", low}, {"close", closePrice},
	} {
		if p.value.LessThanOrEqual(decimal.Zero) {
			return &ConstraintError{Field: p.name, Message: "price must be greater than 0"}
		}
	}
	if volume.IsNegative() {
		return &ConstraintError{Field: "volume", Message: "volume cannot be negative"}
	}

	if maxOC := decimal.Max(open, closePrice); high.LessThan(maxOC) {
		return &ConstraintError{
			Field:   "high",
			Message: fmt.Sprintf("high (%s) below max(open, close) (%s)", high, maxOC),
		}
	}
	if minOC := decimal.Min(open, closePrice); low.GreaterThan(minOC) {
		return &ConstraintError{
			Field:   "low",
			Message: fmt.Sprintf("low (%s) above min(open, close) (%s)", low, minOC),
		}
	}

	return nil
}

// OpenDecimal returns the open price as a decimal.Decimal.
func (c *Candle) OpenDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Open)
}

// HighDecimal returns the high price as a decimal.Decimal.
func (c *Candle) HighDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.High)
}

// LowDecimal returns the low price as a decimal.Decimal.
func (c *Candle) LowDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Low)
}

// CloseDecimal returns the close price as a decimal.Decimal.
func (c *Candle) CloseDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Close)
}

// VolumeDecimal returns the volume as a decimal.Decimal.
func (c *Candle) VolumeDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(c.Volume)
}

// Key returns the natural key of the candle. No two persisted records may
// share it.
func (c *Candle) Key() CandleKey {
	return CandleKey{Symbol: c.Symbol, Interval: c.Interval, Timestamp: c.Timestamp.UTC()}
}

// String implements fmt.Stringer for log output.
func (c *Candle) String() string {
	return fmt.Sprintf("Candle{%s %s %s O:%s H:%s L:%s C:%s V:%s}",
		c.Symbol, c.Interval, c.Timestamp.Format(time.RFC3339), c.Open, c.High, c.Low, c.Close, c.Volume)
}

// CandleKey is the (symbol, interval, timestamp) natural key.
type CandleKey struct {
	Symbol    string
	Interval  Interval
	Timestamp time.Time
}

// NewCandle builds and validates a candle. Price and volume values are
// decimal strings; timestamp is the bucket start.
func NewCandle(symbol string, interval Interval, timestamp time.Time, open, high, low, closePrice, volume string) (*Candle, error) {
	c := &Candle{
		Symbol:    symbol,
		Interval:  interval,
		Timestamp: timestamp.UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// TimeRange is an inclusive [Start, End] pair used for fetch windows, purges,
// and corrupted-range reporting.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range, bounds included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// IsZero reports whether the range is unset.
func (r TimeRange) IsZero() bool {
	return r.Start.IsZero() && r.End.IsZero()
}

// String implements fmt.Stringer.
func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start.Format(time.RFC3339), r.End.Format(time.RFC3339))
}
