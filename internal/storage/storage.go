// Package storage defines the candle storage engine: interfaces, the
// in-memory backend used by tests, the embedded DuckDB backend, and the
// partitioned ClickHouse backend. All backends enforce the
// (symbol, interval, timestamp) natural key with insert-or-skip semantics so
// overlapping writes are idempotent, and Query is the sole read contract
// exposed to downstream consumers.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
)

// CandleWriter is the write half of the storage engine.
type CandleWriter interface {
	// Upsert persists the candles and returns the number of rows actually
	// written. A natural-key conflict means a row from an earlier cycle
	// already holds that bucket; the incoming record is silently skipped
	// (the merge engine resolves freshness before this call). Safe to call
	// repeatedly with overlapping input.
	Upsert(ctx context.Context, candles []models.Candle) (int, error)

	// Purge hard-deletes the inclusive range and returns the number of rows
	// removed. Used only after a continuity validation failure; normal
	// ingestion never destroys records.
	Purge(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) (int, error)
}

// CandleReader is the read half of the storage engine.
type CandleReader interface {
	// Query returns the candles in the inclusive range, ascending by
	// timestamp, without duplicates.
	Query(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) ([]models.Candle, error)

	// LatestTimestamp returns the newest persisted bucket start for the
	// unit. The boolean is false when no data exists.
	LatestTimestamp(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error)
}

// Manager covers lifecycle and operational concerns.
type Manager interface {
	// Initialize prepares the backend: schema, partitions, indexes.
	// Idempotent.
	Initialize(ctx context.Context) error

	// Close releases connections and flushes pending work.
	Close() error

	// Stats returns data-volume statistics for monitoring.
	Stats(ctx context.Context) (*Stats, error)

	// HealthCheck verifies connectivity with a lightweight probe.
	HealthCheck(ctx context.Context) error
}

// Store is the full storage engine contract.
type Store interface {
	CandleWriter
	CandleReader
	Manager
}

// Stats summarizes stored data volume.
type Stats struct {
	TotalCandles int64
	TotalSymbols int
	EarliestData time.Time
	LatestData   time.Time
}

// Error reports a failed storage operation with enough context to audit it.
type Error struct {
	Op    string
	Table string
	Err   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("storage %s on %s: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error { return e.Err }

func opError(op, table string, err error) *Error {
	return &Error{Op: op, Table: table, Err: err}
}

// validateAll rejects malformed candles before they reach a backend.
// Constraint violations are never coerced.
func validateAll(candles []models.Candle) error {
	for i := range candles {
		if err := candles[i].Validate(); err != nil {
			return opError("upsert", "candles", fmt.Errorf("candle %d: %w", i, err))
		}
	}
	return nil
}
