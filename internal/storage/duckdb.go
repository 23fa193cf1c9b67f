package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/quantfort/candle-ingest/internal/models"
)

// DuckDBStore is the embedded single-node backend. The natural key is a
// composite primary key and writes go through INSERT OR IGNORE in bounded
// batches, so conflicts skip rather than fail the batch. DuckDB favors a
// single writer; the pool is capped accordingly.
type DuckDBStore struct {
	db        *sql.DB
	dbPath    string
	batchSize int
	log       *slog.Logger
}

// NewDuckDBStore opens (or creates) a DuckDB database at dbPath. Use
// ":memory:" for an ephemeral database.
func NewDuckDBStore(dbPath string, batchSize int, log *slog.Logger) (*DuckDBStore, error) {
	if log == nil {
		log = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 1000
	}

	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, opError("open", "", fmt.Errorf("open duckdb: %w", err))
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	return &DuckDBStore{
		db:        db,
		dbPath:    dbPath,
		batchSize: batchSize,
		log:       log,
	}, nil
}

// Initialize implements Manager. Applies all pending schema migrations.
func (d *DuckDBStore) Initialize(ctx context.Context) error {
	d.log.Info("initializing duckdb storage", "db_path", d.dbPath)
	if err := runMigrations(ctx, d.db, duckdbMigrations, d.log); err != nil {
		return opError("initialize", "candles", err)
	}
	return nil
}

// Close implements Manager.
func (d *DuckDBStore) Close() error {
	return d.db.Close()
}

// Upsert implements CandleWriter. Each batch is one transaction; a batch
// once started runs to completion or fails as a unit, never partially.
func (d *DuckDBStore) Upsert(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	if err := validateAll(candles); err != nil {
		return 0, err
	}

	written := 0
	for start := 0; start < len(candles); start += d.batchSize {
		end := start + d.batchSize
		if end > len(candles) {
			end = len(candles)
		}
		n, err := d.upsertBatch(ctx, candles[start:end])
		if err != nil {
			return written, opError("upsert", "candles", err)
		}
		written += n
	}
	return written, nil
}

func (d *DuckDBStore) upsertBatch(ctx context.Context, batch []models.Candle) (int, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO candles
			(symbol, interval, timestamp, open, high, low, close, volume, quote_volume, trade_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, c := range batch {
		res, err := stmt.ExecContext(ctx,
			c.Symbol, string(c.Interval), c.Timestamp.UTC(),
			c.Open, c.High, c.Low, c.Close, c.Volume,
			nullableString(c.QuoteVolume), c.TradeCount)
		if err != nil {
			return 0, fmt.Errorf("insert %s: %w", c.Key().Timestamp.Format(time.RFC3339), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			written += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// Query implements CandleReader.
func (d *DuckDBStore) Query(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) ([]models.Candle, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT symbol, interval, timestamp, open, high, low, close, volume, quote_volume, trade_count
		FROM candles
		WHERE symbol = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC`,
		symbol, string(interval), r.Start.UTC(), r.End.UTC())
	if err != nil {
		return nil, opError("query", "candles", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// LatestTimestamp implements CandleReader.
func (d *DuckDBStore) LatestTimestamp(ctx context.Context, symbol string, interval models.Interval) (time.Time, bool, error) {
	var ts sql.NullTime
	err := d.db.QueryRowContext(ctx,
		`SELECT max(timestamp) FROM candles WHERE symbol = ? AND interval = ?`,
		symbol, string(interval)).Scan(&ts)
	if err != nil {
		return time.Time{}, false, opError("latest", "candles", err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return ts.Time.UTC(), true, nil
}

// Purge implements CandleWriter.
func (d *DuckDBStore) Purge(ctx context.Context, symbol string, interval models.Interval, r models.TimeRange) (int, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM candles WHERE symbol = ? AND interval = ? AND timestamp >= ? AND timestamp <= ?`,
		symbol, string(interval), r.Start.UTC(), r.End.UTC())
	if err != nil {
		return 0, opError("purge", "candles", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, opError("purge", "candles", err)
	}
	d.log.Warn("purged candle range",
		"symbol", symbol,
		"interval", interval.String(),
		"range", r.String(),
		"rows_removed", removed)
	return int(removed), nil
}

// Stats implements Manager.
func (d *DuckDBStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	var earliest, latest sql.NullTime
	err := d.db.QueryRowContext(ctx, `
		SELECT count(*), count(DISTINCT symbol), min(timestamp), max(timestamp) FROM candles`).
		Scan(&stats.TotalCandles, &stats.TotalSymbols, &earliest, &latest)
	if err != nil {
		return nil, opError("stats", "candles", err)
	}
	if earliest.Valid {
		stats.EarliestData = earliest.Time.UTC()
	}
	if latest.Valid {
		stats.LatestData = latest.Time.UTC()
	}
	return stats, nil
}

// HealthCheck implements Manager.
func (d *DuckDBStore) HealthCheck(ctx context.Context) error {
	if err := d.db.PingContext(ctx); err != nil {
		return opError("health", "", err)
	}
	return nil
}

func scanCandles(rows *sql.Rows) ([]models.Candle, error) {
	var out []models.Candle
	for rows.Next() {
		var (
			c           models.Candle
			interval    string
			quoteVolume sql.NullString
		)
		if err := rows.Scan(&c.Symbol, &interval, &c.Timestamp,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume,
			&quoteVolume, &c.TradeCount); err != nil {
			return nil, opError("query", "candles", fmt.Errorf("scan: %w", err))
		}
		c.Interval = models.Interval(interval)
		c.Timestamp = c.Timestamp.UTC()
		if quoteVolume.Valid {
			c.QuoteVolume = quoteVolume.String
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, opError("query", "candles", err)
	}
	return out, nil
}

func nullableString(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
