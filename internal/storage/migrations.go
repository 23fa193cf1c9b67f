package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// migration is one versioned, idempotent schema step.
type migration struct {
	Version     int
	Description string
	Statements  []string
}

// duckdbMigrations is the embedded backend's schema history. The composite
// primary key carries the natural-key constraint; the index matches the
// dominant query shape.
var duckdbMigrations = []migration{
	{
		Version:     1,
		Description: "candles table with natural key and OHLC constraints",
		Statements: []string{`
			CREATE TABLE IF NOT EXISTS candles (
				symbol       VARCHAR NOT NULL,
				interval     VARCHAR NOT NULL,
				timestamp    TIMESTAMPTZ NOT NULL,
				open         VARCHAR NOT NULL,
				high         VARCHAR NOT NULL,
				low          VARCHAR NOT NULL,
				close        VARCHAR NOT NULL,
				volume       VARCHAR NOT NULL,
				quote_volume VARCHAR,
				trade_count  BIGINT NOT NULL DEFAULT 0,
				created_at   TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
				CONSTRAINT candles_pk PRIMARY KEY (symbol, interval, timestamp)
			)`,
		},
	},
	{
		Version:     2,
		Description: "composite index on the dominant query shape",
		Statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval_ts ON candles (symbol, interval, timestamp)`,
		},
	},
}

// runMigrations applies every migration newer than the recorded schema
// version, each in its own transaction.
func runMigrations(ctx context.Context, db *sql.DB, migrations []migration, log *slog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			description VARCHAR NOT NULL,
			applied_at  TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT max(version) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if current.Valid && int64(m.Version) <= current.Int64 {
			continue
		}

		start := time.Now()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", m.Version, err)
		}
		applied := func() error {
			for _, stmt := range m.Statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("exec: %w", err)
				}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, description) VALUES (?, ?)`,
				m.Version, m.Description); err != nil {
				return fmt.Errorf("record: %w", err)
			}
			return tx.Commit()
		}()
		if applied != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, applied)
		}

		if log != nil {
			log.Info("applied schema migration",
				"version", m.Version,
				"description", m.Description,
				"duration", time.Since(start))
		}
	}
	return nil
}
