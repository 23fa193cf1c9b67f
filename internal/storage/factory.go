package storage

import (
	"fmt"
	"log/slog"

	"github.com/quantfort/candle-ingest/internal/config"
	"github.com/quantfort/candle-ingest/internal/resilience"
)

// Open builds the configured backend and wraps its write path with the
// retry policy and circuit breaker from the configuration.
func Open(cfg *config.Config, log *slog.Logger) (*ResilientStore, error) {
	var (
		inner Store
		err   error
	)
	switch cfg.Storage.Type {
	case "memory":
		inner = NewMemoryStore()
	case "duckdb":
		inner, err = NewDuckDBStore(cfg.Storage.DatabaseURL, cfg.Storage.BatchSize, log)
	case "clickhouse":
		inner, err = NewClickHouseStore(cfg.Storage.DatabaseURL, cfg.Storage.BatchSize, cfg.Storage.MaxConns, log)
	default:
		err = fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
	if err != nil {
		return nil, err
	}

	breaker := resilience.NewCircuitBreaker("storage",
		cfg.Storage.CircuitBreakerFailureThreshold,
		cfg.CircuitCooldownDuration(),
		log)
	retry := resilience.NewRetryPolicy(cfg.Ingest.RetryAttempts, cfg.BackoffBaseDuration())

	return NewResilientStore(inner, retry, breaker, log), nil
}
