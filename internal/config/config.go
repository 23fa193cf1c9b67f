// Package config provides configuration loading and validation for the
// candle ingestion pipeline. Values are resolved in priority order:
// environment variables override the JSON config file, which overrides
// built-in defaults. Validation failures are fatal at startup; the pipeline
// never runs with a degraded configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/quantfort/candle-ingest/internal/models"
)

// Config is the complete configuration surface consumed by the pipeline.
type Config struct {
	// Symbols and Intervals enumerate the (symbol, interval) units the run
	// will ingest. Every interval must come from the supported set.
	Symbols   []string `json:"symbols" validate:"required,min=1,dive,required"`
	Intervals []string `json:"intervals" validate:"required,min=1"`

	Ingest  IngestConfig  `json:"ingest"`
	Storage StorageConfig `json:"storage"`
	Fetcher FetcherConfig `json:"fetcher"`
	Logging LoggingConfig `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
}

// IngestConfig holds the tunables of the planning, validation, and
// persistence core.
type IngestConfig struct {
	// OverlapCandles is the incremental-fetch safety margin, expressed as a
	// number of candles re-fetched behind the latest persisted timestamp to
	// absorb revisions to the still-forming candle.
	OverlapCandles int `json:"overlap_candles" validate:"gte=0"`

	// GapToleranceMultiplier scales the interval duration when deciding
	// whether a delta between consecutive candles is a gap.
	GapToleranceMultiplier float64 `json:"gap_tolerance_multiplier" validate:"gte=1"`

	// MinCoverageRatio is the observed/expected threshold below which a
	// stored series fails continuity validation.
	MinCoverageRatio float64 `json:"min_coverage_ratio" validate:"gt=0,lte=1"`

	// CoverageWindowCandles sizes the recent window used when deriving the
	// fetch-ledger coverage ratio.
	CoverageWindowCandles int `json:"coverage_window_candles" validate:"gt=0"`

	RetryAttempts int    `json:"retry_attempts" validate:"gte=1"`
	BackoffBase   string `json:"backoff_base" validate:"required"`

	WorkerCount  int    `json:"worker_count" validate:"gte=1"`
	FetchTimeout string `json:"fetch_timeout" validate:"required"`
}

// StorageConfig selects and tunes the storage backend.
type StorageConfig struct {
	Type        string `json:"type" validate:"required,oneof=memory duckdb clickhouse"`
	DatabaseURL string `json:"database_url"`
	BatchSize   int    `json:"batch_size" validate:"gte=1"`
	MaxConns    int    `json:"max_conns" validate:"gte=1"`

	CircuitBreakerFailureThreshold int    `json:"circuit_breaker_failure_threshold" validate:"gte=1"`
	CircuitBreakerCooldown         string `json:"circuit_breaker_cooldown" validate:"required"`
}

// FetcherConfig tunes the external data fetcher wrapper. The fetcher itself
// (authentication, pagination) is out of scope; only politeness knobs live
// here.
type FetcherConfig struct {
	RateLimitPerSec int `json:"rate_limit_per_sec" validate:"gte=1"`
	PageLimit       int `json:"page_limit" validate:"gte=1"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level      string `json:"level" validate:"oneof=debug info warn error"`
	Format     string `json:"format" validate:"oneof=json text"`
	Output     string `json:"output" validate:"oneof=stdout stderr file"`
	FilePath   string `json:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
	Compress   bool   `json:"compress"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Default returns the built-in defaults documented in the configuration
// surface. Gap tolerance and coverage thresholds are asserted defaults, not
// empirically derived; they are deliberately configurable.
func Default() *Config {
	return &Config{
		Symbols:   []string{"BTC-USD"},
		Intervals: []string{"1h"},
		Ingest: IngestConfig{
			OverlapCandles:         15,
			GapToleranceMultiplier: 2.0,
			MinCoverageRatio:       0.8,
			CoverageWindowCandles:  100,
			RetryAttempts:          3,
			BackoffBase:            "5s",
			WorkerCount:            4,
			FetchTimeout:           "30s",
		},
		Storage: StorageConfig{
			Type:                           "memory",
			BatchSize:                      1000,
			MaxConns:                       4,
			CircuitBreakerFailureThreshold: 5,
			CircuitBreakerCooldown:         "30s",
		},
		Fetcher: FetcherConfig{
			RateLimitPerSec: 10,
			PageLimit:       1000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// Load resolves the configuration from defaults, an optional JSON file, and
// environment overrides, then validates it. Any violation is returned as an
// error and must abort the run.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	loadEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("INGEST_SYMBOLS"); v != "" {
		cfg.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("INGEST_INTERVALS"); v != "" {
		cfg.Intervals = strings.Split(v, ",")
	}
	if v := os.Getenv("STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v, ok := envInt("BATCH_SIZE"); ok {
		cfg.Storage.BatchSize = v
	}
	if v, ok := envInt("MAX_CONNS"); ok {
		cfg.Storage.MaxConns = v
	}
	if v, ok := envInt("OVERLAP_CANDLES"); ok {
		cfg.Ingest.OverlapCandles = v
	}
	if v, ok := envFloat("GAP_TOLERANCE_MULTIPLIER"); ok {
		cfg.Ingest.GapToleranceMultiplier = v
	}
	if v, ok := envFloat("MIN_COVERAGE_RATIO"); ok {
		cfg.Ingest.MinCoverageRatio = v
	}
	if v, ok := envInt("RETRY_ATTEMPTS"); ok {
		cfg.Ingest.RetryAttempts = v
	}
	if v := os.Getenv("BACKOFF_BASE"); v != "" {
		cfg.Ingest.BackoffBase = v
	}
	if v, ok := envInt("WORKER_COUNT"); ok {
		cfg.Ingest.WorkerCount = v
	}
	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		cfg.Ingest.FetchTimeout = v
	}
	if v, ok := envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD"); ok {
		cfg.Storage.CircuitBreakerFailureThreshold = v
	}
	if v := os.Getenv("CIRCUIT_BREAKER_COOLDOWN"); v != "" {
		cfg.Storage.CircuitBreakerCooldown = v
	}
	if v, ok := envInt("RATE_LIMIT_PER_SEC"); ok {
		cfg.Fetcher.RateLimitPerSec = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("LOG_FILE_PATH"); v != "" {
		cfg.Logging.FilePath = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true"
	}
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express: interval membership, duration syntax, and the
// file-output requirement.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	for _, iv := range c.Intervals {
		if _, err := models.ParseInterval(iv); err != nil {
			return fmt.Errorf("configuration invalid: %w", err)
		}
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"ingest.backoff_base", c.Ingest.BackoffBase},
		{"ingest.fetch_timeout", c.Ingest.FetchTimeout},
		{"storage.circuit_breaker_cooldown", c.Storage.CircuitBreakerCooldown},
	} {
		if _, err := time.ParseDuration(field.value); err != nil {
			return fmt.Errorf("configuration invalid: %s: %w", field.name, err)
		}
	}
	if c.Storage.Type != "memory" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("configuration invalid: storage.database_url is required for %s storage", c.Storage.Type)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("configuration invalid: logging.file_path is required for file output")
	}
	return nil
}

// ParsedIntervals returns the typed interval set. Validate must have
// succeeded first.
func (c *Config) ParsedIntervals() []models.Interval {
	out := make([]models.Interval, 0, len(c.Intervals))
	for _, iv := range c.Intervals {
		out = append(out, models.Interval(iv))
	}
	return out
}

// BackoffBaseDuration returns the parsed retry backoff base delay.
func (c *Config) BackoffBaseDuration() time.Duration {
	d, _ := time.ParseDuration(c.Ingest.BackoffBase)
	return d
}

// FetchTimeoutDuration returns the parsed per-fetch timeout.
func (c *Config) FetchTimeoutDuration() time.Duration {
	d, _ := time.ParseDuration(c.Ingest.FetchTimeout)
	return d
}

// CircuitCooldownDuration returns the parsed circuit breaker cool-down.
func (c *Config) CircuitCooldownDuration() time.Duration {
	d, _ := time.ParseDuration(c.Storage.CircuitBreakerCooldown)
	return d
}
