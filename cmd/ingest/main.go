// Command ingest runs one ingestion pass over the configured symbols and
// intervals: plan fetch windows against stored data, fetch, validate, merge,
// persist, and print the aggregate run summary.
//
// Usage:
//
//	ingest -config ingest.json -start 2024-01-01 -end 2024-01-31
//	ingest -start 2024-01-01T00:00:00Z -end 2024-02-05T23:00:00Z -synthetic
//
// Configuration resolves from built-in defaults, then the JSON config file,
// then environment overrides. Any invalid value aborts startup.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfort/candle-ingest/internal/collector"
	"github.com/quantfort/candle-ingest/internal/config"
	"github.com/quantfort/candle-ingest/internal/exchange"
	"github.com/quantfort/candle-ingest/internal/logger"
	"github.com/quantfort/candle-ingest/internal/metrics"
	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/planner"
	"github.com/quantfort/candle-ingest/internal/resilience"
	"github.com/quantfort/candle-ingest/internal/storage"
	"github.com/quantfort/candle-ingest/internal/validator"
)

const (
	exitOK          = 0
	exitUsageError  = 1
	exitConfigError = 2
	exitRunFailed   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "", "path to JSON configuration file")
		startFlag  = flag.String("start", "", "requested range start (RFC3339 or YYYY-MM-DD)")
		endFlag    = flag.String("end", "", "requested range end (RFC3339 or YYYY-MM-DD)")
		synthetic  = flag.Bool("synthetic", false, "use the deterministic synthetic fetcher (dry run)")
		jsonOut    = flag.Bool("json", false, "print the run summary as JSON")
	)
	flag.Parse()

	reqRange, err := parseRange(*startFlag, *endFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		flag.Usage()
		return exitUsageError
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitConfigError
	}

	logs, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitConfigError
	}
	defer logs.Close()
	log := logs.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg, logs.Component("storage"))
	if err != nil {
		log.Error("open storage", "error", err)
		return exitConfigError
	}
	if err := store.Initialize(ctx); err != nil {
		log.Error("initialize storage", "error", err)
		return exitConfigError
	}
	defer store.Close()

	recorder := metrics.NewRecorder()
	recorder.ObserveBreaker("storage", store.Breaker())
	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(cfg.Metrics.Addr, recorder, store.HealthCheck, logs.Component("metrics"))
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	fetcher, err := buildFetcher(cfg, reqRange, *synthetic)
	if err != nil {
		log.Error("build fetcher", "error", err)
		return exitConfigError
	}

	cycle := collector.NewCycle(
		store,
		fetcher,
		planner.New(store, cfg.Ingest.OverlapCandles, logs.Component("planner")),
		validator.New(cfg.Ingest.GapToleranceMultiplier, cfg.Ingest.MinCoverageRatio, logs.Component("validator")),
		collector.CycleConfig{
			OverlapCandles:        cfg.Ingest.OverlapCandles,
			CoverageWindowCandles: cfg.Ingest.CoverageWindowCandles,
			PageLimit:             cfg.Fetcher.PageLimit,
			FetchTimeout:          cfg.FetchTimeoutDuration(),
			FetchRetry:            resilience.NewRetryPolicy(cfg.Ingest.RetryAttempts, cfg.BackoffBaseDuration()),
		},
		recorder,
		logs.Component("collector"),
	)

	orch := collector.NewOrchestrator(cycle, cfg.Ingest.WorkerCount, logs.Component("orchestrator"))
	units := collector.Units(cfg.Symbols, cfg.ParsedIntervals(), reqRange)
	summary := orch.Run(ctx, units)

	printSummary(summary, *jsonOut)
	if summary.Failed > 0 {
		return exitRunFailed
	}
	return exitOK
}

// parseRange accepts RFC3339 timestamps or bare dates. An empty end defaults
// to now; an empty start defaults to 30 days before the end.
func parseRange(start, end string) (models.TimeRange, error) {
	parse := func(v string) (time.Time, error) {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t.UTC(), nil
		}
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time %q (want RFC3339 or YYYY-MM-DD)", v)
		}
		return t.UTC(), nil
	}

	var r models.TimeRange
	var err error
	if end == "" {
		r.End = time.Now().UTC()
	} else if r.End, err = parse(end); err != nil {
		return models.TimeRange{}, err
	}
	if start == "" {
		r.Start = r.End.Add(-30 * 24 * time.Hour)
	} else if r.Start, err = parse(start); err != nil {
		return models.TimeRange{}, err
	}
	if r.End.Before(r.Start) {
		return models.TimeRange{}, fmt.Errorf("range end %s before start %s", r.End, r.Start)
	}
	return r, nil
}

// buildFetcher selects the upstream source. Only the synthetic fetcher ships
// with the binary; a live exchange adapter plugs in through the same
// interface. The rate limit always applies.
func buildFetcher(cfg *config.Config, r models.TimeRange, synthetic bool) (exchange.Fetcher, error) {
	if !synthetic {
		return nil, fmt.Errorf("no live fetcher configured; run with -synthetic")
	}

	source := exchange.NewSynthetic()
	for _, symbol := range cfg.Symbols {
		for _, interval := range cfg.ParsedIntervals() {
			count := interval.ExpectedCount(interval.Align(r.Start), interval.Align(r.End))
			source.Seed(symbol, interval, interval.Align(r.Start), count)
		}
	}
	return exchange.NewRateLimited(source, float64(cfg.Fetcher.RateLimitPerSec)), nil
}

func printSummary(summary *collector.RunSummary, asJSON bool) {
	if asJSON {
		out, err := json.MarshalIndent(summaryView(summary), "", "  ")
		if err == nil {
			fmt.Println(string(out))
		}
		return
	}

	fmt.Printf("run %s: %d units, %d succeeded, %d skipped, %d failed\n",
		summary.RunID, summary.UnitsTotal, summary.Succeeded, summary.Skipped, summary.Failed)
	fmt.Printf("candles: %d fetched, %d written, %d purged in %s\n",
		summary.CandlesFetched, summary.CandlesWritten, summary.CandlesPurged,
		summary.Duration.Round(time.Millisecond))
	for _, report := range summary.Failures() {
		fmt.Printf("  failed: %s: %v\n", report.Unit, report.Err)
	}
	for _, entry := range summary.Ledger {
		fmt.Printf("  %s/%s: latest %s, coverage %.1f%%\n",
			entry.Symbol, entry.Interval,
			entry.LatestTimestamp.Format(time.RFC3339),
			entry.CoverageRatio*100)
	}
}

type summaryJSON struct {
	RunID     string               `json:"run_id"`
	StartedAt time.Time            `json:"started_at"`
	Duration  string               `json:"duration"`
	Units     int                  `json:"units"`
	Succeeded int                  `json:"succeeded"`
	Skipped   int                  `json:"skipped"`
	Failed    int                  `json:"failed"`
	Fetched   int                  `json:"candles_fetched"`
	Written   int                  `json:"candles_written"`
	Purged    int                  `json:"candles_purged"`
	Failures  []string             `json:"failures,omitempty"`
	Ledger    []models.LedgerEntry `json:"ledger,omitempty"`
}

func summaryView(summary *collector.RunSummary) summaryJSON {
	view := summaryJSON{
		RunID:     summary.RunID,
		StartedAt: summary.StartedAt,
		Duration:  summary.Duration.String(),
		Units:     summary.UnitsTotal,
		Succeeded: summary.Succeeded,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
		Fetched:   summary.CandlesFetched,
		Written:   summary.CandlesWritten,
		Purged:    summary.CandlesPurged,
		Ledger:    summary.Ledger,
	}
	for _, report := range summary.Failures() {
		view.Failures = append(view.Failures, fmt.Sprintf("%s: %v", report.Unit, report.Err))
	}
	return view
}
