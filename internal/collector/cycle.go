// Package collector orchestrates ingestion cycles. Each (symbol, interval)
// unit runs an independent state machine — plan, fetch, validate, merge,
// persist — and a bounded worker pool executes units concurrently against
// the shared storage engine. Storage writes are idempotent upserts, so
// concurrent units never need cross-symbol locking.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfort/candle-ingest/internal/exchange"
	"github.com/quantfort/candle-ingest/internal/merge"
	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/planner"
	"github.com/quantfort/candle-ingest/internal/resilience"
	"github.com/quantfort/candle-ingest/internal/storage"
	"github.com/quantfort/candle-ingest/internal/validator"
)

// State is a phase of one unit's ingestion cycle.
type State string

const (
	StatePlanning   State = "planning"
	StateFetching   State = "fetching"
	StateValidating State = "validating"
	StateMerging    State = "merging"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Unit identifies one independent piece of work: a symbol and interval over
// a requested range.
type Unit struct {
	Symbol   string
	Interval models.Interval
	Range    models.TimeRange
}

func (u Unit) String() string {
	return fmt.Sprintf("%s/%s %s", u.Symbol, u.Interval, u.Range)
}

// UnitReport is the per-unit outcome included in the run summary.
type UnitReport struct {
	Unit     Unit
	State    State
	Decision planner.Decision
	Skipped  bool

	Fetched int
	Dropped int
	Written int
	Purged  int

	Repaired     bool
	RepairReason validator.ReasonCode

	Ledger   models.LedgerEntry
	Duration time.Duration
	Err      error
}

// Metrics is the instrumentation surface the cycle reports into. Kept as an
// interface so tests can run without a Prometheus registry.
type Metrics interface {
	RecordFetched(symbol, interval string, n int)
	RecordWritten(symbol, interval string, n int)
	RecordPurged(symbol, interval, reason string, n int)
	RecordUnitOutcome(outcome string)
	RecordCycleDuration(symbol, interval string, d time.Duration)
	RecordCoverage(symbol, interval string, ratio float64)
}

// nopMetrics is used when no recorder is wired.
type nopMetrics struct{}

func (nopMetrics) RecordFetched(string, string, int)                 {}
func (nopMetrics) RecordWritten(string, string, int)                 {}
func (nopMetrics) RecordPurged(string, string, string, int)          {}
func (nopMetrics) RecordUnitOutcome(string)                          {}
func (nopMetrics) RecordCycleDuration(string, string, time.Duration) {}
func (nopMetrics) RecordCoverage(string, string, float64)            {}

// CycleConfig carries the per-cycle tunables.
type CycleConfig struct {
	OverlapCandles        int
	CoverageWindowCandles int
	PageLimit             int
	FetchTimeout          time.Duration
	FetchRetry            resilience.RetryPolicy
}

// Cycle executes the ingestion state machine for single units. It is
// stateless across units and safe for concurrent use by the worker pool.
type Cycle struct {
	store    storage.Store
	fetcher  exchange.Fetcher
	planner  *planner.Planner
	validate *validator.Continuity
	cfg      CycleConfig
	metrics  Metrics
	log      *slog.Logger
}

// NewCycle wires a cycle runner. metrics may be nil.
func NewCycle(store storage.Store, fetcher exchange.Fetcher, plan *planner.Planner, validate *validator.Continuity, cfg CycleConfig, m Metrics, log *slog.Logger) *Cycle {
	if m == nil {
		m = nopMetrics{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cycle{
		store:    store,
		fetcher:  fetcher,
		planner:  plan,
		validate: validate,
		cfg:      cfg,
		metrics:  m,
		log:      log,
	}
}

// Run executes one full cycle for the unit. The returned report always
// carries the terminal state; Err is set only when the unit failed.
func (c *Cycle) Run(ctx context.Context, unit Unit) UnitReport {
	started := time.Now()
	report := UnitReport{Unit: unit, State: StatePlanning}
	log := c.log.With("symbol", unit.Symbol, "interval", string(unit.Interval))

	err := c.run(ctx, unit, log, &report)
	report.Duration = time.Since(started)
	c.metrics.RecordCycleDuration(unit.Symbol, string(unit.Interval), report.Duration)

	switch {
	case err != nil:
		report.State = StateFailed
		report.Err = err
		c.metrics.RecordUnitOutcome("failed")
		log.Error("ingestion unit failed",
			"state", string(report.State),
			"range", unit.Range.String(),
			"error", err,
			"duration", report.Duration)
	case report.Skipped:
		report.State = StateDone
		c.metrics.RecordUnitOutcome("skipped")
		log.Info("ingestion unit skipped, range already covered",
			"range", unit.Range.String())
	default:
		report.State = StateDone
		c.metrics.RecordUnitOutcome("succeeded")
		log.Info("ingestion unit done",
			"range", unit.Range.String(),
			"fetched", report.Fetched,
			"written", report.Written,
			"purged", report.Purged,
			"repaired", report.Repaired,
			"duration", report.Duration)
	}
	return report
}

func (c *Cycle) run(ctx context.Context, unit Unit, log *slog.Logger, report *UnitReport) error {
	// PLANNING: validate the stored series before trusting it for
	// incremental planning. A corrupted series is repaired (purge plus
	// forced full-range fetch) instead of being planned over.
	report.State = StatePlanning

	stored, err := c.store.Query(ctx, unit.Symbol, unit.Interval, unit.Range)
	if err != nil {
		return fmt.Errorf("read stored series: %w", err)
	}

	window := unit.Range
	result := c.validate.Validate(stored, unit.Interval)
	if result.OK() {
		plan, err := c.planner.Plan(ctx, unit.Symbol, unit.Interval, unit.Range.Start, unit.Range.End)
		if err != nil {
			return err
		}
		report.Decision = plan.Decision
		if plan.Decision == planner.DecisionSkip {
			report.Skipped = true
			return c.refreshLedger(ctx, unit, report)
		}
		window = plan.Window
	} else {
		// Validation failure is a structured result, not an error: purge
		// exactly the corrupted range and refetch the full requested range.
		report.State = StateValidating
		report.Repaired = true
		report.RepairReason = result.Reason
		report.Decision = planner.DecisionFullRange

		log.Warn("stored series corrupted, purging and refetching",
			"reason", string(result.Reason),
			"detail", result.Detail,
			"corrupted_range", result.CorruptedRange.String(),
			"range", unit.Range.String())

		purged, err := c.store.Purge(ctx, unit.Symbol, unit.Interval, result.CorruptedRange)
		if err != nil {
			return fmt.Errorf("purge corrupted range: %w", err)
		}
		report.Purged = purged
		c.metrics.RecordPurged(unit.Symbol, string(unit.Interval), string(result.Reason), purged)
	}

	// FETCHING: bounded retry, each attempt under its own timeout.
	report.State = StateFetching
	incoming, err := c.fetchWindow(ctx, unit, window, log)
	if err != nil {
		return err
	}
	report.Fetched = len(incoming)
	c.metrics.RecordFetched(unit.Symbol, string(unit.Interval), len(incoming))

	// VALIDATING: constraint checks on the fetched batch. Malformed candles
	// are logged and dropped, never coerced, and never reach storage.
	report.State = StateValidating
	kept := incoming[:0]
	for _, candle := range incoming {
		if err := candle.Validate(); err != nil {
			report.Dropped++
			log.Warn("dropping malformed candle",
				"timestamp", candle.Timestamp,
				"error", err)
			continue
		}
		kept = append(kept, candle)
	}
	incoming = kept

	// MERGING: re-read the fetch window so overlap collisions resolve in
	// favor of the incoming candles.
	report.State = StateMerging
	existing, err := c.store.Query(ctx, unit.Symbol, unit.Interval, window)
	if err != nil {
		return fmt.Errorf("read overlap window: %w", err)
	}
	merged, err := merge.Merge(existing, incoming)
	if err != nil {
		return err
	}

	// PERSISTING: the resilient store supplies retry and circuit breaking.
	// A started batch runs to completion even if the run is being canceled;
	// only scheduling of new units stops.
	report.State = StatePersisting
	written, err := c.store.Upsert(context.WithoutCancel(ctx), merged)
	if err != nil {
		return fmt.Errorf("persist merged series: %w", err)
	}
	report.Written = written
	c.metrics.RecordWritten(unit.Symbol, string(unit.Interval), written)

	return c.refreshLedger(ctx, unit, report)
}

// fetchWindow retrieves the window with the configured retry budget. Each
// attempt is bounded by the fetch timeout so a hung upstream cannot stall
// the worker.
func (c *Cycle) fetchWindow(ctx context.Context, unit Unit, window models.TimeRange, log *slog.Logger) ([]models.Candle, error) {
	var out []models.Candle
	err := c.cfg.FetchRetry.Do(ctx, log, "exchange.fetch", func() error {
		attemptCtx := ctx
		if c.cfg.FetchTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, c.cfg.FetchTimeout)
			defer cancel()
		}
		candles, err := exchange.FetchRange(attemptCtx, c.fetcher, unit.Symbol, unit.Interval, window, c.cfg.PageLimit)
		if err != nil {
			return err
		}
		out = candles
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// refreshLedger recomputes the unit's fetch-ledger entry over the recent
// coverage window.
func (c *Cycle) refreshLedger(ctx context.Context, unit Unit, report *UnitReport) error {
	latest, found, err := c.store.LatestTimestamp(ctx, unit.Symbol, unit.Interval)
	if err != nil {
		return fmt.Errorf("refresh ledger: %w", err)
	}
	if !found {
		report.Ledger = models.NewLedgerEntry(unit.Symbol, unit.Interval, models.TimeRange{}, nil)
		return nil
	}

	duration := unit.Interval.Duration()
	window := models.TimeRange{
		Start: latest.Add(-time.Duration(c.cfg.CoverageWindowCandles-1) * duration),
		End:   latest,
	}
	series, err := c.store.Query(ctx, unit.Symbol, unit.Interval, window)
	if err != nil {
		return fmt.Errorf("refresh ledger: %w", err)
	}
	report.Ledger = models.NewLedgerEntry(unit.Symbol, unit.Interval, window, series)
	c.metrics.RecordCoverage(unit.Symbol, string(unit.Interval), report.Ledger.CoverageRatio)
	return nil
}
