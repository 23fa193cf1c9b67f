package collector

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantfort/candle-ingest/internal/models"
)

// RunSummary is the aggregate report for one ingestion run.
type RunSummary struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration

	UnitsTotal int
	Succeeded  int
	Skipped    int
	Failed     int

	CandlesFetched int
	CandlesWritten int
	CandlesPurged  int

	Reports []UnitReport
	Ledger  []models.LedgerEntry
}

// Failures returns the reports of units that failed.
func (s *RunSummary) Failures() []UnitReport {
	var out []UnitReport
	for _, r := range s.Reports {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Orchestrator fans ingestion units out over a bounded worker pool. One unit
// failing exhausts only its own retry budget; sibling units keep running and
// the run finishes with an aggregate summary.
type Orchestrator struct {
	cycle   *Cycle
	workers int
	log     *slog.Logger
}

// NewOrchestrator creates an orchestrator running at most workers units
// concurrently.
func NewOrchestrator(cycle *Cycle, workers int, log *slog.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{cycle: cycle, workers: workers, log: log}
}

// Run executes all units and returns the aggregate summary. Cancelling ctx
// stops the scheduling of new units; units already running finish their
// cycle (their write batches are never cut short mid-flight). Run returns a
// summary even on cancellation, covering the units that did run.
func (o *Orchestrator) Run(ctx context.Context, units []Unit) *RunSummary {
	summary := &RunSummary{
		RunID:      uuid.NewString(),
		StartedAt:  time.Now().UTC(),
		UnitsTotal: len(units),
	}
	log := o.log.With("run_id", summary.RunID)
	log.Info("ingestion run starting", "units", len(units), "workers", o.workers)

	jobs := make(chan Unit)
	results := make(chan UnitReport, len(units))

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				results <- o.cycle.Run(ctx, unit)
			}
		}()
	}

	scheduled := 0
schedule:
	for _, unit := range units {
		select {
		case jobs <- unit:
			scheduled++
		case <-ctx.Done():
			log.Warn("run canceled, stopping scheduling",
				"scheduled", scheduled,
				"remaining", len(units)-scheduled)
			break schedule
		}
	}
	close(jobs)
	wg.Wait()
	close(results)

	for report := range results {
		summary.Reports = append(summary.Reports, report)
		summary.CandlesFetched += report.Fetched
		summary.CandlesWritten += report.Written
		summary.CandlesPurged += report.Purged
		switch {
		case report.Err != nil:
			summary.Failed++
		case report.Skipped:
			summary.Skipped++
		default:
			summary.Succeeded++
		}
		if report.Ledger.HasData {
			summary.Ledger = append(summary.Ledger, report.Ledger)
		}
	}
	summary.Duration = time.Since(summary.StartedAt)

	log.Info("ingestion run finished",
		"units", summary.UnitsTotal,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"candles_fetched", summary.CandlesFetched,
		"candles_written", summary.CandlesWritten,
		"candles_purged", summary.CandlesPurged,
		"duration", summary.Duration)
	return summary
}

// Units expands the configured symbols and intervals over a shared requested
// range into the run's work list.
func Units(symbols []string, intervals []models.Interval, r models.TimeRange) []Unit {
	out := make([]Unit, 0, len(symbols)*len(intervals))
	for _, symbol := range symbols {
		for _, interval := range intervals {
			out = append(out, Unit{
				Symbol:   symbol,
				Interval: interval,
				Range: models.TimeRange{
					Start: interval.Align(r.Start),
					End:   interval.Align(r.End),
				},
			})
		}
	}
	return out
}
