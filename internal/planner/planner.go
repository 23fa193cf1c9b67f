// Package planner decides what time range to fetch for a (symbol, interval)
// series. It compares the requested range against the latest stored
// timestamp and produces one of three decisions: skip (already covered),
// full-range fetch (no stored data), or an incremental fetch that re-reads a
// short overlap window behind the stored frontier so late exchange
// corrections are picked up.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
	"github.com/quantfort/candle-ingest/internal/storage"
)

// Decision classifies a plan.
type Decision string

const (
	// DecisionSkip means the stored series already covers the requested
	// range; nothing to fetch.
	DecisionSkip Decision = "skip"
	// DecisionFullRange means no stored data exists and the whole requested
	// range must be fetched.
	DecisionFullRange Decision = "full_range"
	// DecisionIncremental means stored data covers part of the range and the
	// fetch window starts inside the overlap behind the stored frontier.
	DecisionIncremental Decision = "incremental"
)

// Plan is the planner's output for one series.
type Plan struct {
	Symbol   string
	Interval models.Interval
	Decision Decision

	// Window is the range to fetch, inclusive. Zero when Decision is skip.
	Window models.TimeRange
}

// String implements fmt.Stringer for log output.
func (p Plan) String() string {
	if p.Decision == DecisionSkip {
		return fmt.Sprintf("%s/%s: skip", p.Symbol, p.Interval)
	}
	return fmt.Sprintf("%s/%s: %s %s", p.Symbol, p.Interval, p.Decision, p.Window)
}

// Planner computes fetch windows from stored state. It only consults the
// latest stored timestamp; continuity of the stored series is the
// validator's concern and a corrupted series never reaches the planner.
type Planner struct {
	reader storage.CandleReader

	// overlapCandles is the number of already-stored candles re-fetched
	// behind the stored frontier on every incremental fetch.
	overlapCandles int

	log *slog.Logger
}

// New creates a planner over the given reader. The ingest pipeline default
// overlap is 15 candles.
func New(reader storage.CandleReader, overlapCandles int, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{reader: reader, overlapCandles: overlapCandles, log: log}
}

// Plan computes the fetch window for the requested range. The requested
// boundaries must be aligned to the interval; misaligned requests are a
// caller bug and return an error rather than a silently shifted window.
func (p *Planner) Plan(ctx context.Context, symbol string, interval models.Interval, reqStart, reqEnd time.Time) (Plan, error) {
	if reqEnd.Before(reqStart) {
		return Plan{}, fmt.Errorf("plan %s/%s: range end %s before start %s",
			symbol, interval, reqEnd.Format(time.RFC3339), reqStart.Format(time.RFC3339))
	}
	if !interval.IsAligned(reqStart) || !interval.IsAligned(reqEnd) {
		return Plan{}, fmt.Errorf("plan %s/%s: range boundaries not aligned to interval", symbol, interval)
	}

	latest, found, err := p.reader.LatestTimestamp(ctx, symbol, interval)
	if err != nil {
		return Plan{}, fmt.Errorf("plan %s/%s: %w", symbol, interval, err)
	}

	plan := Plan{Symbol: symbol, Interval: interval}
	switch {
	case !found:
		plan.Decision = DecisionFullRange
		plan.Window = models.TimeRange{Start: reqStart, End: reqEnd}

	case !latest.Before(reqEnd):
		plan.Decision = DecisionSkip

	default:
		overlap := time.Duration(p.overlapCandles) * interval.Duration()
		start := latest.Add(-overlap)
		if start.Before(reqStart) {
			start = reqStart
		}
		plan.Decision = DecisionIncremental
		plan.Window = models.TimeRange{Start: start, End: reqEnd}
	}

	p.log.Debug("fetch window planned",
		"symbol", symbol,
		"interval", string(interval),
		"decision", string(plan.Decision),
		"window", plan.Window.String(),
		"stored_latest", latest)
	return plan, nil
}
