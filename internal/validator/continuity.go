// Package validator assesses the continuity of a stored candle series before
// incremental fetch planning. It answers one question per (symbol, interval)
// series: is the stored history healthy enough to extend, or must a corrupted
// range be purged and refetched?
//
// Three checks run in order, first failure wins:
//  1. duplicate timestamps
//  2. gaps wider than the configured tolerance
//  3. coverage ratio below the configured minimum
//
// A failed check produces a structured FAIL result, never an error; errors
// are reserved for misuse of the validator itself.
package validator

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfort/candle-ingest/internal/models"
)

// Status is the outcome of a continuity check.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// ReasonCode identifies which check produced a FAIL.
type ReasonCode string

const (
	ReasonDuplicates  ReasonCode = "duplicate_timestamps"
	ReasonGap         ReasonCode = "gap_exceeds_tolerance"
	ReasonLowCoverage ReasonCode = "coverage_below_minimum"
)

// Result is the structured outcome of validating one series. A FAIL carries
// the corrupted range that the orchestrator purges before forcing a
// full-range refetch.
type Result struct {
	Status Status
	Reason ReasonCode
	Detail string

	// CorruptedRange is set only on FAIL. For duplicates and low coverage it
	// spans the full series extent; for a gap it spans the missing candles.
	CorruptedRange models.TimeRange

	// Observed / Expected are the inclusive boundary counts behind the
	// coverage check, populated on every result for logging.
	Observed int
	Expected int
}

// OK reports whether the series passed all checks.
func (r Result) OK() bool { return r.Status == StatusPass }

// String implements fmt.Stringer for log output.
func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("PASS (%d/%d candles)", r.Observed, r.Expected)
	}
	return fmt.Sprintf("FAIL %s: %s", r.Reason, r.Detail)
}

// Continuity validates stored series against duplicate, gap, and coverage
// rules. The zero value is not usable; construct with New.
type Continuity struct {
	// gapToleranceMultiplier scales the interval duration into the maximum
	// delta between consecutive candles. A delta of exactly the tolerance
	// passes; only strictly larger deltas fail.
	gapToleranceMultiplier float64

	// minCoverageRatio is the minimum observed/expected ratio. Exactly the
	// minimum passes.
	minCoverageRatio float64

	log *slog.Logger
}

// New creates a validator. The defaults used by the ingest pipeline are a
// gap tolerance of 2x the interval and a minimum coverage ratio of 0.8.
func New(gapToleranceMultiplier, minCoverageRatio float64, log *slog.Logger) *Continuity {
	if log == nil {
		log = slog.Default()
	}
	return &Continuity{
		gapToleranceMultiplier: gapToleranceMultiplier,
		minCoverageRatio:       minCoverageRatio,
		log:                    log,
	}
}

// Validate checks a stored series for continuity. The series must be sorted
// ascending by timestamp, which the storage engine's range query guarantees.
// An empty series passes trivially: there is nothing to corrupt, and the
// planner handles the no-data case with a full-range fetch.
func (c *Continuity) Validate(series []models.Candle, interval models.Interval) Result {
	if len(series) == 0 {
		return Result{Status: StatusPass}
	}

	duration := interval.Duration()
	first := series[0].Timestamp
	last := series[len(series)-1].Timestamp
	extent := models.TimeRange{Start: first, End: last}

	// Duplicate timestamps mean the natural key was violated somewhere
	// upstream; the whole extent is suspect.
	for i := 1; i < len(series); i++ {
		if !series[i].Timestamp.After(series[i-1].Timestamp) {
			detail := fmt.Sprintf("timestamp %s at positions %d and %d",
				series[i].Timestamp.UTC().Format(time.RFC3339), i-1, i)
			c.log.Warn("continuity check failed",
				"reason", string(ReasonDuplicates),
				"detail", detail)
			return Result{
				Status:         StatusFail,
				Reason:         ReasonDuplicates,
				Detail:         detail,
				CorruptedRange: extent,
				Observed:       len(series),
			}
		}
	}

	// Gap check: delta between consecutive candles may not exceed the
	// tolerance. The corrupted range covers only the missing candles, so a
	// repair purge leaves the healthy neighbors alone.
	tolerance := time.Duration(c.gapToleranceMultiplier * float64(duration))
	for i := 1; i < len(series); i++ {
		delta := series[i].Timestamp.Sub(series[i-1].Timestamp)
		if delta > tolerance {
			missing := models.TimeRange{
				Start: series[i-1].Timestamp.Add(duration),
				End:   series[i].Timestamp.Add(-duration),
			}
			detail := fmt.Sprintf("gap of %s between %s and %s (tolerance %s)",
				delta,
				series[i-1].Timestamp.UTC().Format(time.RFC3339),
				series[i].Timestamp.UTC().Format(time.RFC3339),
				tolerance)
			c.log.Warn("continuity check failed",
				"reason", string(ReasonGap),
				"detail", detail)
			return Result{
				Status:         StatusFail,
				Reason:         ReasonGap,
				Detail:         detail,
				CorruptedRange: missing,
				Observed:       len(series),
				Expected:       interval.ExpectedCount(first, last),
			}
		}
	}

	// Coverage: inclusive boundary count from first to last observed candle.
	expected := interval.ExpectedCount(first, last)
	ratio := float64(len(series)) / float64(expected)
	if ratio < c.minCoverageRatio {
		detail := fmt.Sprintf("coverage %.3f below minimum %.3f (%d/%d candles)",
			ratio, c.minCoverageRatio, len(series), expected)
		c.log.Warn("continuity check failed",
			"reason", string(ReasonLowCoverage),
			"detail", detail)
		return Result{
			Status:         StatusFail,
			Reason:         ReasonLowCoverage,
			Detail:         detail,
			CorruptedRange: extent,
			Observed:       len(series),
			Expected:       expected,
		}
	}

	return Result{Status: StatusPass, Observed: len(series), Expected: expected}
}
