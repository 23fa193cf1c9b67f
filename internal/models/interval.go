package models

import (
	"fmt"
	"time"
)

// Interval identifies the nominal bucket duration of a candle series.
// Only the values returned by Intervals() are accepted; anything else is a
// configuration error surfaced at startup rather than coerced at runtime.
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval12h: 12 * time.Hour,
	Interval1d:  24 * time.Hour,
}

// Intervals returns the supported intervals in ascending duration order.
func Intervals() []Interval {
	return []Interval{
		Interval1m, Interval5m, Interval15m, Interval30m,
		Interval1h, Interval4h, Interval12h, Interval1d,
	}
}

// ParseInterval validates an interval identifier and returns its typed form.
func ParseInterval(s string) (Interval, error) {
	iv := Interval(s)
	if _, ok := intervalDurations[iv]; !ok {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return iv, nil
}

// Duration returns the bucket duration for the interval.
// It panics on an unknown interval; callers are expected to have gone
// through ParseInterval or config validation first.
func (i Interval) Duration() time.Duration {
	d, ok := intervalDurations[i]
	if !ok {
		panic(fmt.Sprintf("models: unknown interval %q", string(i)))
	}
	return d
}

// String implements fmt.Stringer.
func (i Interval) String() string { return string(i) }

// Valid reports whether the interval is one of the supported values.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Align truncates t down to the interval boundary, measured as exact
// multiples of the interval duration since the Unix epoch, in UTC.
func (i Interval) Align(t time.Time) time.Time {
	return t.UTC().Truncate(i.Duration())
}

// IsAligned reports whether t sits exactly on an interval boundary.
func (i Interval) IsAligned(t time.Time) bool {
	return t.UTC().Equal(i.Align(t))
}

// ExpectedCount returns the number of interval boundaries between first and
// last, both inclusive. first and last must be aligned; a reversed range
// yields zero.
func (i Interval) ExpectedCount(first, last time.Time) int {
	if last.Before(first) {
		return 0
	}
	return int(last.Sub(first)/i.Duration()) + 1
}
