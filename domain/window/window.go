// Package window provides pure functions for fixed time windows.
// All functions are deterministic and operate in UTC.
package window

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a window granularity.
type Kind string

const (
	Minute Kind = "minute"
	Hour   Kind = "hour"
	Day    Kind = "day"
	Month  Kind = "month"
)

// RateLimitKinds are the windows a rate limit check walks, in evaluation order.
var RateLimitKinds = []Kind{Minute, Hour, Day}

// ParseKind converts a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case Minute, Hour, Day, Month:
		return k, nil
	}
	return "", fmt.Errorf("unknown window kind %q", s)
}

// Valid reports whether k is a known window kind.
func (k Kind) Valid() bool {
	switch k {
	case Minute, Hour, Day, Month:
		return true
	}
	return false
}

// Title returns the header-friendly form of the kind ("Minute", "Hour", ...).
func (k Kind) Title() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

// Start returns the start of the window containing now.
// This is a PURE function.
func Start(now time.Time, kind Kind) time.Time {
	now = now.UTC()
	switch kind {
	case Minute:
		return now.Truncate(time.Minute)
	case Hour:
		return now.Truncate(time.Hour)
	case Day:
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	case Month:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return now
	}
}

// ResetAt returns the start of the window after the one containing now.
// This is a PURE function.
func ResetAt(now time.Time, kind Kind) time.Time {
	_, end := Bounds(now, kind)
	return end
}

// RetryAfter returns whole seconds until the window resets, never less than 1.
// Partial seconds round up so a client waiting that long lands in the next window.
// This is a PURE function.
func RetryAfter(now time.Time, kind Kind) int {
	d := ResetAt(now, kind).Sub(now.UTC())
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	if secs < 1 {
		return 1
	}
	return secs
}

// Length returns the duration of the window beginning at start.
// Months are calendar-aware.
// This is a PURE function.
func Length(start time.Time, kind Kind) time.Duration {
	switch kind {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	case Month:
		s := Start(start, Month)
		return s.AddDate(0, 1, 0).Sub(s)
	default:
		return 0
	}
}

// Bounds returns the start and exclusive end of the window containing now.
// This is a PURE function.
func Bounds(now time.Time, kind Kind) (start, end time.Time) {
	start = Start(now, kind)
	return start, start.Add(Length(start, kind))
}

// PeriodDate formats the window start as the date label used on usage records.
func PeriodDate(now time.Time, kind Kind) string {
	start := Start(now, kind)
	switch kind {
	case Month:
		return start.Format("2006-01")
	case Day:
		return start.Format("2006-01-02")
	default:
		return start.Format(time.RFC3339)
	}
}
