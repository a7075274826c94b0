// Package counter provides the counter key value type shared by all counter stores.
package counter

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/quotagate/domain/window"
)

// ErrInvalidDelta is returned when a write would make a counter negative.
var ErrInvalidDelta = errors.New("counter: delta and value must be non-negative")

// ErrOverflow is returned when an increment would exceed the int64 range.
var ErrOverflow = fmt.Errorf("%w: increment overflows int64", ErrInvalidDelta)

// CanAdd reports whether value+delta fits in an int64. Both must be non-negative.
// This is a PURE function.
func CanAdd(value, delta int64) bool {
	return delta <= math.MaxInt64-value
}

// Fits reports whether value+delta stays within limit without computing the sum.
// This is a PURE function.
func Fits(value, delta, limit int64) bool {
	return value <= limit && delta <= limit-value
}

// Key identifies one atomic counter (immutable value type).
// At most one live counter exists per (Subject, Metric, Kind, Start).
type Key struct {
	Subject string      // "tenant:42", "ip:1.2.3.4", "user:7"
	Metric  string      // "feature:reports", "rl:free"
	Kind    window.Kind // Window granularity
	Start   time.Time   // Window start, UTC
}

// NewKey builds the key for the window of the given kind containing now.
// This is a PURE function.
func NewKey(subject, metric string, kind window.Kind, now time.Time) Key {
	return Key{
		Subject: subject,
		Metric:  metric,
		Kind:    kind,
		Start:   window.Start(now, kind),
	}
}

// String returns the stable storage form: subject|metric|kind|unix-start.
func (k Key) String() string {
	var b strings.Builder
	b.Grow(len(k.Subject) + len(k.Metric) + len(k.Kind) + 16)
	b.WriteString(k.Subject)
	b.WriteByte('|')
	b.WriteString(k.Metric)
	b.WriteByte('|')
	b.WriteString(string(k.Kind))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(k.Start.Unix(), 10))
	return b.String()
}

// TTL returns how long the counter stays live, measured from the window start.
func (k Key) TTL() time.Duration {
	return window.Length(k.Start, k.Kind)
}

// ExpiresAt returns the instant the counter becomes inert.
func (k Key) ExpiresAt() time.Time {
	return k.Start.Add(k.TTL())
}
