// Package idgen provides usage record ID generators.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/artpar/quotagate/ports"
)

// UUID generates random (v4) UUIDs.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.New().String()
}

// TimeOrdered generates v7 UUIDs, which sort by creation time and keep
// usage_records inserts append-mostly. Falls back to v4 if the clock read fails.
type TimeOrdered struct{}

// New generates a new UUID v7.
func (TimeOrdered) New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// Sequential generates sequential IDs (for testing).
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

// Reset resets the counter.
func (s *Sequential) Reset() {
	s.counter.Store(0)
}

// ForName returns the generator for a config name: "uuid", "uuidv7" or "sequential".
func ForName(name string) ports.IDGenerator {
	switch name {
	case "uuid":
		return UUID{}
	case "sequential":
		return NewSequential("rec_")
	default:
		return TimeOrdered{}
	}
}

// Ensure interface compliance.
var (
	_ ports.IDGenerator = UUID{}
	_ ports.IDGenerator = TimeOrdered{}
	_ ports.IDGenerator = (*Sequential)(nil)
)
