// Package ratelimit provides rate limit tiers and decision value types.
// All functions are deterministic - same input always produces same output.
package ratelimit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/artpar/quotagate/domain/window"
)

// ErrUnknownTier is returned when a check names a tier missing from the table.
var ErrUnknownTier = errors.New("ratelimit: unknown tier")

// Built-in tier names.
const (
	TierFree       = "free"
	TierBasic      = "basic"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
)

// Tier holds per-window request limits for one rate limiting class (value type).
type Tier struct {
	Name      string
	PerMinute int64
	PerHour   int64
	PerDay    int64
}

// Limit returns the tier's limit for a window kind.
func (t Tier) Limit(kind window.Kind) int64 {
	switch kind {
	case window.Minute:
		return t.PerMinute
	case window.Hour:
		return t.PerHour
	case window.Day:
		return t.PerDay
	default:
		return 0
	}
}

// Validate checks that every window has a positive limit and that larger
// windows do not allow less than smaller ones.
func (t Tier) Validate() error {
	if t.Name == "" {
		return errors.New("tier name is required")
	}
	if t.PerMinute <= 0 || t.PerHour <= 0 || t.PerDay <= 0 {
		return fmt.Errorf("tier %q: all window limits must be positive", t.Name)
	}
	if t.PerHour < t.PerMinute || t.PerDay < t.PerHour {
		return fmt.Errorf("tier %q: limits must not shrink as windows grow", t.Name)
	}
	return nil
}

// Tiers is an immutable tier table keyed by name.
type Tiers map[string]Tier

// DefaultTiers returns the built-in four-tier table.
func DefaultTiers() Tiers {
	return Tiers{
		TierFree:       {Name: TierFree, PerMinute: 60, PerHour: 1000, PerDay: 10000},
		TierBasic:      {Name: TierBasic, PerMinute: 120, PerHour: 5000, PerDay: 50000},
		TierPro:        {Name: TierPro, PerMinute: 600, PerHour: 30000, PerDay: 300000},
		TierEnterprise: {Name: TierEnterprise, PerMinute: 3000, PerHour: 150000, PerDay: 1500000},
	}
}

// Lookup returns the named tier.
func (ts Tiers) Lookup(name string) (Tier, error) {
	t, ok := ts[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return t, nil
}

// Names returns tier names in sorted order.
func (ts Tiers) Names() []string {
	names := make([]string, 0, len(ts))
	for n := range ts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks every tier in the table.
func (ts Tiers) Validate() error {
	if len(ts) == 0 {
		return errors.New("at least one rate limit tier is required")
	}
	for name, t := range ts {
		if t.Name != name {
			return fmt.Errorf("tier %q registered under name %q", t.Name, name)
		}
		if err := t.Validate(); err != nil {
			return err
		}
	}
	return nil
}
