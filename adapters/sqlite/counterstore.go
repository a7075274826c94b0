package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/ports"
)

// CounterStore implements ports.CounterStore using SQLite for persistence.
// Counters survive restarts; each write is a single UPSERT statement, so
// concurrent increments of one key are serialised by SQLite.
// Expiry instants are stored as unix milliseconds.
type CounterStore struct {
	db    *DB
	clock ports.Clock
}

// NewCounterStore creates a new SQLite counter store.
func NewCounterStore(db *DB, clock ports.Clock) *CounterStore {
	return &CounterStore{db: db, clock: clock}
}

// Increment atomically adds delta. An expired row is restarted at delta with a fresh TTL.
// A live row that cannot absorb delta without overflowing is left untouched.
func (s *CounterStore) Increment(ctx context.Context, key counter.Key, delta int64, ttl time.Duration) (int64, error) {
	if delta < 0 {
		return 0, counter.ErrInvalidDelta
	}
	now := s.clock.Now()

	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (key, subject, metric, kind, window_start, value, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = CASE WHEN counters.expires_at <= ?8 THEN excluded.value
			             ELSE counters.value + excluded.value END,
			expires_at = CASE WHEN counters.expires_at <= ?8 THEN excluded.expires_at
			                  ELSE counters.expires_at END
		WHERE counters.expires_at <= ?8 OR counters.value <= ?9
		RETURNING value
	`, key.String(), key.Subject, key.Metric, string(key.Kind), key.Start.Unix(),
		delta, now.Add(ttl).UnixMilli(), now.UnixMilli(), math.MaxInt64-delta).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, counter.ErrOverflow
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// IncrementIfBelow adds delta only when the result stays within limit.
// The guard is evaluated inside the UPSERT so no concurrent writer can slip past it.
func (s *CounterStore) IncrementIfBelow(ctx context.Context, key counter.Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	if delta < 0 {
		return 0, false, counter.ErrInvalidDelta
	}
	if delta > limit {
		current, err := s.Get(ctx, key)
		return current, false, err
	}
	now := s.clock.Now()

	var value int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (key, subject, metric, kind, window_start, value, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = CASE WHEN counters.expires_at <= ?8 THEN excluded.value
			             ELSE counters.value + excluded.value END,
			expires_at = CASE WHEN counters.expires_at <= ?8 THEN excluded.expires_at
			                  ELSE counters.expires_at END
		WHERE excluded.value <= ?9 - (CASE WHEN counters.expires_at <= ?8 THEN 0 ELSE counters.value END)
		RETURNING value
	`, key.String(), key.Subject, key.Metric, string(key.Kind), key.Start.Unix(),
		delta, now.Add(ttl).UnixMilli(), now.UnixMilli(), limit).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		current, err := s.Get(ctx, key)
		return current, false, err
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// Get returns the counter value, 0 if absent or expired.
func (s *CounterStore) Get(ctx context.Context, key counter.Key) (int64, error) {
	var value int64
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM counters WHERE key = ? AND expires_at > ?
	`, key.String(), s.clock.Now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}

// SetWithTTL overwrites the counter and resets its expiry.
func (s *CounterStore) SetWithTTL(ctx context.Context, key counter.Key, value int64, ttl time.Duration) error {
	if value < 0 {
		return counter.ErrInvalidDelta
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO counters (key, subject, metric, kind, window_start, value, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key.String(), key.Subject, key.Metric, string(key.Kind), key.Start.Unix(),
		value, s.clock.Now().Add(ttl).UnixMilli())
	return err
}

// DeleteExpired removes counters that expired at or before the given time.
// Called on a schedule to keep the table bounded.
func (s *CounterStore) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM counters WHERE expires_at <= ?
	`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Ensure interface compliance.
var (
	_ ports.CounterStore = (*CounterStore)(nil)
	_ ports.Sweeper      = (*CounterStore)(nil)
)
