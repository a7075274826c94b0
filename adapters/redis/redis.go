// Package redis provides a Redis-backed counter store so that several
// quotagate instances can share rate limit and usage counters.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/artpar/quotagate/domain/counter"
	"github.com/artpar/quotagate/ports"
)

// DefaultPrefix namespaces every counter key.
const DefaultPrefix = "quotagate"

// Config configures the Redis connection.
type Config struct {
	URL        string // redis://[:password@]host:port/db
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	Prefix     string
}

// Connect parses the URL, dials Redis and verifies the connection.
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// The TTL is applied only when the key has none, so it is measured from creation.
// An increment that would overflow returns -1 and leaves the key unchanged.
var incrementScript = redis.NewScript(`
local v = redis.pcall('INCRBY', KEYS[1], ARGV[1])
if type(v) == 'table' and v.err then
	if string.find(v.err, 'overflow') then
		return -1
	end
	return v
end
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return v
`)

var incrementIfBelowScript = redis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local delta = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if cur > limit or delta > limit - cur then
	return {cur, 0}
end
local v = redis.call('INCRBY', KEYS[1], delta)
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {v, 1}
`)

// CounterStore implements ports.CounterStore on Redis.
// Expiry is native; no sweep is needed.
type CounterStore struct {
	client *redis.Client
	prefix string
}

// NewCounterStore creates a counter store on an existing client.
func NewCounterStore(client *redis.Client, prefix string) *CounterStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &CounterStore{client: client, prefix: prefix}
}

func (s *CounterStore) redisKey(key counter.Key) string {
	return s.prefix + ":" + key.String()
}

// Increment atomically adds delta and sets the TTL when the key is created.
func (s *CounterStore) Increment(ctx context.Context, key counter.Key, delta int64, ttl time.Duration) (int64, error) {
	if delta < 0 {
		return 0, counter.ErrInvalidDelta
	}
	v, err := incrementScript.Run(ctx, s.client, []string{s.redisKey(key)}, delta, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis increment: %w", err)
	}
	if v < 0 {
		return 0, counter.ErrOverflow
	}
	return v, nil
}

// IncrementIfBelow adds delta only if the result stays within limit.
func (s *CounterStore) IncrementIfBelow(ctx context.Context, key counter.Key, delta, limit int64, ttl time.Duration) (int64, bool, error) {
	if delta < 0 {
		return 0, false, counter.ErrInvalidDelta
	}
	res, err := incrementIfBelowScript.Run(ctx, s.client, []string{s.redisKey(key)}, delta, limit, ttl.Milliseconds()).Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis conditional increment: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("redis conditional increment: unexpected reply %v", res)
	}
	value, _ := res[0].(int64)
	applied, _ := res[1].(int64)
	return value, applied == 1, nil
}

// Get returns the counter value, 0 if the key is absent or expired.
func (s *CounterStore) Get(ctx context.Context, key counter.Key) (int64, error) {
	v, err := s.client.Get(ctx, s.redisKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	} else if err != nil {
		return 0, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

// SetWithTTL overwrites the counter and resets its expiry.
func (s *CounterStore) SetWithTTL(ctx context.Context, key counter.Key, value int64, ttl time.Duration) error {
	if value < 0 {
		return counter.ErrInvalidDelta
	}
	if err := s.client.Set(ctx, s.redisKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *CounterStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *CounterStore) Close() error {
	return s.client.Close()
}

// Ensure interface compliance.
var _ ports.CounterStore = (*CounterStore)(nil)
