package cache

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"

	"playshelf/internal/common/logging"
)

// redisEntry carries the expiry next to the value so a hit can report its
// remaining lifetime without a second round-trip.
type redisEntry[V any] struct {
	Value     V         `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Redis is a JSON-encoded cache tier shared between gateway instances
type Redis[V any] struct {
	client     redis.Cmdable
	keyPrefix  string
	defaultTTL time.Duration
	clock      clock.Clock
	logger     logging.Logger
}

// NewRedis creates a Redis tier. Keys are stored under keyPrefix.
func NewRedis[V any](client redis.Cmdable, keyPrefix string, defaultTTL time.Duration, logger logging.Logger) *Redis[V] {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Redis[V]{
		client:     client,
		keyPrefix:  keyPrefix,
		defaultTTL: defaultTTL,
		clock:      clock.New(),
		logger:     logger.WithFields(logging.String("component", "cache"), logging.String("tier", "redis")),
	}
}

// Get retrieves a value from Redis
func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	v, _, ok := r.GetWithTTL(ctx, key)
	return v, ok
}

// GetWithTTL retrieves a value and its remaining lifetime
func (r *Redis[V]) GetWithTTL(ctx context.Context, key string) (V, time.Duration, bool) {
	var zero V

	data, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if err != nil {
		if !stderrors.Is(err, redis.Nil) {
			r.logger.Warn("Redis cache read failed", logging.Err(err))
		}
		return zero, 0, false
	}

	var entry redisEntry[V]
	if err := json.Unmarshal(data, &entry); err != nil {
		r.logger.Warn("Dropping undecodable Redis cache entry", logging.Err(err))
		r.client.Del(ctx, r.keyPrefix+key)
		return zero, 0, false
	}

	remaining := entry.ExpiresAt.Sub(r.clock.Now())
	if remaining <= 0 {
		r.client.Del(ctx, r.keyPrefix+key)
		return zero, 0, false
	}
	return entry.Value, remaining, true
}

// Set stores a value in Redis
func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = r.defaultTTL
	}
	data, err := json.Marshal(redisEntry[V]{Value: value, ExpiresAt: r.clock.Now().Add(ttl)})
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err()
}

// Delete removes a value from Redis
func (r *Redis[V]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.keyPrefix+key).Err()
}

// Clear removes all keys under the prefix
func (r *Redis[V]) Clear(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.keyPrefix+"*", 0).Iterator()
	var keys []string

	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}

	if len(keys) > 0 {
		return r.client.Del(ctx, keys...).Err()
	}
	return nil
}
