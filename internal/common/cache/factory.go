package cache

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"

	"playshelf/internal/common/logging"
)

// Config holds cache configuration
type Config struct {
	Capacity  int           `json:"capacity"`
	TTL       time.Duration `json:"ttl"`
	KeyPrefix string        `json:"key_prefix,omitempty"`
	// RedisClient enables the shared tier when set
	RedisClient redis.Cmdable  `json:"-"`
	Clock       clock.Clock    `json:"-"`
	Logger      logging.Logger `json:"-"`
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		Capacity:  1024,
		TTL:       5 * time.Minute,
		KeyPrefix: "playshelf:cache:",
	}
}

// New creates a Tiered cache: always an LRU, plus Redis when a client is configured
func New[V any](config Config) (*Tiered[V], error) {
	if config.Capacity <= 0 {
		return nil, fmt.Errorf("cache capacity must be positive, got %d", config.Capacity)
	}
	if config.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", config.TTL)
	}

	var opts []LRUOption
	if config.Clock != nil {
		opts = append(opts, WithClock(config.Clock))
	}
	l1 := NewLRU[V](config.Capacity, config.TTL, opts...)

	if config.RedisClient == nil {
		return NewTiered[V](l1, nil), nil
	}

	l2 := NewRedis[V](config.RedisClient, config.KeyPrefix, config.TTL, config.Logger)
	if config.Clock != nil {
		l2.clock = config.Clock
	}
	return NewTiered[V](l1, l2), nil
}
