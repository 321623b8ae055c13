package ratelimit

import (
	"github.com/go-redis/redis/v8"
)

// New returns a distributed limiter when rdb is set, otherwise a local one
func New(config Config, rdb redis.Cmdable) (Limiter, error) {
	if rdb != nil {
		return NewDistributedLimiter(config, rdb, nil)
	}
	return NewLocalLimiter(config, nil)
}
