package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-redis/redis/v8"

	"playshelf/internal/common/errors"
)

const redisTimeout = 2 * time.Second

// distributedLimiter is a sliding-window log in a Redis sorted set, shared by
// every instance pointing at the same server.
type distributedLimiter struct {
	config Config
	rdb    redis.Cmdable
	clock  clock.Clock
	seq    atomic.Uint64
}

// NewDistributedLimiter creates a Redis-backed per-key limiter admitting Burst
// requests per Burst/RequestsPerSecond window.
func NewDistributedLimiter(config Config, rdb redis.Cmdable, clk clock.Clock) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled() {
		return allowAll{}, nil
	}
	if rdb == nil {
		return nil, errors.ConfigError("redis client is required for distributed rate limiter")
	}
	if clk == nil {
		clk = clock.New()
	}
	return &distributedLimiter{config: config, rdb: rdb, clock: clk}, nil
}

func (l *distributedLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()

	redisKey := l.config.KeyPrefix + key
	window := l.config.window()
	now := l.clock.Now()
	windowStart := now.Add(-window).UnixNano()
	member := strconv.FormatInt(now.UnixNano(), 10) + "-" + strconv.FormatUint(l.seq.Add(1), 10)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.ZAdd(ctx, redisKey, &redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.PExpire(ctx, redisKey, window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true}, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if int(countCmd.Val()) < l.config.Burst {
		return Decision{Allowed: true}, nil
	}

	// Rejected requests do not count against the window
	l.rdb.ZRem(ctx, redisKey, member)

	retryAfter := window
	oldest, err := l.rdb.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	if err == nil && len(oldest) == 1 {
		if wait := time.Duration(int64(oldest[0].Score)+window.Nanoseconds()-now.UnixNano()); wait > 0 {
			retryAfter = wait
		}
	}
	return Decision{RetryAfter: retryAfter}, nil
}
