package ratelimit

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// localLimiter keeps one token bucket per key; idle buckets expire
type localLimiter struct {
	config Config
	clock  clock.Clock

	mu      sync.Mutex
	buckets *gocache.Cache
}

// NewLocalLimiter creates an in-memory per-key limiter
func NewLocalLimiter(config Config, clk clock.Clock) (Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if !config.Enabled() {
		return allowAll{}, nil
	}
	if clk == nil {
		clk = clock.New()
	}

	return &localLimiter{
		config:  config,
		clock:   clk,
		buckets: gocache.New(config.IdleTimeout, config.IdleTimeout),
	}, nil
}

func (l *localLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.clock.Now()
	r := l.bucket(key).ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// bucket gets or creates the limiter for key and refreshes its idle timer
func (l *localLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	var lim *rate.Limiter
	if v, ok := l.buckets.Get(key); ok {
		lim = v.(*rate.Limiter)
	} else {
		lim = rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.Burst)
	}
	l.buckets.SetDefault(key, lim)
	return lim
}

// Keys returns how many clients currently hold state
func (l *localLimiter) Keys() int {
	return l.buckets.ItemCount()
}
