package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"playshelf/internal/common/errors"
	"playshelf/internal/common/utils"
	"playshelf/internal/metrics"
)

// Config represents rate limiter configuration
type Config struct {
	// Capacity is the bucket size: how many requests may go out back to back
	Capacity int `yaml:"capacity"`
	// RefillPerSecond is the sustained request rate
	RefillPerSecond float64 `yaml:"refill_per_second"`
	// MaxInFlight caps concurrent outstanding requests
	MaxInFlight int `yaml:"max_in_flight"`
}

// DefaultConfig matches the game database's documented limits
func DefaultConfig() Config {
	return Config{
		Capacity:        4,
		RefillPerSecond: 4,
		MaxInFlight:     8,
	}
}

// Validate validates the rate limiter configuration
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return errors.ConfigError(fmt.Sprintf("rate limit capacity must be positive, got %d", c.Capacity))
	}
	if c.RefillPerSecond <= 0 {
		return errors.ConfigError(fmt.Sprintf("rate limit refill must be positive, got %v", c.RefillPerSecond))
	}
	if c.MaxInFlight <= 0 {
		return errors.ConfigError(fmt.Sprintf("max in-flight must be positive, got %d", c.MaxInFlight))
	}
	return nil
}

// Stats is a point-in-time view of the limiter
type Stats struct {
	Capacity    int     `json:"capacity"`
	Tokens      float64 `json:"tokens"`
	MaxInFlight int     `json:"max_in_flight"`
	InFlight    int     `json:"in_flight"`
}

// Limiter is a token bucket plus an in-flight cap
type Limiter struct {
	config   Config
	bucket   *rate.Limiter
	inflight *semaphore.Weighted
	clock    clock.Clock

	mu    sync.Mutex
	inUse int
}

// Option customizes a Limiter
type Option func(*Limiter)

// WithClock sets the clock the bucket is driven by
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) {
		l.clock = clk
	}
}

// New creates a Limiter with a full bucket
func New(config Config, opts ...Option) (*Limiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		config:   config,
		bucket:   rate.NewLimiter(rate.Limit(config.RefillPerSecond), config.Capacity),
		inflight: semaphore.NewWeighted(int64(config.MaxInFlight)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.clock == nil {
		l.clock = clock.New()
	}
	return l, nil
}

// Permit is held for the duration of one upstream request
type Permit struct {
	// Waited is how long the caller slept for a bucket token
	Waited time.Duration

	once    sync.Once
	release func()
}

// Release frees the in-flight slot. Safe to call more than once.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// Acquire blocks until a request may be sent. On cancellation or deadline it
// returns a canceled or timeout AppError and leaves the bucket as it found it.
func (l *Limiter) Acquire(ctx context.Context) (*Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.FromContext("rate limiter wait", err)
	}

	if err := l.inflight.Acquire(ctx, 1); err != nil {
		return nil, errors.FromContext("rate limiter wait", err)
	}
	l.trackInFlight(1)
	releaseSlot := func() {
		l.trackInFlight(-1)
		l.inflight.Release(1)
	}

	now := l.clock.Now()
	r := l.bucket.ReserveN(now, 1)
	if !r.OK() {
		releaseSlot()
		return nil, errors.InternalError("rate limiter cannot satisfy a single-token reservation", nil)
	}

	delay := r.DelayFrom(now)
	if dl, ok := ctx.Deadline(); ok && delay > 0 && time.Until(dl) < delay {
		r.CancelAt(now)
		releaseSlot()
		return nil, errors.TimeoutError("rate limiter wait", context.DeadlineExceeded).
			WithContext("required_wait", delay.String())
	}

	if err := utils.Sleep(ctx, l.clock, delay); err != nil {
		r.CancelAt(l.clock.Now())
		releaseSlot()
		return nil, errors.FromContext("rate limiter wait", err)
	}

	metrics.RateLimitWait.Observe(delay.Seconds())
	return &Permit{Waited: delay, release: releaseSlot}, nil
}

// Delay reports how long a caller arriving now would wait for a bucket token.
// It does not consume anything.
func (l *Limiter) Delay() time.Duration {
	tokens := l.bucket.TokensAt(l.clock.Now())
	if tokens >= 1 {
		return 0
	}
	seconds := (1 - tokens) / l.config.RefillPerSecond
	return time.Duration(seconds * float64(time.Second))
}

// Stats reports bucket and in-flight usage
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	inUse := l.inUse
	l.mu.Unlock()

	return Stats{
		Capacity:    l.config.Capacity,
		Tokens:      l.bucket.TokensAt(l.clock.Now()),
		MaxInFlight: l.config.MaxInFlight,
		InFlight:    inUse,
	}
}

func (l *Limiter) trackInFlight(delta int) {
	l.mu.Lock()
	l.inUse += delta
	l.mu.Unlock()
}
