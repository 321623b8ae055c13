// Package utils provides the retry and backoff helpers shared by the token
// and search paths.
package utils

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
)

// RetryConfig holds configuration for retry operations with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial attempt)
	MaxAttempts int

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries (caps exponential growth)
	MaxDelay time.Duration

	// BackoffFactor is the multiplier for exponential backoff (e.g., 2.0 doubles delay)
	BackoffFactor float64

	// JitterFactor adds randomness to delays (0.0-1.0, where 0.1 = 10% jitter)
	JitterFactor float64

	// RetryableErrors determines which errors should trigger a retry.
	// If nil, all errors are considered retryable.
	RetryableErrors func(error) bool

	// Clock drives the waits between attempts. Nil means the wall clock.
	Clock clock.Clock
}

// DefaultRetryConfig returns the backoff used for token renewal and upstream
// retries unless configuration overrides it.
//
// Default settings:
//   - MaxAttempts: 3 (initial attempt + 2 retries)
//   - InitialDelay: 200 milliseconds
//   - MaxDelay: 5 seconds
//   - BackoffFactor: 2.0 (exponential backoff)
//   - JitterFactor: 0.1 (10% randomization)
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
		RetryableErrors: func(err error) bool {
			return true
		},
	}
}

// RetryWithBackoff executes fn up to MaxAttempts times with exponentially
// increasing delays between attempts.
//
// Returns:
//   - nil if the function succeeds within the attempt limit
//   - the original error if it is not retryable
//   - "max retries exceeded" wrapping the last error if all attempts fail
//   - "retry cancelled" wrapping ctx.Err() if ctx ends while waiting
func RetryWithBackoff(ctx context.Context, config RetryConfig, fn func() error) error {
	var lastErr error
	clk := config.Clock
	if clk == nil {
		clk = clock.New()
	}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if config.RetryableErrors != nil && !config.RetryableErrors(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		if err := Sleep(ctx, clk, Backoff(config, attempt)); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	if lastErr == nil {
		return fmt.Errorf("max retries exceeded: no attempts made")
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Backoff returns the wait after the given failed attempt (1-based):
// InitialDelay * BackoffFactor^(attempt-1), capped at MaxDelay, plus jitter.
func Backoff(config RetryConfig, attempt int) time.Duration {
	delay := config.InitialDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * config.BackoffFactor)
		if config.MaxDelay > 0 && delay > config.MaxDelay {
			delay = config.MaxDelay
			break
		}
	}
	if config.MaxDelay > 0 && delay > config.MaxDelay {
		delay = config.MaxDelay
	}

	if config.JitterFactor > 0 {
		jitter := time.Duration(float64(delay) * config.JitterFactor)
		delay += time.Duration(randomInt64n(int64(jitter)))
	}
	return delay
}

// Sleep waits for d on clk, returning ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// randomInt64n returns a random int64 in [0, n) from crypto/rand, or 0 when n <= 0.
func randomInt64n(n int64) int64 {
	if n <= 0 {
		return 0
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return time.Now().UnixNano() % n
	}
	return int64(binary.BigEndian.Uint64(buf[:])>>1) % n
}
