package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed bool
	// RetryAfter is when the key may try again; zero when allowed
	RetryAfter time.Duration
}

// Limiter admits or rejects requests per key without blocking
type Limiter interface {
	// Allow records one request for key. A backend failure is returned
	// alongside an allowing Decision: limiting fails open.
	Allow(ctx context.Context, key string) (Decision, error)
}

// allowAll is the Limiter used when limiting is disabled
type allowAll struct{}

func (allowAll) Allow(context.Context, string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
