// Package ratelimit throttles inbound requests per client key, in memory or
// across instances through Redis.
//
// This is independent of the outbound limiter guarding the game database: it
// keeps one noisy client from spending the shared provider budget.
//
//	limiter, err := ratelimit.New(ratelimit.Config{RequestsPerSecond: 5, Burst: 10}, nil)
//	if err != nil {
//		return err
//	}
//	decision, err := limiter.Allow(ctx, clientIP)
//	if !decision.Allowed {
//		w.Header().Set("Retry-After", ...)
//	}
package ratelimit
