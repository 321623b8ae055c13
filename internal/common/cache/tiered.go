package cache

import (
	"context"
	"time"

	"playshelf/internal/metrics"
)

// Tiered checks an in-process LRU first and an optional shared tier second
type Tiered[V any] struct {
	l1 *LRU[V]
	l2 expiringStore[V]
}

// NewTiered combines l1 with l2. l2 may be nil.
func NewTiered[V any](l1 *LRU[V], l2 expiringStore[V]) *Tiered[V] {
	return &Tiered[V]{l1: l1, l2: l2}
}

// Get checks L1 first, then L2. An L2 hit is copied into L1 for the time it
// has left, never longer.
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if val, found := t.l1.Get(ctx, key); found {
		metrics.RecordCacheLookup("l1", true)
		return val, true
	}
	metrics.RecordCacheLookup("l1", false)

	if t.l2 == nil {
		var zero V
		return zero, false
	}

	val, remaining, found := t.l2.GetWithTTL(ctx, key)
	metrics.RecordCacheLookup("l2", found)
	if !found {
		return val, false
	}
	_ = t.l1.Set(ctx, key, val, remaining)
	return val, true
}

// Set stores in both tiers. The L1 write always happens; an L2 failure is returned.
func (t *Tiered[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	_ = t.l1.Set(ctx, key, value, ttl)
	if t.l2 == nil {
		return nil
	}
	return t.l2.Set(ctx, key, value, ttl)
}

// Delete removes from both tiers
func (t *Tiered[V]) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	if t.l2 == nil {
		return nil
	}
	return t.l2.Delete(ctx, key)
}

// Local returns the in-process tier
func (t *Tiered[V]) Local() *LRU[V] {
	return t.l1
}
