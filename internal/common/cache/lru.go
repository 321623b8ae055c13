package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"playshelf/internal/metrics"
)

type lruEntry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// LRU is a capacity-bounded cache with per-entry TTL. Expired entries are
// never returned: Get evicts them on access and Sweep removes the rest.
type LRU[V any] struct {
	mu         sync.Mutex
	capacity   int
	defaultTTL time.Duration
	clock      clock.Clock

	// front is most recently used
	order *list.List
	items map[string]*list.Element
}

// LRUOption customizes an LRU
type LRUOption func(*lruOptions)

type lruOptions struct {
	clock clock.Clock
}

// WithClock sets the clock used for expiry
func WithClock(clk clock.Clock) LRUOption {
	return func(o *lruOptions) {
		o.clock = clk
	}
}

// NewLRU creates an LRU holding at most capacity entries. capacity < 1 is treated as 1.
func NewLRU[V any](capacity int, defaultTTL time.Duration, opts ...LRUOption) *LRU[V] {
	o := lruOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.New()
	}
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[V]{
		capacity:   capacity,
		defaultTTL: defaultTTL,
		clock:      o.clock,
		order:      list.New(),
		items:      make(map[string]*list.Element, capacity),
	}
}

// Get returns the value for key and marks it recently used
func (c *LRU[V]) Get(ctx context.Context, key string) (V, bool) {
	v, _, ok := c.GetWithTTL(ctx, key)
	return v, ok
}

// GetWithTTL is Get that also reports the remaining lifetime of the hit
func (c *LRU[V]) GetWithTTL(_ context.Context, key string) (V, time.Duration, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return zero, 0, false
	}
	entry := el.Value.(*lruEntry[V])
	remaining := entry.expiresAt.Sub(c.clock.Now())
	if remaining <= 0 {
		c.removeElement(el)
		metrics.CacheEvictions.WithLabelValues("expired").Inc()
		return zero, 0, false
	}
	c.order.MoveToFront(el)
	return entry.value, remaining, true
}

// Set inserts or replaces key. Inserting a new key into a full cache first
// evicts the least recently used entry.
func (c *LRU[V]) Set(_ context.Context, key string, value V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.clock.Now().Add(ttl)
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*lruEntry[V])
		entry.value = value
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	for c.order.Len() >= c.capacity {
		c.removeElement(c.order.Back())
		metrics.CacheEvictions.WithLabelValues("capacity").Inc()
	}
	c.items[key] = c.order.PushFront(&lruEntry[V]{key: key, value: value, expiresAt: expiresAt})
	return nil
}

// Delete removes key
func (c *LRU[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		metrics.CacheEvictions.WithLabelValues("invalidated").Inc()
	}
	return nil
}

// Sweep removes every expired entry and returns how many it removed
func (c *LRU[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*lruEntry[V]).expiresAt) {
			c.removeElement(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		metrics.CacheEvictions.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

// Len returns the number of stored entries, expired ones included
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge empties the cache
func (c *LRU[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.items = make(map[string]*list.Element, c.capacity)
}

func (c *LRU[V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	delete(c.items, el.Value.(*lruEntry[V]).key)
}
