// Package cache provides the gateway's response cache.
//
// Three stores share the Store interface:
//
// 1. LRU - capacity-bounded in-process cache
//   - least-recently-used eviction before an insert would exceed capacity
//   - per-entry TTL, checked lazily on every access
//   - Sweep removes expired entries in bulk; StartSweeper schedules it
//
// 2. Redis - optional shared tier using go-redis
//   - JSON values wrapped with their expiry
//   - shared across gateway instances
//
// 3. Tiered - LRU in front of an optional second tier
//   - L1 misses fall through to L2 and are back-filled with the remaining TTL
//   - writes go to both tiers, last write wins
//
// Usage:
//
//	pages, err := cache.New[catalog.SearchResultPage](cache.Config{
//		Capacity:    1024,
//		TTL:         5 * time.Minute,
//		RedisClient: rdb,
//		KeyPrefix:   "playshelf:pages:",
//	})
//	pages.Set(ctx, key, page, 0)
//	page, found := pages.Get(ctx, key)
package cache
