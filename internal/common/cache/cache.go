package cache

import (
	"context"
	"time"
)

// Store is a keyed cache of V. Backend failures are reported from writes;
// a read that fails is a miss.
type Store[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	// Set stores value for ttl; ttl <= 0 means the store's default
	Set(ctx context.Context, key string, value V, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// expiringStore can report how long a hit has left to live
type expiringStore[V any] interface {
	Store[V]
	GetWithTTL(ctx context.Context, key string) (V, time.Duration, bool)
}
