// Package ratelimit gates every outbound call to the game database.
//
// A Limiter combines two bounds:
//
//   - a token bucket (golang.org/x/time/rate) with capacity C refilled at R
//     tokens per second, matching the provider's published request rate
//   - a semaphore capping how many requests are in flight at once
//
// Acquire first takes an in-flight slot, then reserves one bucket token and
// sleeps exactly until that token is available. If the caller gives up while
// waiting, the reservation is cancelled and its token returned to the bucket,
// and the slot is released. State lives only in memory: a restarted process
// starts with a full bucket.
package ratelimit
