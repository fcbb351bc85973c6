// Package lock provides named mutual-exclusion locks. cmd/send holds
// a per-volume FileLocker lock while it sends that volume; no other
// command takes a lock, and there is no archive-wide or host-wide lock.
package lock

import (
	"context"
	"time"
)

// Locker is a named, TTL-bounded mutual-exclusion lock. Acquire
// reports false (not an error) when the lock is already held by
// someone else; Release reports false when the caller did not hold
// the lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryInterval time.Duration) (bool, error)
	Release(ctx context.Context, key string) (bool, error)
	Extend(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsHeld(ctx context.Context, key string) (bool, error)
}
