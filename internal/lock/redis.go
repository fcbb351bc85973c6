package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisLockPrefix = "coldsnap:lock:"

// unlockScript only deletes the key if it still holds the token this
// process wrote, so one holder can never release another's lock that
// outlived its own TTL and was re-acquired elsewhere. Lifted from the
// teacher's Redis DistributedLock.Unlock.
const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`

// RedisLocker is an optional fleet-wide Locker backend: several hosts
// sharing one archive destination can coordinate through a shared
// Redis instance. No coldsnap command constructs it.
type RedisLocker struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string // key -> this holder's token
}

// NewRedisLocker wraps an existing go-redis client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client, tokens: make(map[string]string)}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, redisLockPrefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *RedisLocker) AcquireWithRetry(ctx context.Context, key string, ttl time.Duration, maxRetries int, retryInterval time.Duration) (bool, error) {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquired, err := l.Acquire(ctx, key, ttl)
		if err != nil || acquired {
			return acquired, err
		}
		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(retryInterval):
		}
	}
	return false, nil
}

func (l *RedisLocker) Release(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	token, held := l.tokens[key]
	l.mu.Unlock()
	if !held {
		return false, nil
	}

	result, err := l.client.Eval(ctx, unlockScript, []string{redisLockPrefix + key}, token).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock release %s: %w", key, err)
	}
	l.mu.Lock()
	delete(l.tokens, key)
	l.mu.Unlock()
	return result != 0, nil
}

func (l *RedisLocker) Extend(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	token, held := l.tokens[key]
	l.mu.Unlock()
	if !held {
		return false, nil
	}

	result, err := l.client.Eval(ctx, extendScript, []string{redisLockPrefix + key}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis lock extend %s: %w", key, err)
	}
	return result != 0, nil
}

func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := l.client.Exists(ctx, redisLockPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock check %s: %w", key, err)
	}
	return n > 0, nil
}

var _ Locker = (*RedisLocker)(nil)
