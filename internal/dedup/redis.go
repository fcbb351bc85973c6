package dedup

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisDedupPrefix = "coldsnap:dedup:"

// RedisIndex is the shared-across-hosts variant of the persistent
// key-value backend spec.md §4.5 names, for fleets that dedup against
// a common archive from more than one sender.
type RedisIndex struct {
	client *redis.Client
}

// NewRedisIndex wraps an existing go-redis client.
func NewRedisIndex(client *redis.Client) *RedisIndex {
	return &RedisIndex{client: client}
}

func (idx *RedisIndex) key(hash string) string { return redisDedupPrefix + hash }

func (idx *RedisIndex) Lookup(ctx context.Context, hash string) (Entry, bool, error) {
	val, err := idx.client.Get(ctx, idx.key(hash)).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis dedup lookup %s: %w", hash, err)
	}
	entry, err := decodeEntry(val)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

func (idx *RedisIndex) Insert(ctx context.Context, hash string, entry Entry) error {
	ok, err := idx.client.SetNX(ctx, idx.key(hash), encodeEntry(entry), 0).Result()
	if err != nil {
		return fmt.Errorf("redis dedup insert %s: %w", hash, err)
	}
	_ = ok // SetNX already makes insert-on-duplicate a no-op.
	return nil
}

func (idx *RedisIndex) Len(ctx context.Context) (int, error) {
	var count int
	iter := idx.client.Scan(ctx, 0, redisDedupPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis dedup scan: %w", err)
	}
	return count, nil
}

func encodeEntry(e Entry) string {
	return strconv.Itoa(e.SessionIndex) + ":" + strconv.FormatInt(e.Addr, 10)
}

func decodeEntry(s string) (Entry, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Entry{}, fmt.Errorf("malformed dedup entry %q", s)
	}
	sessionIndex, err := strconv.Atoi(parts[0])
	if err != nil {
		return Entry{}, fmt.Errorf("malformed dedup entry %q: %w", s, err)
	}
	addr, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("malformed dedup entry %q: %w", s, err)
	}
	return Entry{SessionIndex: sessionIndex, Addr: addr}, nil
}

var _ Index = (*RedisIndex)(nil)
