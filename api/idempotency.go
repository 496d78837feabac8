package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDeduper remembers the Idempotency-Key of each task intake, scoped to
// the acting user, so a retried POST /api/tasks is refused on every replica
// until ttl passes.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper keeps keys for ttl.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

// key is per actor: two users may send the same header value.
func (r *RedisDeduper) key(actor, key string) string {
	return fmt.Sprintf("intake:%s:%s", actor, key)
}

// Add claims key for actor and reports whether this is its first use.
func (r *RedisDeduper) Add(ctx context.Context, actor, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(actor, key), 1, r.ttl).Result()
}

// Remove releases key after a rejected intake so the corrected retry with
// the same key is accepted.
func (r *RedisDeduper) Remove(ctx context.Context, actor, key string) error {
	return r.client.Del(ctx, r.key(actor, key)).Err()
}
