package advisor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Guard is the single in-flight flag for analyses.
type Guard interface {
	// Acquire reports false when an analysis is already running.
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Held(ctx context.Context) (bool, error)
}

// LocalGuard is a process-wide flag.
type LocalGuard struct {
	busy atomic.Bool
}

func (g *LocalGuard) Acquire(context.Context) (bool, error) {
	return g.busy.CompareAndSwap(false, true), nil
}

func (g *LocalGuard) Release(context.Context) error {
	g.busy.Store(false)
	return nil
}

func (g *LocalGuard) Held(context.Context) (bool, error) {
	return g.busy.Load(), nil
}

// releaseScript deletes the lock only while it still holds our token, so a
// holder whose lock expired cannot free a newer holder's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisGuard shares the flag between replicas with SET NX. The TTL frees the
// flag if a holder dies mid-run.
type RedisGuard struct {
	client *redis.Client
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

// NewRedisGuard guards analyses of projectID. ttl should exceed the
// generator timeout.
func NewRedisGuard(client *redis.Client, projectID string, ttl time.Duration) (*RedisGuard, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 2 * DefaultTimeout
	}
	return &RedisGuard{client: client, key: "advisor:inflight:" + projectID, ttl: ttl}, nil
}

func (g *RedisGuard) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := g.client.SetNX(ctx, g.key, token, g.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
	return true, nil
}

func (g *RedisGuard) Release(ctx context.Context) error {
	g.mu.Lock()
	token := g.token
	g.token = ""
	g.mu.Unlock()
	if token == "" {
		return nil
	}
	return releaseScript.Run(ctx, g.client, []string{g.key}, token).Err()
}

func (g *RedisGuard) Held(ctx context.Context) (bool, error) {
	n, err := g.client.Exists(ctx, g.key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
