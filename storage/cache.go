package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"siteplan/domain"
)

const snapshotVersion = 1

type cachedSnapshot struct {
	Version  int           `json:"version"`
	CachedAt time.Time     `json:"cachedAt"`
	Tasks    []domain.Task `json:"tasks"`
}

// Cache wraps a Persister with a Redis-held snapshot of the task sequence.
// Redis failures never fail a call; they fall back to the base store.
type Cache struct {
	base  Persister
	redis *redis.Client
	ttl   time.Duration
	key   string
	now   func() time.Time
}

// NewCache creates a read-through, write-through snapshot cache.
func NewCache(base Persister, client *redis.Client, projectID string, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base persister is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, key: snapshotCacheKey(projectID), now: time.Now}
}

func (c *Cache) LoadAll(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.load(ctx); ok {
		return tasks, nil
	}
	tasks, err := c.base.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasks)
	return tasks, nil
}

func (c *Cache) SaveAll(ctx context.Context, tasks []domain.Task) error {
	if err := c.base.SaveAll(ctx, tasks); err != nil {
		c.evict(ctx)
		return err
	}
	c.store(ctx, tasks)
	return nil
}

func (c *Cache) load(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.evict(ctx)
		}
		return nil, false
	}
	var snap cachedSnapshot
	if err := sonic.Unmarshal(data, &snap); err != nil || snap.Version != snapshotVersion {
		c.evict(ctx)
		return nil, false
	}
	if snap.Tasks == nil {
		snap.Tasks = []domain.Task{}
	}
	return snap.Tasks, true
}

func (c *Cache) store(ctx context.Context, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(cachedSnapshot{Version: snapshotVersion, CachedAt: c.now().UTC(), Tasks: tasks})
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, c.key).Err()
}

func snapshotCacheKey(projectID string) string {
	return "tasks:" + projectID
}
