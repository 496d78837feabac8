package advisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"siteplan/domain"
)

// ResultStore keeps the most recent advice.
type ResultStore interface {
	Save(ctx context.Context, advice domain.Advice) error
	Load(ctx context.Context) (*domain.Advice, error)
	Clear(ctx context.Context) error
}

// MemoryResults holds the advice in process.
type MemoryResults struct {
	mu     sync.RWMutex
	advice *domain.Advice
}

func (m *MemoryResults) Save(_ context.Context, advice domain.Advice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advice = &advice
	return nil
}

func (m *MemoryResults) Load(context.Context) (*domain.Advice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.advice == nil {
		return nil, nil
	}
	a := *m.advice
	return &a, nil
}

func (m *MemoryResults) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advice = nil
	return nil
}

// RedisResults shares the advice between replicas.
type RedisResults struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisResults stores advice for projectID. A zero ttl keeps it until
// cleared.
func NewRedisResults(client *redis.Client, projectID string, ttl time.Duration) *RedisResults {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisResults{client: client, key: "advisor:advice:" + projectID, ttl: ttl}
}

func (r *RedisResults) Save(ctx context.Context, advice domain.Advice) error {
	data, err := sonic.Marshal(advice)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key, data, r.ttl).Err()
}

func (r *RedisResults) Load(ctx context.Context) (*domain.Advice, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var advice domain.Advice
	if err := sonic.Unmarshal(data, &advice); err != nil {
		return nil, err
	}
	return &advice, nil
}

func (r *RedisResults) Clear(ctx context.Context) error {
	return r.client.Del(ctx, r.key).Err()
}
