package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"kanban-api/domain"
)

type backend interface {
	Create(ctx context.Context, t domain.Task) error
	Read(ctx context.Context, id string) (domain.Task, error)
	Update(ctx context.Context, id string, mutate Mutator) (domain.Task, error)
	Relocate(ctx context.Context, id string, to domain.Status, mutate Mutator) (domain.Task, error)
	Delete(ctx context.Context, id string) error
	Discard(ctx context.Context, id string, st domain.Status) error
	ListByStatus(ctx context.Context, st domain.Status) ([]domain.Task, error)
}

// Cache wraps a record backend with Redis-backed caching of column listings.
type Cache struct {
	base  backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) Read(ctx context.Context, id string) (domain.Task, error) {
	return c.base.Read(ctx, id)
}

func (c *Cache) ListByStatus(ctx context.Context, st domain.Status) ([]domain.Task, error) {
	if tasks, ok := c.loadColumn(ctx, st); ok {
		return tasks, nil
	}

	tasks, err := c.base.ListByStatus(ctx, st)
	if err != nil {
		return nil, err
	}

	c.storeColumn(ctx, st, tasks)
	return tasks, nil
}

func (c *Cache) Create(ctx context.Context, t domain.Task) error {
	if err := c.base.Create(ctx, t); err != nil {
		return err
	}
	c.evict(ctx, t.Status)
	return nil
}

func (c *Cache) Update(ctx context.Context, id string, mutate Mutator) (domain.Task, error) {
	t, err := c.base.Update(ctx, id, mutate)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, t.Status)
	return t, nil
}

func (c *Cache) Relocate(ctx context.Context, id string, to domain.Status, mutate Mutator) (domain.Task, error) {
	t, err := c.base.Relocate(ctx, id, to, mutate)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx, domain.Statuses...)
	return t, nil
}

func (c *Cache) Delete(ctx context.Context, id string) error {
	if err := c.base.Delete(ctx, id); err != nil {
		return err
	}
	c.evict(ctx, domain.Statuses...)
	return nil
}

func (c *Cache) Discard(ctx context.Context, id string, st domain.Status) error {
	if err := c.base.Discard(ctx, id, st); err != nil {
		return err
	}
	c.evict(ctx, st)
	return nil
}

func (c *Cache) loadColumn(ctx context.Context, st domain.Status) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, columnCacheKey(st)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, columnCacheKey(st)).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, columnCacheKey(st)).Err()
		return nil, false
	}
	return tasks, true
}

func (c *Cache) storeColumn(ctx context.Context, st domain.Status, tasks []domain.Task) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, columnCacheKey(st), data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, statuses ...domain.Status) {
	if c.redis == nil || len(statuses) == 0 {
		return
	}
	keys := make([]string, 0, len(statuses))
	for _, st := range statuses {
		keys = append(keys, columnCacheKey(st))
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func columnCacheKey(st domain.Status) string {
	return "tasks:" + string(st)
}
