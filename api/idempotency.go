package api

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrRequestInFlight is returned when a key is claimed but its create has not
// finished yet.
var ErrRequestInFlight = errors.New("request with this idempotency key is in progress")

// RedisDeduper stores idempotency keys in Redis so every instance answers a
// replayed create with the task it already made.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(key string) string {
	return "idempotency:" + key
}

func (r *RedisDeduper) Claim(ctx context.Context, key string) (string, bool, error) {
	added, err := r.client.SetNX(ctx, r.key(key), pendingMarker, r.ttl).Result()
	if err != nil {
		return "", false, err
	}
	if added {
		return "", true, nil
	}
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; try once more.
		added, err = r.client.SetNX(ctx, r.key(key), pendingMarker, r.ttl).Result()
		return "", added, err
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, ErrRequestInFlight
	}
	return val, false, nil
}

func (r *RedisDeduper) Bind(ctx context.Context, key, taskID string) error {
	return r.client.Set(ctx, r.key(key), taskID, r.ttl).Err()
}

// Release deletes a claimed key. It is used when the create fails so the
// caller may retry.
func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
