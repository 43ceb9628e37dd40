package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// usageWindow is the lifetime of one budget bucket.
const usageWindow = 24 * time.Hour

type RedisLimiter struct {
	client *redis.Client
	limit  int // Max tokens allowed per window
	now    func() time.Time
}

func NewRedisLimiter(client *redis.Client, limit int) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		limit:  limit,
		now:    time.Now,
	}
}

func (r *RedisLimiter) CheckLimit(ctx context.Context, clientID string) (bool, error) {
	val, err := r.client.Get(ctx, r.key(clientID)).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil // No usage yet
	}
	if err != nil {
		return false, fmt.Errorf("reading usage: %w", err)
	}
	usage, err := strconv.Atoi(val)
	if err != nil {
		return false, fmt.Errorf("parsing usage %q: %w", val, err)
	}
	return usage < r.limit, nil
}

func (r *RedisLimiter) Increment(ctx context.Context, clientID string, tokens int) error {
	key := r.key(clientID)
	pipe := r.client.TxPipeline()
	pipe.IncrBy(ctx, key, int64(tokens))
	pipe.Expire(ctx, key, usageWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// key buckets usage per client and UTC day.
func (r *RedisLimiter) key(clientID string) string {
	return "usage:" + clientID + ":" + r.now().UTC().Format("20060102")
}

// NopLimiter allows everything and records nothing.
type NopLimiter struct{}

func (NopLimiter) CheckLimit(context.Context, string) (bool, error) { return true, nil }

func (NopLimiter) Increment(context.Context, string, int) error { return nil }
