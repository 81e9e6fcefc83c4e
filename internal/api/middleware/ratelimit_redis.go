package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps rate limit windows and blocks in Redis.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a Redis-backed limiter state.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

// Allow implements a sliding window over a per-window sorted set.
func (b *RedisBackend) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, int, time.Time) {
	now := time.Now()
	windowStart := now.Add(-window)

	// Use a fixed window key based on current time bucket
	windowKey := fmt.Sprintf("%s:%d", key, now.Unix()/int64(window.Seconds()))

	pipe := b.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, windowKey)
	pipe.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, windowKey, window*2)
	_, _ = pipe.Exec(ctx)

	count := countCmd.Val()
	remaining := limit - int(count) - 1
	if remaining < 0 {
		remaining = 0
	}

	return count < int64(limit), remaining, now.Add(window)
}

// IsBlocked checks if an IP is blocked.
func (b *RedisBackend) IsBlocked(ctx context.Context, ip string) bool {
	exists, _ := b.client.Exists(ctx, blockedKey(ip)).Result()
	return exists > 0
}

// Block blocks an IP for the specified duration.
func (b *RedisBackend) Block(ctx context.Context, ip string, duration time.Duration, reason string) {
	b.client.Set(ctx, blockedKey(ip), reason, duration)
}

func (b *RedisBackend) Violation(ctx context.Context, ip string) int64 {
	key := violationsKey(ip)
	count, _ := b.client.Incr(ctx, key).Result()
	b.client.Expire(ctx, key, time.Hour)
	return count
}
