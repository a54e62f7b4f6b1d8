package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type redisRateLimiter struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter shares deploy quotas between daemon replicas through
// redis.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return newRedisRateLimiter(client, logger), nil
}

func newRedisRateLimiter(client *redis.Client, logger *slog.Logger) *redisRateLimiter {
	return &redisRateLimiter{
		client:  client,
		logger:  logger,
		prefix:  "deploywatch:ratelimit:",
		timeout: 250 * time.Millisecond,
	}
}

// Allow fails open when redis is unreachable.
func (rl *redisRateLimiter) Allow(bucket string, limit int, window time.Duration) rateDecision {
	if limit <= 0 {
		return rateDecision{allowed: true}
	}
	ctx, cancel := context.WithTimeout(context.Background(), rl.timeout)
	defer cancel()

	key := rl.prefix + bucket
	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	ttl := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		rl.logRedisError("exec", err)
		return rateDecision{allowed: true}
	}
	retryAfter := ttl.Val()
	if retryAfter <= 0 {
		retryAfter = window
	}
	count := int(incr.Val())
	return rateDecision{allowed: count <= limit, count: count, retryAfter: retryAfter}
}

func (rl *redisRateLimiter) Close() {
	if rl.client != nil {
		_ = rl.client.Close()
	}
}

func (rl *redisRateLimiter) logRedisError(op string, err error) {
	if rl.logger == nil {
		return
	}
	rl.logger.Error("redis rate limiter error", "op", op, "error", err)
}
