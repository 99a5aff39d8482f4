package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pathledger/internal/domain"
)

const redisKeyPrefix = "pathledger:ratelimit:"

type redisLimiter struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisLimiter counts hits in Redis so every replica shares one budget per
// key. Each window gets its own counter key, which expires shortly after the
// window closes.
func NewRedisLimiter(addr, password string, db int, now func() time.Time) (domain.RateLimiter, error) {
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	if now == nil {
		now = time.Now
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisLimiter{client: client, now: now}, nil
}

func (r *redisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return unlimited(limit), nil
	}
	now := r.now()
	idx, closes := alignedWindow(now, window)
	counterKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, idx)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counterKey)
		pipe.PExpireAt(ctx, counterKey, closes.Add(time.Second))
		return nil
	})
	if err != nil {
		return domain.RateLimitDecision{}, fmt.Errorf("redis rate limit: %w", err)
	}
	return decide(limit, incr.Val(), closes), nil
}
