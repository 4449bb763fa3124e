package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter is a fixed window counter in Redis, so every
// warden replica draws from the same allowance. Burst is added to the
// per-window limit.
type DistributedRateLimiter struct {
	redis  redis.Cmdable
	config RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter stores counters under prefix:key.
func NewDistributedRateLimiter(client redis.Cmdable, config RateLimitConfig, prefix string) *DistributedRateLimiter {
	if prefix == "" {
		prefix = "warden:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  client,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Take implements Limiter. The window starts at the first request for key
// and its expiry is never extended by later requests.
func (rl *DistributedRateLimiter) Take(ctx context.Context, key string) (Quota, bool, error) {
	redisKey := rl.key(key)

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := rl.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return Quota{}, false, fmt.Errorf("rate limit counter: %w", err)
	}

	ttl := pttl.Val()
	if ttl < 0 {
		// new key, or one that lost its expiry
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return Quota{}, false, fmt.Errorf("rate limit window: %w", err)
		}
		ttl = rl.config.WindowDuration
	}

	limit := rl.config.capacity()
	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	quota := Quota{
		Limit:     rl.config.RequestsPerWindow,
		Remaining: remaining,
		Reset:     time.Now().Add(ttl),
	}
	if count > limit {
		quota.RetryAfter = ttl
		return quota, false, nil
	}
	return quota, true, nil
}

// Reset clears the window for key.
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
