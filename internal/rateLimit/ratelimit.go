// Package rateLimit is a fixed-window counter in redis. It guards the gate
// verification endpoint against signature guessing.
package rateLimit

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	redisadapter "github.com/robertarktes/lumentix-tickets/internal/adapters/redis"
	"github.com/robertarktes/lumentix-tickets/internal/observability"
)

type RateLimiter struct {
	redis *redisadapter.Cache
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis}
}

// Allow counts one hit for key in the current window. The window starts
// with the first hit; later hits do not extend it.
func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	fullKey := "rl:" + key

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.ExpireNX(ctx, fullKey, period)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, errors.Wrap(err, "rate limit "+key)
	}

	if incr.Val() > int64(rate) {
		observability.RateLimitExceeded.Inc()
		return false, nil
	}
	return true, nil
}
