package redis

import (
	"context"
	"time"

	"activation-service/internal/domain/ports/adapter"
)

var _ adapter.RateLimiter = (*RateLimiter)(nil)

// RateLimiter is a fixed-window counter shared by every replica that talks
// to the same Redis.
type RateLimiter struct {
	client RedisClient
	limit  int
	window time.Duration
	prefix string
}

func NewRateLimiter(client RedisClient, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{client: client, limit: limit, window: window, prefix: "rate_limit:"}
}

func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := CallerKey(r.prefix, key)
	count, err := r.client.Incr(ctx, k)
	if err != nil {
		return false, err
	}

	if count == 1 {
		err = r.client.Expire(ctx, k, r.window)
		if err != nil {
			return false, err
		}
	}

	if count > int64(r.limit) {
		return false, nil
	}

	return true, nil
}

func CallerKey(prefix, caller string) string {
	return prefix + caller
}
