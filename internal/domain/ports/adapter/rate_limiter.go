package adapter

import "context"

// RateLimiter decides whether the caller identified by key may proceed.
// Implementations own their window and quota; callers only supply identity.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
