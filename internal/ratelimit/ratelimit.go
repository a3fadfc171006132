// Package ratelimit limits how often a caller may submit runs.
//
// MemoryLimiter is a per-process token bucket. RedisLimiter shares a
// fixed-window count across instances. Limiter errors fail open: a broken
// limiter never blocks traffic.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter permits every request.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
