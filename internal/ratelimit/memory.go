package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

type bucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// idleExpiry drops buckets that have not been touched for this long. A
// dropped bucket comes back full, which is what it would have refilled to.
const idleExpiry = 10 * time.Minute

// MemoryLimiter is a token bucket per key: rate tokens per second up to
// burst.
type MemoryLimiter struct {
	rate    float64
	burst   float64
	buckets *cache.Cache
	mu      sync.Mutex // serializes bucket creation
}

// NewMemoryLimiter creates a token bucket limiter.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		rate:    rate,
		burst:   float64(max(burst, 1)),
		buckets: cache.New(idleExpiry, time.Minute),
	}
}

// Allow consumes one token for key if one is available.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens = min(m.burst, b.tokens+now.Sub(b.last).Seconds()*m.rate)
	b.last = now
	m.buckets.SetDefault(key, b)

	if b.tokens < 1 {
		return false, nil
	}
	b.tokens--
	return true, nil
}

func (m *MemoryLimiter) bucketFor(key string) *bucket {
	if v, ok := m.buckets.Get(key); ok {
		return v.(*bucket)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.buckets.Get(key); ok {
		return v.(*bucket)
	}
	b := &bucket{tokens: m.burst, last: time.Now()}
	m.buckets.SetDefault(key, b)
	return b
}

// Close releases the buckets.
func (m *MemoryLimiter) Close() error {
	m.buckets.Flush()
	return nil
}
