package flags

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey holds the generation flag.
const DefaultRedisKey = "recast:generation_enabled"

// RedisSource reads the flag from a Redis string key. A missing key means the
// default value.
type RedisSource struct {
	client *redis.Client
	key    string
	def    bool
}

// NewRedisSource connects to the Redis instance at url.
func NewRedisSource(url string, def bool) (*RedisSource, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("flags: parse redis url: %w", err)
	}
	return &RedisSource{client: redis.NewClient(opt), key: DefaultRedisKey, def: def}, nil
}

// GenerationEnabled implements Source.
func (s *RedisSource) GenerationEnabled(ctx context.Context) (bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return s.def, nil
	}
	if err != nil {
		return false, fmt.Errorf("flags: redis get %s: %w", s.key, err)
	}
	return ParseValue(raw, s.def)
}

// SetGenerationEnabled stores the flag.
func (s *RedisSource) SetGenerationEnabled(ctx context.Context, enabled bool) error {
	if err := s.client.Set(ctx, s.key, strconv.FormatBool(enabled), 0).Err(); err != nil {
		return fmt.Errorf("flags: redis set %s: %w", s.key, err)
	}
	return nil
}

// Healthy checks connectivity.
func (s *RedisSource) Healthy(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (s *RedisSource) Close() error {
	return s.client.Close()
}
