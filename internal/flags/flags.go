// Package flags provides the global "generation enabled" switch. The value
// lives in an external source and is read through a short-lived cache;
// Refresh bypasses the cache.
package flags

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// Source reads the current flag value.
type Source interface {
	GenerationEnabled(ctx context.Context) (bool, error)
}

// StaticSource always returns the same value.
type StaticSource bool

// GenerationEnabled implements Source.
func (s StaticSource) GenerationEnabled(context.Context) (bool, error) { return bool(s), nil }

const cacheKey = "generation_enabled"

// sourceTimeout bounds one source read so a slow source cannot stall callers.
const sourceTimeout = 2 * time.Second

// Gate caches a Source. When the source fails, the last value read
// successfully is used, starting from the configured default.
type Gate struct {
	src    Source
	cache  *cache.Cache
	group  singleflight.Group
	last   atomic.Bool
	logger *slog.Logger
}

// NewGate creates a Gate that caches values for ttl.
func NewGate(src Source, ttl time.Duration, def bool, logger *slog.Logger) *Gate {
	g := &Gate{
		src:    src,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
	}
	g.last.Store(def)
	return g
}

// Enabled reports whether new runs may start.
func (g *Gate) Enabled(ctx context.Context) bool {
	if v, ok := g.cache.Get(cacheKey); ok {
		return v.(bool)
	}
	v, err, _ := g.group.Do(cacheKey, func() (any, error) {
		return g.fetch(ctx)
	})
	if err != nil {
		fallback := g.last.Load()
		g.logger.Warn("flags: source unavailable, using last known value", "enabled", fallback, "error", err)
		return fallback
	}
	return v.(bool)
}

// Refresh reads the source now and replaces the cached value.
func (g *Gate) Refresh(ctx context.Context) (bool, error) {
	return g.fetch(ctx)
}

func (g *Gate) fetch(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sourceTimeout)
	defer cancel()
	enabled, err := g.src.GenerationEnabled(ctx)
	if err != nil {
		return false, fmt.Errorf("flags: read generation flag: %w", err)
	}
	g.last.Store(enabled)
	g.cache.SetDefault(cacheKey, enabled)
	return enabled, nil
}

// ParseValue interprets a stored flag value. Empty means unset.
func ParseValue(raw string, def bool) (bool, error) {
	raw = strings.TrimSpace(raw)
	switch strings.ToLower(raw) {
	case "":
		return def, nil
	case "on", "yes", "enabled":
		return true, nil
	case "off", "no", "disabled":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def, fmt.Errorf("flags: invalid flag value %q", raw)
	}
	return v, nil
}
