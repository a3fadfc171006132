package flags

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSource struct {
	mu    sync.Mutex
	value bool
	err   error
	reads int
}

func (s *countingSource) GenerationEnabled(context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	return s.value, s.err
}

func (s *countingSource) set(v bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value, s.err = v, err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGate_CachesWithinTTL(t *testing.T) {
	src := &countingSource{value: true}
	g := NewGate(src, time.Minute, false, discardLogger())

	assert.True(t, g.Enabled(context.Background()))
	src.set(false, nil)
	assert.True(t, g.Enabled(context.Background()), "cached value is served")
	assert.Equal(t, 1, src.reads)
}

func TestGate_RefreshBypassesCache(t *testing.T) {
	src := &countingSource{value: true}
	g := NewGate(src, time.Minute, true, discardLogger())
	require.True(t, g.Enabled(context.Background()))

	src.set(false, nil)
	v, err := g.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, v)
	assert.False(t, g.Enabled(context.Background()))
}

func TestGate_FallsBackToLastKnown(t *testing.T) {
	src := &countingSource{err: errors.New("redis: connection refused")}
	g := NewGate(src, time.Millisecond, true, discardLogger())
	assert.True(t, g.Enabled(context.Background()), "default before any successful read")

	src.set(false, nil)
	_, err := g.Refresh(context.Background())
	require.NoError(t, err)

	src.set(true, errors.New("timeout"))
	time.Sleep(5 * time.Millisecond) // let the cached entry expire
	assert.False(t, g.Enabled(context.Background()), "last successful read wins over the default")
}

func TestStaticSource(t *testing.T) {
	v, err := StaticSource(false).GenerationEnabled(context.Background())
	require.NoError(t, err)
	assert.False(t, v)
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		raw  string
		def  bool
		want bool
		err  bool
	}{
		{raw: "", def: true, want: true},
		{raw: "true", want: true},
		{raw: "0", def: true, want: false},
		{raw: " OFF ", def: true, want: false},
		{raw: "enabled", want: true},
		{raw: "perhaps", def: true, want: true, err: true},
	}
	for _, tc := range cases {
		got, err := ParseValue(tc.raw, tc.def)
		assert.Equal(t, tc.want, got, "raw %q", tc.raw)
		assert.Equal(t, tc.err, err != nil, "raw %q", tc.raw)
	}
}
