package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/cache/memory"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	c := New(memory.New(), ttl, WithClock(clock.Now))
	t.Cleanup(func() { _ = c.Close() })
	return c, clock
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("claude-opus-4-6", "be terse", "hello")
	assert.Equal(t, a, Fingerprint("claude-opus-4-6", "be terse", "hello"))
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, Fingerprint("claude-sonnet-4-5", "be terse", "hello"))
	assert.NotEqual(t, a, Fingerprint("claude-opus-4-6", "be verbose", "hello"))
	assert.NotEqual(t, a, Fingerprint("claude-opus-4-6", "be terse", "hello!"))
	assert.NotEqual(t, Fingerprint("a:b", "c", "d"), Fingerprint("a", "b:c", "d"))
}

func TestGetWithinTTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, "fp", `{"ok":true}`))
	clock.Advance(59 * time.Minute)

	got, ok := c.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, `{"ok":true}`, got)
}

func TestExpiredEntryIsIgnoredNotDeleted(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, "fp", "stale"))
	clock.Advance(time.Hour)

	_, ok := c.Get(ctx, "fp")
	assert.False(t, ok, "entry at TTL age should be a miss")

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Entries)

	require.NoError(t, c.Put(ctx, "fp", "fresh"))
	got, ok := c.Get(ctx, "fp")
	require.True(t, ok)
	assert.Equal(t, "fresh", got)
}

func TestDefaultTTL(t *testing.T) {
	c := New(memory.New(), 0)
	assert.Equal(t, DefaultTTL, c.TTL())
}

func TestStatsAndMetrics(t *testing.T) {
	ctx := context.Background()
	m := metrics.New(prometheus.NewRegistry())
	c := New(memory.New(), time.Hour, WithMetrics(m))

	require.NoError(t, c.Put(ctx, "h1", "data"))
	c.Get(ctx, "h1") // hit
	c.Get(ctx, "h2") // miss

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CacheStats{Entries: 1, Hits: 1, Misses: 1}, stats)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(t, time.Hour)

	require.NoError(t, c.Put(ctx, "old", "a"))
	clock.Advance(2 * time.Hour)
	require.NoError(t, c.Put(ctx, "new", "b"))

	n, err := c.Clear(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := c.Get(ctx, "new")
	assert.True(t, ok)

	n, err = c.Clear(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

type failingStore struct{ *memory.Store }

func (failingStore) Load(context.Context, string) (models.CacheEntry, bool, error) {
	return models.CacheEntry{}, false, errors.New("disk on fire")
}

func TestLoadErrorIsMiss(t *testing.T) {
	c := New(failingStore{memory.New()}, time.Hour)
	_, ok := c.Get(context.Background(), "fp")
	assert.False(t, ok)
}
