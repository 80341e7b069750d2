// Package cache maps a request fingerprint to a previously obtained model
// response. Entries older than the TTL are treated as absent; they are never
// deleted on read and are superseded by the next write.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/joshuajerin/cv-opus-hackathon/pkg/metrics"
	"github.com/joshuajerin/cv-opus-hackathon/pkg/models"
)

// DefaultTTL is used when New is given a non-positive TTL.
const DefaultTTL = time.Hour

// Store is the persistence surface behind a Cache.
type Store interface {
	// Load returns the entry for fingerprint, or false when there is none.
	Load(ctx context.Context, fingerprint string) (models.CacheEntry, bool, error)
	// Save creates or overwrites an entry.
	Save(ctx context.Context, entry models.CacheEntry) error
	// Count returns the number of stored entries, expired ones included.
	Count(ctx context.Context) (int64, error)
	// Clear removes entries created before the given time, or all entries
	// when before is zero.
	Clear(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Cache applies the TTL policy on top of a Store.
type Cache struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
	hits    atomic.Int64
	misses  atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics reports hits and misses to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache over store.
func New(store Store, ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{store: store, ttl: ttl, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fingerprint digests the fields that define a request. Each field is
// length-prefixed so that no two distinct triples collide by concatenation.
func Fingerprint(model, system, user string) string {
	h := sha256.New()
	for _, f := range []string{model, system, user} {
		fmt.Fprintf(h, "%d:%s", len(f), f)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Get returns the cached response if it is younger than the TTL. Storage
// errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, fingerprint string) (string, bool) {
	entry, ok, err := c.store.Load(ctx, fingerprint)
	if err != nil {
		c.logger.Warn("cache load failed", zap.String("fingerprint", fingerprint), zap.Error(err))
	}
	if err != nil || !ok || c.now().Sub(entry.CreatedAt) >= c.ttl {
		c.misses.Add(1)
		c.metrics.CacheMiss()
		return "", false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	return entry.Response, true
}

// Put stores text under fingerprint, replacing any previous entry.
func (c *Cache) Put(ctx context.Context, fingerprint, text string) error {
	err := c.store.Save(ctx, models.CacheEntry{
		Fingerprint: fingerprint,
		Response:    text,
		CreatedAt:   c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Stats returns entry count and this instance's hit/miss counters.
func (c *Cache) Stats(ctx context.Context) (models.CacheStats, error) {
	n, err := c.store.Count(ctx)
	if err != nil {
		return models.CacheStats{}, fmt.Errorf("cache stats: %w", err)
	}
	return models.CacheStats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}, nil
}

// Clear removes cache entries. If expiredOnly is true, only expired entries are removed.
func (c *Cache) Clear(ctx context.Context, expiredOnly bool) (int64, error) {
	var before time.Time
	if expiredOnly {
		before = c.now().Add(-c.ttl)
	}
	n, err := c.store.Clear(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("cache clear: %w", err)
	}
	return n, nil
}

// Close releases the underlying store.
func (c *Cache) Close() error {
	return c.store.Close()
}
