// Package cache stores successful outbound responses so identical requests
// made within a caller-chosen freshness window are served locally.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Cache wraps a Store with freshness checks. Storage failures never surface
// to callers as errors on the read path: they degrade to a miss.
type Cache struct {
	store  Store
	maxAge time.Duration
	now    func() time.Time
	logger *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Errors int64 `json:"errors"`
}

// New creates a cache backed by store.
func New(store Store, cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		store:  store,
		maxAge: cfg.MaxAge,
		now:    time.Now,
		logger: slog.With("component", "cache"),
	}
}

// Lookup returns the stored response for key if it was stored less than
// maxAge ago. A non-positive maxAge always misses.
func (c *Cache) Lookup(ctx context.Context, key string, maxAge time.Duration) (json.RawMessage, bool) {
	if maxAge <= 0 {
		return nil, false
	}

	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.errors.Add(1)
		c.misses.Add(1)
		c.logger.Warn("Cache read failed, treating as miss", "key", key, "error", err)
		return nil, false
	}
	if !ok || c.now().Sub(entry.StoredAt) >= maxAge {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.Response, true
}

// Store records response under key, replacing any previous entry.
func (c *Cache) Store(ctx context.Context, key string, response json.RawMessage) error {
	err := c.store.Put(ctx, key, Entry{Response: response, StoredAt: c.now()})
	if err != nil {
		c.errors.Add(1)
		c.logger.Warn("Cache write failed", "key", key, "error", err)
	}
	return err
}

// Sweep removes entries older than the configured MaxAge.
func (c *Cache) Sweep(ctx context.Context) (int, error) {
	removed, err := c.store.DeleteBefore(ctx, c.now().Add(-c.maxAge))
	if err != nil {
		c.logger.Warn("Cache sweep failed", "removed", removed, "error", err)
		return removed, err
	}
	if removed > 0 {
		c.logger.Info("Cache swept", "removed", removed)
	}
	return removed, nil
}

// Ready reports whether the backing store is usable.
func (c *Cache) Ready(ctx context.Context) error {
	return c.store.Ready(ctx)
}

func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
	}
}

func (c *Cache) Close() error {
	return c.store.Close()
}
