package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/warden/internal/domain"
)

// Cached memoizes ResolveTool results for a fixed TTL. Misses are not cached.
type Cached struct {
	inner Catalog
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[uuid.UUID]cacheEntry
}

type cacheEntry struct {
	tool      domain.Tool
	expiresAt time.Time
}

// NewCached wraps inner. A non-positive ttl disables caching.
func NewCached(inner Catalog, ttl time.Duration) *Cached {
	return &Cached{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[uuid.UUID]cacheEntry),
	}
}

func (c *Cached) ResolveTool(ctx context.Context, id uuid.UUID) (*domain.Tool, error) {
	if c.ttl <= 0 {
		return c.inner.ResolveTool(ctx, id)
	}

	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		tool := e.tool
		return &tool, nil
	}

	tool, err := c.inner.ResolveTool(ctx, id)
	if err != nil {
		c.Invalidate(id)
		return nil, err
	}

	c.mu.Lock()
	c.entries[id] = cacheEntry{tool: *tool, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return tool, nil
}

// ListTools always reads through.
func (c *Cached) ListTools(ctx context.Context) ([]domain.Tool, error) {
	return c.inner.ListTools(ctx)
}

// Invalidate drops a single cached tool.
func (c *Cached) Invalidate(id uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// Purge drops every cached tool.
func (c *Cached) Purge() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}
