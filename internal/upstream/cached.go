package upstream

import (
	"context"
	"log/slog"
	"time"

	"github.com/synchronie/cotation/internal/cache"
	"github.com/synchronie/cotation/internal/domain"
)

// CachedLoader serves grids from a cache and falls back to the next loader.
// Cache failures never fail a load.
type CachedLoader struct {
	next  domain.SchemaLoader
	cache domain.Cache
	ttl   time.Duration

	// OnLookup, when set, is called after every cache lookup.
	OnLookup func(hit bool)
}

var _ domain.SchemaLoader = (*CachedLoader)(nil)

// NewCachedLoader wraps next with cache. A zero ttl defaults to ten minutes.
func NewCachedLoader(next domain.SchemaLoader, c domain.Cache, ttl time.Duration) *CachedLoader {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &CachedLoader{next: next, cache: c, ttl: ttl}
}

// LoadGrid returns the cached grid or loads and caches it.
func (l *CachedLoader) LoadGrid(ctx context.Context, gridID int64) (*domain.Grid, error) {
	grid, err := l.cache.GetGrid(ctx, gridID)
	if err != nil {
		slog.Warn("grid cache read failed", "grille_id", gridID, "error", err)
	}
	l.observe(grid != nil)
	if grid != nil {
		return grid, nil
	}

	grid, err = l.next.LoadGrid(ctx, gridID)
	if err != nil {
		return nil, err
	}

	if err := l.cache.SetGrid(ctx, grid, l.ttl); err != nil {
		slog.Warn("grid cache write failed", "grille_id", gridID, "error", err)
	}
	return grid, nil
}

// Invalidate drops a cached grid so the next load hits upstream.
func (l *CachedLoader) Invalidate(ctx context.Context, gridID int64) error {
	return l.cache.Delete(ctx, cache.GridKey(gridID))
}

func (l *CachedLoader) observe(hit bool) {
	if l.OnLookup != nil {
		l.OnLookup(hit)
	}
}
