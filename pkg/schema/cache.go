package schema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const (
	schemaCacheKey  = "schema"
	defaultCacheTTL = 5 * time.Minute
)

// CachedProvider wraps a Provider and keeps its last snapshot for TTL.
// Concurrent misses collapse into one upstream load.
type CachedProvider struct {
	upstream Provider
	ttl      time.Duration
	cache    *ttlcache.Cache[string, *Schema]
	mu       sync.Mutex
}

func NewCachedProvider(upstream Provider, ttl time.Duration) (*CachedProvider, error) {
	if upstream == nil {
		return nil, fmt.Errorf("upstream provider is required")
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Schema](ttl),
		ttlcache.WithDisableTouchOnHit[string, *Schema](),
	)
	return &CachedProvider{upstream: upstream, ttl: ttl, cache: cache}, nil
}

func (p *CachedProvider) Schema(ctx context.Context) (*Schema, error) {
	if item := p.cache.Get(schemaCacheKey); item != nil {
		return item.Value(), nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if item := p.cache.Get(schemaCacheKey); item != nil {
		return item.Value(), nil
	}

	s, err := p.upstream.Schema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	p.cache.Set(schemaCacheKey, s, p.ttl)
	return s, nil
}

// Invalidate drops the cached snapshot.
func (p *CachedProvider) Invalidate() {
	p.cache.Delete(schemaCacheKey)
}
