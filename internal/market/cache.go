// FILE: cache.go
// Package market - TTL cache in front of a Source.
//
// The live loop ticks faster than Yahoo refreshes delayed futures data, so a
// fetch is reused for ttl. Errors are never cached.
package market

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedSource memoizes Bars per symbol.
type CachedSource struct {
	inner Source
	c     *cache.Cache
}

func NewCachedSource(inner Source, ttl time.Duration) *CachedSource {
	return &CachedSource{inner: inner, c: cache.New(ttl, 2*ttl)}
}

func (s *CachedSource) Name() string { return s.inner.Name() + "+cache" }

func (s *CachedSource) Bars(ctx context.Context, symbol string) ([]Bar, error) {
	key := "bars_" + symbol
	if v, ok := s.c.Get(key); ok {
		return v.([]Bar), nil
	}
	bars, err := s.inner.Bars(ctx, symbol)
	if err != nil {
		return nil, err
	}
	s.c.SetDefault(key, bars)
	return bars, nil
}

// Invalidate drops the cached bars for symbol.
func (s *CachedSource) Invalidate(symbol string) { s.c.Delete("bars_" + symbol) }
