package strategy

import (
	"context"
	"fmt"
	"net/http"

	"offlinegate/internal/cache"
	"offlinegate/internal/logging"
	"offlinegate/internal/metrics"
	"offlinegate/internal/upstream"
)

// Static is cache-first for everything else. Only the install step
// populates the store; a miss is fetched but not written back, so assets
// outside the manifest are never served offline.
type Static struct {
	Fetcher    upstream.Fetcher
	Storage    cache.Storage
	Generation string
	Logger     logging.Logger
}

func (s *Static) Respond(ctx context.Context, req *http.Request) (Result, error) {
	if cache.Cacheable(req) {
		hit, err := s.match(ctx, req)
		if err != nil {
			s.Logger.Warn("cache lookup failed", "path", req.URL.Path, "error", err)
		}
		if hit != nil {
			metrics.IncCacheHit("static")
			return Result{Response: hit.HTTP(req), Source: SourceCache}, nil
		}
		metrics.IncCacheMiss("static")
	}

	resp, err := s.Fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	return Result{Response: resp, Source: SourceNetwork}, nil
}

func (s *Static) match(ctx context.Context, req *http.Request) (*cache.Response, error) {
	store, err := s.Storage.Open(ctx, s.Generation)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Generation, err)
	}
	resp, ok, err := store.Match(ctx, cache.RequestKey(req))
	if err != nil || !ok {
		return nil, err
	}
	return resp, nil
}
