package signing

import (
	"context"
	"errors"
	"time"

	"server/internal/cache"
)

// CachedSigner memoizes signed URLs in an injected cache. The cache TTL must
// stay comfortably below the URL TTL so a cached URL is never handed out
// close to its expiry.
type CachedSigner struct {
	inner    Signer
	cache    cache.Cache
	cacheTTL time.Duration
}

// NewCachedSigner wraps a signer with a cache.
func NewCachedSigner(inner Signer, c cache.Cache, cacheTTL time.Duration) *CachedSigner {
	return &CachedSigner{inner: inner, cache: c, cacheTTL: cacheTTL}
}

// Sign returns a cached URL when present; misses fall through to the inner
// signer and only successes are cached. ErrObjectMissing is never cached:
// the object may appear a moment later.
func (s *CachedSigner) Sign(ctx context.Context, path string, ttl time.Duration) (string, error) {
	key := "signed-url:" + path
	if url, err := s.cache.Get(ctx, key); err == nil {
		return url, nil
	} else if !errors.Is(err, cache.ErrMiss) {
		return "", err
	}
	url, err := s.inner.Sign(ctx, path, ttl)
	if err != nil {
		return "", err
	}
	cacheTTL := s.cacheTTL
	if cacheTTL <= 0 || cacheTTL > ttl/2 {
		cacheTTL = ttl / 2
	}
	if err := s.cache.Set(ctx, key, url, cacheTTL); err != nil {
		// A failed cache write never fails the sign itself.
		return url, nil
	}
	return url, nil
}

var _ Signer = (*CachedSigner)(nil)
