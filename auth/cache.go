package auth

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// sharedFetchTimeout bounds the coalesced key fetch. The fetch runs on a
// context of its own because its outcome is shared.
const sharedFetchTimeout = 30 * time.Second

// CachingKeySupplier memoizes another supplier per issuer. Concurrent
// misses for one issuer coalesce into a single fetch; a successful result
// then serves every caller for the TTL.
type CachingKeySupplier struct {
	inner KeySupplier
	cache *gocache.Cache
	group singleflight.Group
}

// NewCachingKeySupplier wraps inner with a per-issuer cache of the given
// TTL.
func NewCachingKeySupplier(inner KeySupplier, ttl time.Duration) *CachingKeySupplier {
	return &CachingKeySupplier{
		inner: inner,
		cache: gocache.New(ttl, 2*ttl),
	}
}

// Fetch returns the cached key set for the issuer, loading it through the
// wrapped supplier on miss. Failures are not cached; the next caller
// retries.
func (s *CachingKeySupplier) Fetch(_ context.Context, issuer string) (*KeySet, error) {
	if v, ok := s.cache.Get(issuer); ok {
		return v.(*KeySet), nil
	}
	v, err, _ := s.group.Do(issuer, func() (interface{}, error) {
		if v, ok := s.cache.Get(issuer); ok {
			return v, nil
		}
		// Every coalesced caller rides this one fetch, so it must not
		// die with whichever caller happened to start it.
		fetchCtx, cancel := context.WithTimeout(context.Background(), sharedFetchTimeout)
		defer cancel()
		ks, err := s.inner.Fetch(fetchCtx, issuer)
		if err != nil {
			return nil, err
		}
		s.cache.SetDefault(issuer, ks)
		return ks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeySet), nil
}

// Invalidate drops the cached keys for one issuer, forcing the next caller
// to refetch.
func (s *CachingKeySupplier) Invalidate(issuer string) {
	s.cache.Delete(issuer)
}
