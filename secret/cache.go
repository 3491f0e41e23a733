package secret

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const seedCacheKey = "master-seed"

// seedCache keeps the plaintext seed for a bounded time. Expiry is checked on
// every read; rotation never clears it since it changes the wrapping key, not
// the seed. Concurrent refreshes all store the same value.
type seedCache struct {
	c *cache.Cache
}

func newSeedCache(ttl time.Duration) *seedCache {
	return &seedCache{c: cache.New(ttl, 2*ttl)}
}

func (s *seedCache) load(ctx context.Context, fetch func(context.Context) (string, error)) (string, error) {
	if v, ok := s.c.Get(seedCacheKey); ok {
		return v.(string), nil
	}

	seed, err := fetch(ctx)
	if err != nil {
		return "", err
	}

	s.c.SetDefault(seedCacheKey, seed)
	return seed, nil
}
