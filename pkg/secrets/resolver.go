package secrets

import (
	"context"
	"fmt"
	"time"
)

// Resolver resolves one field of a named secret through a provider,
// caching the secret payload between calls. Invalidate busts the cache
// so the next Value call re-fetches, which lets callers recover from a
// rotated credential.
type Resolver struct {
	provider Provider
	cache    *Cache[map[string]string]
	name     string
	field    string
}

// NewResolver creates a resolver for one secret field with the given
// cache TTL.
func NewResolver(provider Provider, name, field string, ttl time.Duration) *Resolver {
	return &Resolver{
		provider: provider,
		cache:    NewCache[map[string]string](ttl),
		name:     name,
		field:    field,
	}
}

// Value returns the current credential, fetching through the provider on
// a cache miss.
func (r *Resolver) Value(ctx context.Context) (string, error) {
	if secret, ok := r.cache.Get(r.name); ok {
		return secret[r.field], nil
	}
	secret, err := r.provider.GetSecret(ctx, r.name)
	if err != nil {
		return "", fmt.Errorf("resolve secret %s: %w", r.name, err)
	}
	r.cache.Put(r.name, secret)
	return secret[r.field], nil
}

// Invalidate drops the cached payload.
func (r *Resolver) Invalidate() {
	r.cache.Bust(r.name)
}
