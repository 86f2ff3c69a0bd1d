package apikey

import (
	"context"
	"errors"
	"fmt"
)

// Registry is the narrow store contract the Resolver needs (§4.C).
// appstore.Store satisfies this.
type Registry interface {
	GetActiveKeyByIndex(ctx context.Context, indexKey string) (appID, keyHash string, err error)
}

// ErrIndexNotFound is returned by Registry when no active key matches
// the presented index key.
var ErrIndexNotFound = errors.New("apikey: index key not found")

// Resolver implements the authenticated lookup path of §4.G step 2:
// cache-first, falling through to the authoritative Argon2id check
// against the store on a miss, then populating the cache either way.
type Resolver struct {
	cache  *Cache
	store  Registry
	pepper string
}

// NewResolver builds a Resolver over the given registry and cache.
func NewResolver(store Registry, cache *Cache, pepper string) *Resolver {
	return &Resolver{cache: cache, store: store, pepper: pepper}
}

// Resolve returns the app_id bound to plaintext, or ErrMismatch if no
// active key hash matches. On a cache miss, the store is consulted by
// an indexed lookup on IndexKey(plaintext) rather than a scan of every
// active key's Argon2id hash — a single candidate row, one Verify
// call. Comparison against the authoritative hash is constant-time
// (§4.G "Constant-time comparison on the hash").
func (r *Resolver) Resolve(ctx context.Context, plaintext string) (string, error) {
	if appID, found, hit := r.cache.Lookup(plaintext); hit {
		if !found {
			return "", ErrMismatch
		}
		return appID, nil
	}

	appID, hash, err := r.store.GetActiveKeyByIndex(ctx, IndexKey(plaintext, r.pepper))
	if errors.Is(err, ErrIndexNotFound) {
		r.cache.StoreNegative(plaintext)
		return "", ErrMismatch
	}
	if err != nil {
		return "", fmt.Errorf("apikey: resolve: %w", err)
	}

	ok, verr := Verify(plaintext, r.pepper, hash)
	if verr != nil || !ok {
		r.cache.StoreNegative(plaintext)
		return "", ErrMismatch
	}

	r.cache.StorePositive(plaintext, appID)
	return appID, nil
}

// Invalidate forgets any cached result for plaintext (used after the
// key that produced it is revoked or replaced).
func (r *Resolver) Invalidate(plaintext string) {
	r.cache.Invalidate(plaintext)
}
