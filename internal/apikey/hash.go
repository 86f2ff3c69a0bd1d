// Package apikey issues and verifies API keys (spec §4.A, §3 ApiKey
// invariants). The plaintext form is sk_<32 url-safe chars>; only its
// Argon2id hash is ever persisted.
package apikey

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// Prefix is the required plaintext prefix (§3, §4.F).
	Prefix = "sk_"

	plaintextRandBytes = 24 // base64 url-safe -> 32 chars

	// Argon2id tuning. These are deliberately modest (this runs on every
	// API-key cache miss) while still far slower than a fast hash — offline
	// enumeration of a stolen key-hash database stays expensive (§4.A).
	argonTime    = 2
	argonMemory  = 19 * 1024 // KiB
	argonThreads = 1
	argonKeyLen  = 32
	saltLen      = 16
)

// ErrMismatch is returned by Verify when the plaintext does not match the hash.
var ErrMismatch = errors.New("apikey: hash mismatch")

// GeneratePlaintext returns a new sk_-prefixed plaintext key. It exists
// in memory exactly twice over its lifetime: here, at creation, and
// once more inside Verify at validation time (§3 ApiKey invariant).
func GeneratePlaintext() (string, error) {
	buf := make([]byte, plaintextRandBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("apikey: generate: %w", err)
	}
	return Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash derives the authoritative Argon2id hash of a plaintext key,
// encoded as a self-describing string (salt + params + digest) the
// way golang.org/x/crypto/argon2's own reference encoding does it.
// Verify reads back only the salt and digest and always recomputes
// with the current argon* constants; the pepper is not recorded.
func Hash(plaintext, pepper string) (string, error) {
	if plaintext == "" {
		return "", errors.New("apikey: empty plaintext")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("apikey: salt: %w", err)
	}
	digest := argon2.IDKey([]byte(pepper+plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return encode(salt, digest), nil
}

// Verify reports whether plaintext matches the previously-stored hash.
// This is the authoritative, slow check; it always runs against the
// store's hash and never a cached fast digest (§4.A, §4.G step 2).
func Verify(plaintext, pepper, stored string) (bool, error) {
	salt, wantDigest, err := decode(stored)
	if err != nil {
		return false, err
	}
	gotDigest := argon2.IDKey([]byte(pepper+plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(gotDigest, wantDigest) == 1, nil
}

func encode(salt, digest []byte) string {
	return fmt.Sprintf("argon2id$t=%d$m=%d$p=%d$%s$%s",
		argonTime, argonMemory, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(digest))
}

func decode(encoded string) (salt, digest []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return nil, nil, errors.New("apikey: malformed hash encoding")
	}
	salt, err = base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return nil, nil, fmt.Errorf("apikey: decode salt: %w", err)
	}
	digest, err = base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return nil, nil, fmt.Errorf("apikey: decode digest: %w", err)
	}
	return salt, digest, nil
}

// FastCacheKey derives a deterministic HMAC-SHA-256 digest of the
// plaintext, used only as the in-memory hot-path cache lookup key
// (§4.A) — never persisted, never the authoritative check.
func FastCacheKey(plaintext string, cacheKey []byte) string {
	mac := hmac.New(sha256.New, cacheKey)
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}

// IndexKey derives a deterministic HMAC-SHA-256 digest of plaintext
// keyed by the server pepper, persisted alongside the Argon2id hash as
// the store's lookup index. It turns a cache-miss resolve from an
// O(active keys) Argon2id scan into a single indexed row fetch
// followed by exactly one Verify call — the index itself reveals
// nothing about plaintext without the pepper, and matching on it is
// not the authoritative check, Verify still is.
func IndexKey(plaintext, pepper string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(plaintext))
	return hex.EncodeToString(mac.Sum(nil))
}
