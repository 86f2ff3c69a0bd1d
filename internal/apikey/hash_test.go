package apikey

import (
	"strings"
	"testing"
)

func TestGeneratePlaintextHasPrefix(t *testing.T) {
	pt, err := GeneratePlaintext()
	if err != nil {
		t.Fatalf("GeneratePlaintext: %v", err)
	}
	if !strings.HasPrefix(pt, Prefix) {
		t.Fatalf("plaintext %q missing prefix %q", pt, Prefix)
	}
	if len(pt) < len(Prefix)+20 {
		t.Fatalf("plaintext %q suspiciously short", pt)
	}
}

func TestHashVerifyRoundTrip(t *testing.T) {
	pt, _ := GeneratePlaintext()
	hash, err := Hash(pt, "pepper-123")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if strings.Contains(hash, pt) {
		t.Fatalf("hash leaked plaintext: %s", hash)
	}

	ok, err := Verify(pt, "pepper-123", hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatalf("Verify returned false for correct plaintext")
	}

	ok, err = Verify("sk_wrongwrongwrongwrongwrong", "pepper-123", hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("Verify returned true for incorrect plaintext")
	}
}

func TestVerifyWrongPepper(t *testing.T) {
	pt, _ := GeneratePlaintext()
	hash, _ := Hash(pt, "pepper-a")

	ok, err := Verify(pt, "pepper-b", hash)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatalf("Verify succeeded with the wrong pepper")
	}
}

func TestFastCacheKeyDeterministic(t *testing.T) {
	key := []byte("cache-key-material-32-bytes-xxx")
	a := FastCacheKey("sk_abc", key)
	b := FastCacheKey("sk_abc", key)
	if a != b {
		t.Fatalf("FastCacheKey not deterministic")
	}
	c := FastCacheKey("sk_def", key)
	if a == c {
		t.Fatalf("FastCacheKey collided across distinct plaintexts")
	}
}
