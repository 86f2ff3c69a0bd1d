package deviceauth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
)

// userCodeAlphabet is the confusion-free alphabet mandated by §4.I:
// consonants only and no digits, so the look-alike pairs 0/O and 1/I
// cannot occur.
const userCodeAlphabet = "BCDFGHJKLMNPQRSTVWXYZ"

const userCodeLength = 8

// NewDeviceCode returns a 128-bit random, base32-encoded device_code (§4.I).
func NewDeviceCode() (string, error) {
	buf := make([]byte, 16) // 128 bits
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("deviceauth: device code: %w", err)
	}
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)), nil
}

// NewUserCode returns an 8-character code drawn from the confusion-free
// alphabet (§4.I).
func NewUserCode() (string, error) {
	out := make([]byte, userCodeLength)
	idx := make([]byte, userCodeLength)
	if _, err := rand.Read(idx); err != nil {
		return "", fmt.Errorf("deviceauth: user code: %w", err)
	}
	for i, b := range idx {
		out[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return string(out), nil
}
