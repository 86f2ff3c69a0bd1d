// Package fingerprint computes deterministic dedup/grouping hashes for
// log records (spec §4.A).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/logsentry/logsentry/internal/model"
)

var (
	numericRun = regexp.MustCompile(`\d+`)
	uuidLike   = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	emailLike  = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
)

// Normalize replaces numeric runs, UUIDs, and email-like tokens in msg
// with stable placeholders so that logically-identical records with
// different IDs or timestamps fingerprint the same way (§4.A).
func Normalize(msg string) string {
	out := uuidLike.ReplaceAllString(msg, "<uuid>")
	out = emailLike.ReplaceAllString(out, "<email>")
	out = numericRun.ReplaceAllString(out, "<num>")
	return out
}

// Compute returns the hex-encoded SHA-256 fingerprint of the canonicalized
// (app_id, level, normalized_message, service) tuple (§4.A).
//
// SHA-256 is used directly from crypto/sha256 rather than a third-party
// hash: the algorithm is mandated by the spec, not a free implementation
// choice, so there is no ecosystem library to prefer here.
func Compute(appID string, level model.Level, message, service string) string {
	var b strings.Builder
	b.WriteString(appID)
	b.WriteByte('\x00')
	b.WriteString(string(level))
	b.WriteByte('\x00')
	b.WriteString(Normalize(message))
	b.WriteByte('\x00')
	b.WriteString(service)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ForRecord computes the fingerprint of a LogRecord, defaulting Service
// to appName when the record carries no service tag (§9 design note:
// missing service -> app name, never the literal "default").
func ForRecord(r model.LogRecord, appName string) string {
	service := r.Service
	if service == "" {
		service = appName
	}
	return Compute(r.AppID, r.Level, r.Message, service)
}
