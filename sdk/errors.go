package sdk

import "errors"

// Sentinel errors surfaced to callers of Init (spec §7).
var (
	ErrMissingCredentials = errors.New("logsentry: missing credentials")
	ErrInvalidAPIKey      = errors.New("logsentry: api_key must have the sk_ prefix")
)
