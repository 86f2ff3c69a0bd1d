package fingerprint

import (
	"testing"

	"github.com/logsentry/logsentry/internal/model"
)

func TestComputeDeterministic(t *testing.T) {
	a := Compute("app1", model.LevelError, "timeout after 30s for user 123", "billing")
	b := Compute("app1", model.LevelError, "timeout after 30s for user 123", "billing")
	if a != b {
		t.Fatalf("fingerprint not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint length = %d, want 64", len(a))
	}
}

func TestComputeNormalizesVariableTokens(t *testing.T) {
	a := Compute("app1", model.LevelError, "user 42 failed to login", "auth")
	b := Compute("app1", model.LevelError, "user 9001 failed to login", "auth")
	if a != b {
		t.Fatalf("expected numeric runs to normalize to the same fingerprint, got %s vs %s", a, b)
	}

	c := Compute("app1", model.LevelError, "user 550e8400-e29b-41d4-a716-446655440000 failed", "auth")
	d := Compute("app1", model.LevelError, "user 123e4567-e89b-12d3-a456-426614174000 failed", "auth")
	if c != d {
		t.Fatalf("expected UUIDs to normalize to the same fingerprint, got %s vs %s", c, d)
	}
}

func TestComputeDiffersByService(t *testing.T) {
	a := Compute("app1", model.LevelError, "timeout", "billing")
	b := Compute("app1", model.LevelError, "timeout", "auth")
	if a == b {
		t.Fatalf("expected different services to fingerprint differently")
	}
}

func TestForRecordDefaultsServiceToAppName(t *testing.T) {
	r := model.LogRecord{AppID: "app1", Level: model.LevelError, Message: "boom"}
	withDefault := ForRecord(r, "myapp")
	explicit := Compute("app1", model.LevelError, "boom", "myapp")
	if withDefault != explicit {
		t.Fatalf("expected missing service to fingerprint as app name")
	}
}
