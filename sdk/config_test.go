package sdk

import (
	"os"
	"testing"
	"time"
)

func clearSDKEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"LOGSENTRY_API_KEY", "LOGSENTRY_URL", "LOGSENTRY_BATCH_SIZE", "LOGSENTRY_FLUSH_INTERVAL", "LOGSENTRY_MAX_BUFFER"} {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestResolveConfigMissingCredentials(t *testing.T) {
	clearSDKEnv(t)
	t.Setenv("HOME", t.TempDir())

	_, err := resolveConfig()
	if err != ErrMissingCredentials {
		t.Fatalf("err = %v, want ErrMissingCredentials", err)
	}
}

func TestResolveConfigRejectsBadPrefix(t *testing.T) {
	clearSDKEnv(t)
	t.Setenv("HOME", t.TempDir())

	_, err := resolveConfig(WithAPIKey("not-the-right-prefix"))
	if err != ErrInvalidAPIKey {
		t.Fatalf("err = %v, want ErrInvalidAPIKey", err)
	}
}

func TestResolveConfigExplicitArgBeatsEnv(t *testing.T) {
	clearSDKEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOGSENTRY_API_KEY", "sk_from_env")

	cfg, err := resolveConfig(WithAPIKey("sk_from_arg"))
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.APIKey != "sk_from_arg" {
		t.Errorf("APIKey = %q, want sk_from_arg", cfg.APIKey)
	}
}

func TestResolveConfigClampsBatchSizeAndInterval(t *testing.T) {
	clearSDKEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := resolveConfig(WithAPIKey("sk_x"), WithBatchSize(5000), WithFlushInterval(500*time.Second))
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.BatchSize != maxBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, maxBatchSize)
	}
	if cfg.FlushInterval != maxFlushInterval {
		t.Errorf("FlushInterval = %v, want %v", cfg.FlushInterval, maxFlushInterval)
	}
}

func TestResolveConfigDefaultMaxBufferIsTenXBatch(t *testing.T) {
	clearSDKEnv(t)
	t.Setenv("HOME", t.TempDir())

	cfg, err := resolveConfig(WithAPIKey("sk_x"), WithBatchSize(20))
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.MaxBuffer != 200 {
		t.Errorf("MaxBuffer = %d, want 200", cfg.MaxBuffer)
	}
}

func TestResolveConfigFallsBackToCredentialsFile(t *testing.T) {
	clearSDKEnv(t)
	home := t.TempDir()
	t.Setenv("HOME", home)

	if _, err := SaveCredentials(Credentials{APIKey: "sk_from_file", DSN: "https://example.test"}, ""); err != nil {
		t.Fatalf("SaveCredentials: %v", err)
	}

	cfg, err := resolveConfig()
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.APIKey != "sk_from_file" {
		t.Errorf("APIKey = %q, want sk_from_file", cfg.APIKey)
	}
	if cfg.DSN != "https://example.test" {
		t.Errorf("DSN = %q, want https://example.test", cfg.DSN)
	}
}
