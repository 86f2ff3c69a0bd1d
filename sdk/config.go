package sdk

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDSN is used when no dsn arg, env var, credentials file
	// entry, or .logsentry.yml project file supplies one.
	DefaultDSN = "https://api.logsentry.io"

	defaultBatchSize      = 50
	minBatchSize          = 1
	maxBatchSize          = 1000
	defaultFlushInterval  = 5 * time.Second
	minFlushInterval      = 100 * time.Millisecond
	maxFlushInterval      = 60 * time.Second
	defaultBufferMultiple = 10
)

// Config holds the resolved parameters a Client runs with, after
// applying the arg > env > local-credentials-file > project-file >
// default precedence chain (spec §4.F, §6.4).
type Config struct {
	APIKey        string
	DSN           string
	BatchSize     int
	FlushInterval time.Duration
	MaxBuffer     int
	AppID         string
	AppName       string
}

// Option mutates Config during resolution, mirroring init()'s named
// parameters.
type Option func(*Config)

// WithAPIKey sets an explicit api_key, the highest-precedence source.
func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

// WithDSN sets an explicit server base URL.
func WithDSN(dsn string) Option { return func(c *Config) { c.DSN = dsn } }

// WithBatchSize overrides the default flush batch size.
func WithBatchSize(n int) Option { return func(c *Config) { c.BatchSize = n } }

// WithFlushInterval overrides the default flush interval.
func WithFlushInterval(d time.Duration) Option { return func(c *Config) { c.FlushInterval = d } }

// WithMaxBuffer overrides the default buffer capacity.
func WithMaxBuffer(n int) Option { return func(c *Config) { c.MaxBuffer = n } }

// resolveConfig applies the precedence chain of spec §4.F: explicit
// option > env var > local credentials file > .logsentry.yml project
// file > default. The api_key is never read from the project file.
func resolveConfig(opts ...Option) (Config, error) {
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	creds, _ := loadCredentials("")
	proj := loadProjectConfig()

	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LOGSENTRY_API_KEY")
	}
	if cfg.APIKey == "" && creds != nil {
		cfg.APIKey = creds.APIKey
	}
	if cfg.APIKey == "" {
		return Config{}, ErrMissingCredentials
	}
	if !strings.HasPrefix(cfg.APIKey, "sk_") {
		return Config{}, ErrInvalidAPIKey
	}

	if cfg.DSN == "" {
		cfg.DSN = os.Getenv("LOGSENTRY_URL")
	}
	if cfg.DSN == "" && creds != nil {
		cfg.DSN = creds.DSN
	}
	if cfg.DSN == "" && proj != nil {
		cfg.DSN = proj.DSN
	}
	if cfg.DSN == "" {
		cfg.DSN = DefaultDSN
	}
	cfg.DSN = strings.TrimRight(cfg.DSN, "/")

	if cfg.AppID == "" && creds != nil {
		cfg.AppID = creds.AppID
	}
	if cfg.AppName == "" && creds != nil {
		cfg.AppName = creds.AppName
	}

	projBatchSize := defaultBatchSize
	projFlushInterval := defaultFlushInterval
	projMaxBuffer := 0
	if proj != nil {
		if proj.BatchSize > 0 {
			projBatchSize = proj.BatchSize
		}
		if proj.FlushInterval > 0 {
			projFlushInterval = proj.flushInterval()
		}
		projMaxBuffer = proj.MaxBuffer
	}

	if cfg.BatchSize == 0 {
		cfg.BatchSize = envInt("LOGSENTRY_BATCH_SIZE", projBatchSize)
	}
	cfg.BatchSize = clampInt(cfg.BatchSize, minBatchSize, maxBatchSize)

	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = envDuration("LOGSENTRY_FLUSH_INTERVAL", projFlushInterval)
	}
	cfg.FlushInterval = clampDuration(cfg.FlushInterval, minFlushInterval, maxFlushInterval)

	if cfg.MaxBuffer == 0 {
		def := cfg.BatchSize * defaultBufferMultiple
		if projMaxBuffer > 0 {
			def = projMaxBuffer
		}
		cfg.MaxBuffer = envInt("LOGSENTRY_MAX_BUFFER", def)
	}

	return cfg, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return time.Duration(secs * float64(time.Second))
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
