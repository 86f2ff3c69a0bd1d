// Package sdk is the in-process client library: it taps the host's
// log/slog handler chain, buffers captured records, and flushes them
// in batches to a logsentry ingest server (spec §4.D–F).
package sdk

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

// defaultShutdownBudget is the wall-clock budget for a caller-supplied
// context.Background() shutdown (spec §4.E: "5-second wall-clock
// budget").
const defaultShutdownBudget = 5 * time.Second

// Client is a running SDK instance: one background flusher task, one
// bounded buffer, and one installed log tap.
type Client struct {
	cfg         Config
	buf         *ringBuffer
	flusher     *flusher
	prevHandler slog.Handler

	shutdownOnce sync.Once
}

var (
	activeMu sync.Mutex
	active   *Client
)

// Init resolves configuration (spec §4.F), starts the background
// flusher, and installs the log tap. Calling Init again on the same
// process is idempotent: it best-effort drains and stops the previous
// Client before installing the new one, per spec §4.D's contract.
func Init(opts ...Option) (*Client, error) {
	cfg, err := resolveConfig(opts...)
	if err != nil {
		return nil, err
	}

	activeMu.Lock()
	defer activeMu.Unlock()

	if active != nil {
		active.shutdown(defaultShutdownBudget)
		active = nil
	}

	buf := newRingBuffer(cfg.MaxBuffer)
	httpClient := newClient(cfg.DSN, cfg.APIKey)
	fl := newFlusher(buf, httpClient, cfg.BatchSize, cfg.FlushInterval)
	fl.start()

	c := &Client{cfg: cfg, buf: buf, flusher: fl}
	c.prevHandler = installTap(c.capture, slog.LevelInfo)

	active = c
	return c, nil
}

// capture is the tap's push callback: never blocks the emitting
// goroutine (spec §4.D: "enqueue is non-blocking").
func (c *Client) capture(r model.LogRecord) {
	c.buf.push(r)
	if c.buf.len() >= c.cfg.BatchSize {
		c.flusher.nudge()
	}
}

// Flush blocks until one immediate flush attempt completes or ctx is
// done.
func (c *Client) Flush(ctx context.Context) {
	c.flusher.flushNowAndWait(ctx)
}

// Shutdown stops the flusher (attempting one final bounded-time drain)
// and restores the slog handler that was active before Init.
func (c *Client) Shutdown(ctx context.Context) {
	budget := defaultShutdownBudget
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining > 0 {
			budget = remaining
		}
	}

	c.shutdownOnce.Do(func() {
		c.shutdown(budget)
	})

	activeMu.Lock()
	if active == c {
		active = nil
	}
	activeMu.Unlock()
}

func (c *Client) shutdown(budget time.Duration) {
	c.flusher.stop(budget)
	slog.SetDefault(slog.New(c.prevHandler))
}

// BufferedCount reports how many records are currently buffered,
// awaiting flush. Mainly useful in tests and diagnostics.
func (c *Client) BufferedCount() int {
	return c.buf.len()
}

// Shutdown stops the currently active Client, if any. A convenience
// wrapper for callers that only ever run one Client per process.
func Shutdown(ctx context.Context) {
	activeMu.Lock()
	c := active
	activeMu.Unlock()
	if c != nil {
		c.Shutdown(ctx)
	}
}

// Flush flushes the currently active Client, if any.
func Flush(ctx context.Context) {
	activeMu.Lock()
	c := active
	activeMu.Unlock()
	if c != nil {
		c.Flush(ctx)
	}
}
