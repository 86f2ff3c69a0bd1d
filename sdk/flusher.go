package sdk

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

const (
	backoffBase       = 500 * time.Millisecond
	backoffCap        = 30 * time.Second
	maxConsecutiveFail = 10
)

// flusher is the SDK's single background task owning the network
// socket (spec §4.D–E). Its tick/done/WaitGroup shape is grounded on
// logstore.InsertBuffer's tickLoop, generalized here to a single
// serialized send-with-retry loop rather than a fan-out flush channel,
// since the spec requires exactly one task driving the HTTP socket
// with full-jitter backoff between attempts.
type flusher struct {
	buf       *ringBuffer
	client    *client
	batchSize int
	interval  time.Duration

	wake chan struct{} // non-blocking "something worth flushing" nudge
	flushNow chan chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	rng       *rand.Rand
	rngMu     sync.Mutex
}

func newFlusher(buf *ringBuffer, c *client, batchSize int, interval time.Duration) *flusher {
	return &flusher{
		buf:       buf,
		client:    c,
		batchSize: batchSize,
		interval:  interval,
		wake:      make(chan struct{}, 1),
		flushNow:  make(chan chan struct{}),
		done:      make(chan struct{}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (f *flusher) start() {
	f.wg.Add(1)
	go f.run()
}

// nudge wakes the flusher without blocking; called when the buffer
// reaches batchSize.
func (f *flusher) nudge() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

// flushNowAndWait triggers an immediate flush attempt and blocks until
// it completes (used by the public Flush()).
func (f *flusher) flushNowAndWait(ctx context.Context) {
	ack := make(chan struct{})
	select {
	case f.flushNow <- ack:
		select {
		case <-ack:
		case <-ctx.Done():
		}
	case <-f.done:
	case <-ctx.Done():
	}
}

func (f *flusher) run() {
	defer f.wg.Done()
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			f.drainAll(context.Background())
		case <-f.wake:
			f.drainAll(context.Background())
		case ack := <-f.flushNow:
			f.drainAll(context.Background())
			close(ack)
		case <-f.done:
			return
		}
	}
}

// drainAll flushes the buffer in batchSize chunks until it is empty or
// shutdown is signaled mid-loop.
func (f *flusher) drainAll(ctx context.Context) {
	for {
		batch := f.buf.drain(f.batchSize)
		if len(batch) == 0 {
			return
		}
		if !f.sendWithRetry(ctx, batch) {
			return // shutdown interrupted the retry loop
		}
	}
}

// sendWithRetry implements spec §4.E steps 4-6. It returns false if
// shutdown was signaled while retrying, so the caller can stop
// draining rather than spin forever on a dead connection during exit.
func (f *flusher) sendWithRetry(ctx context.Context, batch []model.LogRecord) bool {
	attempt := 0
	for {
		status, err := f.client.send(ctx, batch)
		switch status {
		case sendOK:
			return true
		case sendRejected:
			log.Printf("logsentry: batch rejected, dropping %d records: %v", len(batch), err)
			return true
		case sendPayloadTooLarge:
			f.splitAndRetryOnce(ctx, batch)
			return true
		case sendRetryable:
			attempt++
			if attempt >= maxConsecutiveFail {
				log.Printf("logsentry: CRITICAL: dropping %d records after %d consecutive failures", len(batch), maxConsecutiveFail)
				return true
			}
			f.buf.requeueFront(batch)
			wait := f.backoff(attempt)
			select {
			case <-time.After(wait):
			case <-f.done:
				return false
			}
			// Re-drain: another flush cycle may have already grabbed
			// part of what we requeued, so pull a fresh batch rather
			// than resending the exact slice.
			batch = f.buf.drain(f.batchSize)
			if len(batch) == 0 {
				return true
			}
		}
	}
}

// splitAndRetryOnce implements spec §7's PAYLOAD_TOO_LARGE row: split
// the rejected batch in half and retry each half exactly once, with no
// further splitting or backoff. A half that still fails is dropped.
func (f *flusher) splitAndRetryOnce(ctx context.Context, batch []model.LogRecord) {
	if len(batch) <= 1 {
		log.Printf("logsentry: dropping %d record(s) rejected as too large even alone", len(batch))
		return
	}
	mid := len(batch) / 2
	for _, half := range [][]model.LogRecord{batch[:mid], batch[mid:]} {
		status, err := f.client.send(ctx, half)
		if status == sendOK {
			continue
		}
		log.Printf("logsentry: dropping %d records after one split-retry: %v", len(half), err)
	}
}

// backoff computes exponential backoff with full jitter (spec §4.E:
// base 500ms, cap 30s).
func (f *flusher) backoff(attempt int) time.Duration {
	max := backoffBase * time.Duration(1<<uint(attempt-1))
	if max > backoffCap || max <= 0 {
		max = backoffCap
	}
	f.rngMu.Lock()
	jittered := time.Duration(f.rng.Int63n(int64(max)))
	f.rngMu.Unlock()
	return jittered
}

// stop signals shutdown, joins the background loop, then attempts one
// final flush with a bounded wall-clock budget — no retry, since a
// retry's backoff could by itself exceed the budget (spec §4.E
// shutdown: 5s budget, undelivered records dropped).
func (f *flusher) stop(timeout time.Duration) {
	close(f.done)
	f.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		batch := f.buf.drain(f.batchSize)
		if len(batch) == 0 {
			return
		}
		status, err := f.client.send(ctx, batch)
		if status != sendOK {
			if err != nil {
				log.Printf("logsentry: shutdown drain dropped %d records: %v", len(batch), err)
			} else {
				log.Printf("logsentry: shutdown drain dropped %d records", len(batch))
			}
			return
		}
	}
}
