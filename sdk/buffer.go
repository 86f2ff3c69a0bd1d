package sdk

import (
	"log"
	"sync"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

// dropWarnInterval rate-limits the overflow WARN so a sustained burst
// doesn't itself flood the host's console (spec §4.D: "per-minute
// rate-limited WARN").
const dropWarnInterval = time.Minute

// ringBuffer is the SDK-side bounded record queue (spec §4.D). Unlike
// the server's logstore.InsertBuffer, which backpressures its writer,
// this buffer never blocks the emitting thread: push always succeeds,
// evicting the oldest record on overflow.
type ringBuffer struct {
	mu       sync.Mutex
	records  []model.LogRecord
	max      int
	dropped  uint64
	lastWarn time.Time
}

func newRingBuffer(max int) *ringBuffer {
	return &ringBuffer{max: max, records: make([]model.LogRecord, 0, max)}
}

// push enqueues r, evicting the oldest record if the buffer is full.
func (b *ringBuffer) push(r model.LogRecord) {
	b.mu.Lock()
	evicted := false
	if len(b.records) >= b.max {
		b.records = b.records[1:]
		b.dropped++
		evicted = true
	}
	b.records = append(b.records, r)
	warn := false
	if evicted {
		now := time.Now()
		if now.Sub(b.lastWarn) >= dropWarnInterval {
			b.lastWarn = now
			warn = true
		}
	}
	dropped := b.dropped
	b.mu.Unlock()

	if warn {
		log.Printf("logsentry: buffer full, dropping oldest records (total dropped so far: %d)", dropped)
	}
}

// drain atomically removes up to n records from the front of the
// buffer and returns them.
func (b *ringBuffer) drain(n int) []model.LogRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > len(b.records) {
		n = len(b.records)
	}
	if n == 0 {
		return nil
	}
	out := make([]model.LogRecord, n)
	copy(out, b.records[:n])
	b.records = b.records[n:]
	return out
}

// requeueFront reinserts batch at the head of the buffer, used when a
// flush attempt fails and must be retried (spec §4.E step 6). Capacity
// is not enforced here: a failed batch must survive to the next retry
// even if it temporarily pushes the buffer over max.
func (b *ringBuffer) requeueFront(batch []model.LogRecord) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(append([]model.LogRecord{}, batch...), b.records...)
}

func (b *ringBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
