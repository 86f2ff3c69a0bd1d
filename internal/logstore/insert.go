package logstore

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/model"
)

// DefaultFlushQueueSize is the number of batches that can be queued for
// async flushing before the inline-flush safety valve kicks in.
const DefaultFlushQueueSize = 64

// DefaultBatchSize and DefaultFlushInterval implement the write-batch
// flush trigger from spec §4.H step 4: flush at >= 200 records or
// >= 2s, whichever comes first.
const (
	DefaultBatchSize     = 200
	DefaultFlushInterval = 2 * time.Second
)

// Inserter is the write surface InsertBuffer flushes batches through.
// *Store satisfies it; tests substitute a fake.
type Inserter interface {
	InsertBatch(records []model.PersistedLog) error
}

// InsertBuffer batches persisted records and flushes them to the store
// asynchronously. Add does no store IO while the flush queue has room;
// when the queue is full, the batch is flushed inline on the caller.
type InsertBuffer struct {
	store         Inserter
	mu            sync.Mutex
	pending       []model.PersistedLog
	flushChan     chan []model.PersistedLog
	maxBatch      int
	flushInterval time.Duration
	done          chan struct{}
	wg            sync.WaitGroup
	tickWg        sync.WaitGroup

	// onFlush is called after every flush attempt (nil err on success),
	// letting the owning processor track consecutive failures for its
	// degraded-mode decision (§4.H step 5, §7 STORE_WRITE_FAILED).
	onFlush func(batch []model.PersistedLog, err error)
}

// InsertBufferConfig holds tunable parameters for the insert buffer.
type InsertBufferConfig struct {
	BatchSize      int
	FlushInterval  time.Duration
	FlushQueueSize int
	OnFlush        func(batch []model.PersistedLog, err error)
}

// NewInsertBuffer creates an insert buffer flushing to store.
func NewInsertBuffer(store Inserter, conf ...InsertBufferConfig) *InsertBuffer {
	batchSize := DefaultBatchSize
	flushInterval := DefaultFlushInterval
	flushQueueSize := DefaultFlushQueueSize
	var onFlush func(batch []model.PersistedLog, err error)
	if len(conf) > 0 {
		if conf[0].BatchSize > 0 {
			batchSize = conf[0].BatchSize
		}
		if conf[0].FlushInterval > 0 {
			flushInterval = conf[0].FlushInterval
		}
		if conf[0].FlushQueueSize > 0 {
			flushQueueSize = conf[0].FlushQueueSize
		}
		onFlush = conf[0].OnFlush
	}

	b := &InsertBuffer{
		store:         store,
		pending:       make([]model.PersistedLog, 0, batchSize),
		flushChan:     make(chan []model.PersistedLog, flushQueueSize),
		maxBatch:      batchSize,
		flushInterval: flushInterval,
		done:          make(chan struct{}),
		onFlush:       onFlush,
	}

	b.wg.Add(1)
	go b.flushWorker()

	b.wg.Add(1)
	b.tickWg.Add(1)
	go b.tickLoop()

	return b
}

func (b *InsertBuffer) tickLoop() {
	defer b.wg.Done()
	defer b.tickWg.Done()
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.drainPending()
		case <-b.done:
			b.drainPending()
			return
		}
	}
}

func (b *InsertBuffer) drainPending() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = make([]model.PersistedLog, 0, b.maxBatch)
	b.mu.Unlock()

	select {
	case b.flushChan <- batch:
	default:
		b.flushBatch(batch)
	}
}

func (b *InsertBuffer) flushWorker() {
	defer b.wg.Done()
	for batch := range b.flushChan {
		b.flushBatch(batch)
	}
}

// Add queues a record for batch insertion.
func (b *InsertBuffer) Add(record model.PersistedLog) {
	b.mu.Lock()
	b.pending = append(b.pending, record)
	shouldFlush := len(b.pending) >= b.maxBatch
	var batch []model.PersistedLog
	if shouldFlush {
		batch = b.pending
		b.pending = make([]model.PersistedLog, 0, b.maxBatch)
	}
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- batch:
		default:
			b.flushBatch(batch)
		}
	}
}

// Stop flushes remaining records and waits for all writes to complete.
func (b *InsertBuffer) Stop() {
	close(b.done)
	b.tickWg.Wait()
	close(b.flushChan)
	b.wg.Wait()
}

func (b *InsertBuffer) flushBatch(batch []model.PersistedLog) {
	if len(batch) == 0 {
		return
	}
	err := b.store.InsertBatch(batch)
	if err != nil {
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("logstore: flush error")
	}
	if b.onFlush != nil {
		b.onFlush(batch, err)
	}
}
