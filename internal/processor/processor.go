// Package processor implements the per-app processor task (spec §4.H):
// one long-lived goroutine per active app_id that owns a bounded
// inbound channel, the app's rolling aggregates, and the hand-off to
// persistent storage, degrading to an on-disk spool when the store
// falls over.
//
// The task-lifecycle shape — a done channel, a WaitGroup, and a
// ticker-driven background loop — is grounded on the teacher's
// InsertBuffer/RetentionCleaner pattern.
package processor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/logsentry/logsentry/internal/aggregate"
	"github.com/logsentry/logsentry/internal/classifier"
	"github.com/logsentry/logsentry/internal/fingerprint"
	"github.com/logsentry/logsentry/internal/logstore"
	"github.com/logsentry/logsentry/internal/model"
	"github.com/logsentry/logsentry/internal/spool"
)

// MinInboundCapacity is the floor on the per-app inbound channel size
// (§4.H: "capacity >= 1024 records").
const MinInboundCapacity = 1024

// FailureThreshold is the number of consecutive store-write failures
// that trips degraded mode (§7 STORE_WRITE_FAILED).
const FailureThreshold = 10

// RecoveryInterval is how often a degraded processor retries draining
// its spool back into the store.
const RecoveryInterval = 5 * time.Second

// spoolDrainBatch bounds how many records a single recovery attempt
// pulls off the spool, so one bad batch can't monopolize the
// recovery tick.
const spoolDrainBatch = 500

// Processor owns one app's ingestion-to-storage pipeline.
type Processor struct {
	appID   string
	inbound chan []model.LogRecord

	classifier *classifier.BoundedCaller
	store      logstore.Inserter
	buf        *logstore.InsertBuffer
	spool      *spool.Spool

	aggMu sync.Mutex // guards agg; run's goroutine is the only other writer
	agg   map[string]*aggregate.Aggregate
	// handles is read by the summary endpoint from other goroutines.
	handlesMu sync.RWMutex
	handles   map[string]*aggregate.Handle

	failures atomic.Int32
	degraded atomic.Bool

	snapshotInterval time.Duration
	done             chan struct{}
	wg               sync.WaitGroup
}

// Config configures a new Processor.
type Config struct {
	AppID                 string
	Store                 logstore.Inserter
	Classifier            classifier.Classifier
	ClassifierConcurrency int64
	SpoolPath             string
	SpoolMaxBytes         int64
	InboundCapacity       int
	SnapshotInterval      time.Duration
	InsertBuffer          logstore.InsertBufferConfig
}

// New creates and starts a Processor for one app. The spool is opened
// (and, if it carries leftover entries from a prior degraded period,
// replayed into the store) before the run goroutine starts.
func New(cfg Config) (*Processor, error) {
	capacity := cfg.InboundCapacity
	if capacity < MinInboundCapacity {
		capacity = MinInboundCapacity
	}
	snapshotInterval := cfg.SnapshotInterval
	if snapshotInterval <= 0 {
		snapshotInterval = model.SnapshotInterval
	}

	sp, err := spool.Open(cfg.SpoolPath, cfg.SpoolMaxBytes)
	if err != nil {
		return nil, err
	}

	p := &Processor{
		appID:            cfg.AppID,
		inbound:          make(chan []model.LogRecord, capacity),
		classifier:       classifier.NewBoundedCaller(cfg.Classifier, cfg.ClassifierConcurrency),
		store:            cfg.Store,
		spool:            sp,
		agg:              make(map[string]*aggregate.Aggregate),
		handles:          make(map[string]*aggregate.Handle),
		snapshotInterval: snapshotInterval,
		done:             make(chan struct{}),
	}
	p.buf = logstore.NewInsertBuffer(cfg.Store, withOnFlush(cfg.InsertBuffer, p.onFlush))

	p.drainSpoolOnce() // best-effort: pick up where a prior process left off

	p.wg.Add(1)
	go p.run()
	return p, nil
}

func withOnFlush(conf logstore.InsertBufferConfig, onFlush func([]model.PersistedLog, error)) logstore.InsertBufferConfig {
	userOnFlush := conf.OnFlush
	conf.OnFlush = func(batch []model.PersistedLog, err error) {
		if userOnFlush != nil {
			userOnFlush(batch, err)
		}
		onFlush(batch, err)
	}
	return conf
}

// Enqueue hands batch to the inbound queue with the bounded wait from
// spec §5: a non-blocking send, then a send bounded by 250ms, after
// which it returns model.ErrBackpressure (ctx.Err() if ctx ends first).
func (p *Processor) Enqueue(ctx context.Context, batch []model.LogRecord) error {
	select {
	case p.inbound <- batch:
		return nil
	default:
	}

	timer := time.NewTimer(250 * time.Millisecond)
	defer timer.Stop()
	select {
	case p.inbound <- batch:
		return nil
	case <-timer.C:
		return model.ErrBackpressure
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown signals the processor to drain and stop, blocking until
// done or ctx is cancelled.
func (p *Processor) Shutdown(ctx context.Context) error {
	close(p.done)
	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		p.buf.Stop()
		return p.spool.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the latest published aggregate snapshot for a
// service, or false if none has been published yet.
func (p *Processor) Snapshot(service string) (model.AggregateSnapshot, bool) {
	p.handlesMu.RLock()
	h, ok := p.handles[service]
	p.handlesMu.RUnlock()
	if !ok {
		return model.AggregateSnapshot{}, false
	}
	return h.Load()
}

// Services lists every service this processor has seen an aggregate
// snapshot published for.
func (p *Processor) Services() []string {
	p.handlesMu.RLock()
	defer p.handlesMu.RUnlock()
	out := make([]string, 0, len(p.handles))
	for svc := range p.handles {
		out = append(out, svc)
	}
	return out
}

// Degraded reports whether the processor is currently spooling instead
// of writing directly to the store.
func (p *Processor) Degraded() bool {
	return p.degraded.Load()
}

func (p *Processor) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.snapshotInterval)
	defer ticker.Stop()
	recovery := time.NewTicker(RecoveryInterval)
	defer recovery.Stop()

	for {
		select {
		case batch := <-p.inbound:
			p.process(batch)
		case <-ticker.C:
			p.publishAll()
		case <-recovery.C:
			if p.degraded.Load() {
				p.drainSpoolOnce()
			}
		case <-p.done:
			p.drainInbound()
			p.publishAll()
			return
		}
	}
}

func (p *Processor) drainInbound() {
	for {
		select {
		case batch := <-p.inbound:
			p.process(batch)
		default:
			return
		}
	}
}

func (p *Processor) process(batch []model.LogRecord) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), classifier.Timeout)
	classifications := p.classifier.Classify(ctx, batch)
	cancel()

	now := time.Now()
	persisted := make([]model.PersistedLog, len(batch))
	for i, r := range batch {
		cls := ""
		if i < len(classifications) {
			cls = classifications[i]
		}
		persisted[i] = toPersisted(r, cls)
	}

	byService := make(map[string][]model.PersistedLog)
	for _, r := range persisted {
		byService[r.Service] = append(byService[r.Service], r)
	}
	for svc, recs := range byService {
		p.aggregateFor(svc).Update(recs, now)
	}

	p.persist(persisted)
}

func toPersisted(r model.LogRecord, classification string) model.PersistedLog {
	fp := r.Fingerprint
	if fp == "" {
		// The ingestion endpoint derives and binds the fingerprint
		// before a record ever reaches the processor (§4.G step 4);
		// this is only a safety net for records constructed directly
		// in tests.
		fp = fingerprint.Compute(r.AppID, r.Level, r.Message, r.Service)
	}
	return model.PersistedLog{
		AppID:          r.AppID,
		Timestamp:      r.Timestamp,
		IngestedAt:     r.IngestedAt,
		Level:          r.Level,
		Service:        r.Service,
		Message:        r.Message,
		Attributes:     r.Attributes,
		Fingerprint:    fp,
		Classification: classification,
	}
}

func (p *Processor) aggregateFor(service string) *aggregate.Aggregate {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()
	a, ok := p.agg[service]
	if !ok {
		a = aggregate.New(model.AggregateKey{AppID: p.appID, Service: service})
		p.agg[service] = a
	}
	return a
}

func (p *Processor) publishAll() {
	now := time.Now()
	p.aggMu.Lock()
	snapshots := make(map[string]model.AggregateSnapshot, len(p.agg))
	for svc, a := range p.agg {
		snapshots[svc] = a.Snapshot(now)
	}
	p.aggMu.Unlock()

	p.handlesMu.Lock()
	for svc, snap := range snapshots {
		h, ok := p.handles[svc]
		if !ok {
			h = aggregate.NewHandle()
			p.handles[svc] = h
		}
		h.Publish(snap)
	}
	p.handlesMu.Unlock()
}

func (p *Processor) persist(records []model.PersistedLog) {
	if p.degraded.Load() {
		for _, r := range records {
			if _, err := p.spool.Append(r); err != nil {
				log.Error().Str("app_id", p.appID).Err(err).Msg("spool append failed, record dropped")
			}
		}
		return
	}
	for _, r := range records {
		p.buf.Add(r)
	}
}

func (p *Processor) onFlush(batch []model.PersistedLog, err error) {
	if err == nil {
		p.failures.Store(0)
		return
	}

	n := p.failures.Add(1)
	if n >= FailureThreshold && p.degraded.CompareAndSwap(false, true) {
		log.Warn().Str("app_id", p.appID).Int32("failures", n).Msg("entering degraded mode after consecutive store-write failures")
	}
	if p.degraded.Load() {
		for _, r := range batch {
			if _, serr := p.spool.Append(r); serr != nil {
				log.Error().Str("app_id", p.appID).Err(serr).Msg("spool append failed during failover, record dropped")
			}
		}
	}
}

// drainSpoolOnce attempts to replay spooled records back into the
// store. It is called both at startup (to pick up a prior degraded
// period) and periodically while degraded. Batches that are written
// are committed as it goes; it clears the degraded flag only once
// every uncommitted entry has been written. A failed batch stops the
// drain and leaves it and the remaining entries spooled for the next
// attempt.
func (p *Processor) drainSpoolOnce() {
	var batch []model.PersistedLog
	var seqs []uint64

	flush := func() bool {
		if len(batch) == 0 {
			return true
		}
		if err := p.store.InsertBatch(batch); err != nil {
			log.Error().Str("app_id", p.appID).Err(err).Msg("spool drain attempt failed")
			return false
		}
		maxSeq := seqs[len(seqs)-1]
		if err := p.spool.Commit(maxSeq); err != nil {
			log.Error().Str("app_id", p.appID).Err(err).Msg("spool commit failed")
		}
		batch = batch[:0]
		seqs = seqs[:0]
		return true
	}

	stop := errStop{}
	err := p.spool.Replay(func(seq uint64, record model.PersistedLog) error {
		batch = append(batch, record)
		seqs = append(seqs, seq)
		if len(batch) >= spoolDrainBatch {
			if !flush() {
				return stop
			}
		}
		return nil
	})
	if err != nil && err != stop {
		log.Error().Str("app_id", p.appID).Err(err).Msg("spool replay error")
		return
	}
	if !flush() {
		return
	}
	if p.degraded.Load() {
		p.degraded.Store(false)
		p.failures.Store(0)
		log.Info().Str("app_id", p.appID).Msg("left degraded mode, spool drained")
	}
}

type errStop struct{}

func (errStop) Error() string { return "processor: spool drain stopped early" }
