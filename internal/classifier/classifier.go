// Package classifier wraps the external classify(batch) -> categorized_batch
// collaborator (spec §1, §4.H step 2) behind a bounded-concurrency,
// best-effort caller.
package classifier

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/logsentry/logsentry/internal/model"
)

// Timeout is the per-call classifier budget (§5 Timeouts).
const Timeout = 2 * time.Second

// DefaultConcurrency is the global cap on simultaneous classifier
// calls across all per-app processors (§4.H step 2, §5).
const DefaultConcurrency = 16

// Classifier assigns a Classification string to each record in a batch.
// Implementations are pure with respect to the batch: no side effects
// beyond the returned classifications.
type Classifier interface {
	Classify(ctx context.Context, records []model.LogRecord) ([]string, error)
}

// PassthroughClassifier performs no classification. It is the
// reference implementation used when no external classifier is
// configured, grounded on the shape of a no-op processing stage.
type PassthroughClassifier struct{}

// Classify returns an empty classification for every record.
func (PassthroughClassifier) Classify(_ context.Context, records []model.LogRecord) ([]string, error) {
	return make([]string, len(records)), nil
}

// BoundedCaller enforces the global concurrency cap and per-call
// timeout around an underlying Classifier, and degrades to
// unclassified pass-through on any failure or timeout (§4.H step 2,
// §7 CLASSIFIER_FAILED).
type BoundedCaller struct {
	inner Classifier
	sem   *semaphore.Weighted
}

// NewBoundedCaller wraps inner with a semaphore of the given weight.
// concurrency <= 0 uses DefaultConcurrency.
func NewBoundedCaller(inner Classifier, concurrency int64) *BoundedCaller {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &BoundedCaller{inner: inner, sem: semaphore.NewWeighted(concurrency)}
}

// Classify calls the underlying classifier under the semaphore and a
// 2s timeout. On any error — including failure to acquire a semaphore
// slot before ctx is done — it returns unclassified results rather
// than propagating the error: classification is always best-effort
// and must never block persistence (§4.H step 2).
func (b *BoundedCaller) Classify(ctx context.Context, records []model.LogRecord) []string {
	if len(records) == 0 {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	if err := b.sem.Acquire(callCtx, 1); err != nil {
		return make([]string, len(records))
	}
	defer b.sem.Release(1)

	results, err := b.inner.Classify(callCtx, records)
	if err != nil || len(results) != len(records) {
		return make([]string, len(records))
	}
	return results
}
