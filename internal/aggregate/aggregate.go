// Package aggregate maintains the per-(app,service) rolling error-rate
// aggregate described in spec §4.J. Each Aggregate is owned and mutated
// exclusively by the per-app processor goroutine that feeds it; readers
// (the summary endpoint) only ever see an immutable AggregateSnapshot
// published through an atomic pointer, so no lock is needed inside the
// hot update path.
package aggregate

import (
	"sort"
	"sync/atomic"
	"time"

	"github.com/logsentry/logsentry/internal/model"
)

// recentErrorTTL is the window used for the "most common error in the
// last 10 minutes" unhealthy threshold (§4.J).
const recentErrorTTL = 10 * time.Minute

// windowSize is the number of records that make up one point on the
// errors_per_10_logs series.
const windowSize = 10

// errorTimestamps is a small FIFO of occurrence times for one
// fingerprint, pruned to recentErrorTTL on every touch.
type errorTimestamps struct {
	times []time.Time
}

func (e *errorTimestamps) add(t time.Time) {
	e.times = append(e.times, t)
}

func (e *errorTimestamps) prune(now time.Time) {
	cutoff := now.Add(-recentErrorTTL)
	i := 0
	for i < len(e.times) && e.times[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		e.times = e.times[i:]
	}
}

// Aggregate is the mutable rolling state for one (app, service). Call
// Update as records arrive and Snapshot (or call Publish to push a
// snapshot into the associated atomic handle) to expose a read-only
// view.
type Aggregate struct {
	key model.AggregateKey

	total     int64
	perLevel  map[model.Level]int64
	ring      *errorRing
	windowBuf int // bad-record count accumulated in the current partial window
	windowLen int // records accumulated in the current partial window

	firstErrorTS  time.Time
	latestErrorTS time.Time

	errorCumulative map[string]int64           // fingerprint -> all-time count within this aggregate's lifetime
	errorRecent     map[string]*errorTimestamps // fingerprint -> recent occurrence times

	mostCommonFP  string
	mostCommonCnt int64

	recentErrors []model.PersistedLog // most recent first, capped at model.MaxRecentErrors
}

// New creates an empty Aggregate for key.
func New(key model.AggregateKey) *Aggregate {
	return &Aggregate{
		key:             key,
		perLevel:        make(map[model.Level]int64, len(model.Levels)),
		ring:            newErrorRing(model.MaxErrorWindow),
		errorCumulative: make(map[string]int64),
		errorRecent:     make(map[string]*errorTimestamps),
	}
}

// Update folds a batch of persisted records into the aggregate. now is
// the wall-clock time the batch was processed at, used to prune the
// recent-error window independently of any individual record's own
// timestamp.
func (a *Aggregate) Update(logs []model.PersistedLog, now time.Time) {
	for _, l := range logs {
		a.total++
		a.perLevel[l.Level]++

		bad := l.Level.IsBad()
		if bad {
			a.windowBuf++
		}
		a.windowLen++
		if a.windowLen == windowSize {
			a.ring.push(int64(a.windowBuf))
			a.windowLen = 0
			a.windowBuf = 0
		}

		if !bad {
			continue
		}

		if a.firstErrorTS.IsZero() || l.Timestamp.Before(a.firstErrorTS) {
			a.firstErrorTS = l.Timestamp
		}
		if l.Timestamp.After(a.latestErrorTS) {
			a.latestErrorTS = l.Timestamp
		}

		a.errorCumulative[l.Fingerprint]++
		if a.errorCumulative[l.Fingerprint] > a.mostCommonCnt {
			a.mostCommonCnt = a.errorCumulative[l.Fingerprint]
			a.mostCommonFP = l.Fingerprint
		}

		rec, ok := a.errorRecent[l.Fingerprint]
		if !ok {
			rec = &errorTimestamps{}
			a.errorRecent[l.Fingerprint] = rec
		}
		rec.add(now)

		a.recentErrors = append([]model.PersistedLog{l}, a.recentErrors...)
		if len(a.recentErrors) > model.MaxRecentErrors {
			a.recentErrors = a.recentErrors[:model.MaxRecentErrors]
		}
	}
}

// recentCount returns how many occurrences of fingerprint fall within
// the last 10 minutes of now, pruning the stored timestamps in the
// process.
func (a *Aggregate) recentCount(fp string, now time.Time) int64 {
	rec, ok := a.errorRecent[fp]
	if !ok {
		return 0
	}
	rec.prune(now)
	return int64(len(rec.times))
}

// Snapshot builds an immutable AggregateSnapshot reflecting the
// aggregate's state as of now. It also prunes every tracked
// fingerprint's recent-occurrence window, which is why it takes a
// mutable receiver despite being a read path — it must only ever be
// called from the owning processor goroutine.
func (a *Aggregate) Snapshot(now time.Time) model.AggregateSnapshot {
	recentCounts := make(map[string]int64, len(a.errorRecent))
	for fp := range a.errorRecent {
		if c := a.recentCount(fp, now); c > 0 {
			recentCounts[fp] = c
		}
	}

	mostCommonRecent := recentCounts[a.mostCommonFP]

	perLevel := make(map[model.Level]int64, len(a.perLevel))
	for lvl, n := range a.perLevel {
		perLevel[lvl] = n
	}

	recent := make([]model.PersistedLog, len(a.recentErrors))
	copy(recent, a.recentErrors)

	return model.AggregateSnapshot{
		AppID:               a.key.AppID,
		Service:             a.key.Service,
		TotalCount:          a.total,
		PerLevelCount:       perLevel,
		ErrorsPer10Logs:     a.ring.values(),
		AvgErrorsPer10Logs:  a.ring.mean(),
		FirstErrorTS:        a.firstErrorTS,
		LatestErrorTS:       a.latestErrorTS,
		MostCommonErrorFP:   a.mostCommonFP,
		MostCommonErrorCnt:  a.mostCommonCnt,
		RecentErrorCountsFP: recentCounts,
		Health:              model.Classify(a.ring.mean(), mostCommonRecent),
		RecentErrors:        recent,
		PublishedAt:         now,
	}
}

// Handle publishes Aggregate snapshots behind an atomic pointer so the
// summary endpoint can read the latest snapshot without ever touching
// the Aggregate itself or blocking the owning processor.
type Handle struct {
	snapshot atomic.Pointer[model.AggregateSnapshot]
}

// NewHandle returns a Handle with no published snapshot yet.
func NewHandle() *Handle {
	return &Handle{}
}

// Publish stores snap as the latest readable snapshot.
func (h *Handle) Publish(snap model.AggregateSnapshot) {
	h.snapshot.Store(&snap)
}

// Load returns the latest published snapshot, or false if none has
// been published yet.
func (h *Handle) Load() (model.AggregateSnapshot, bool) {
	p := h.snapshot.Load()
	if p == nil {
		return model.AggregateSnapshot{}, false
	}
	return *p, true
}

// TopFingerprints returns the n fingerprints with the highest recent
// count from a snapshot's RecentErrorCountsFP, descending. Used by the
// summary endpoint to render a short "top errors" list without
// re-deriving it from raw records.
func TopFingerprints(snap model.AggregateSnapshot, n int) []string {
	type pair struct {
		fp    string
		count int64
	}
	pairs := make([]pair, 0, len(snap.RecentErrorCountsFP))
	for fp, c := range snap.RecentErrorCountsFP {
		pairs = append(pairs, pair{fp, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].fp < pairs[j].fp
	})
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].fp
	}
	return out
}
