package processor

import (
	"context"
	"sync"
)

// Factory creates a new Processor for appID on first use.
type Factory func(appID string) (*Processor, error)

// Registry lazily creates and tracks one Processor per active app_id
// (spec §4.H, §5: "One task per active app_id"). It is the process-
// wide handle the ingestion endpoint and summary reader both go
// through to reach an app's processor.
type Registry struct {
	mu      sync.Mutex
	procs   map[string]*Processor
	factory Factory
}

// NewRegistry creates an empty Registry that builds processors with factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{procs: make(map[string]*Processor), factory: factory}
}

// Get returns the Processor for appID, creating it via the factory on
// first access.
func (r *Registry) Get(appID string) (*Processor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.procs[appID]; ok {
		return p, nil
	}
	p, err := r.factory(appID)
	if err != nil {
		return nil, err
	}
	r.procs[appID] = p
	return p, nil
}

// Peek returns the Processor for appID if one already exists, without
// creating it.
func (r *Registry) Peek(appID string) (*Processor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.procs[appID]
	return p, ok
}

// Apps lists every app_id with a live processor.
func (r *Registry) Apps() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.procs))
	for appID := range r.procs {
		out = append(out, appID)
	}
	return out
}

// Shutdown drains and stops every processor, waiting up to the
// per-processor deadline carried by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	procs := make([]*Processor, 0, len(r.procs))
	for _, p := range r.procs {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	var firstErr error
	for _, p := range procs {
		if err := p.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
