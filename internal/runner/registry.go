package runner

import (
	"context"
	"sync"
)

// Registry tracks live runners by task id so transport handlers can
// stream, stop, and inspect them.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]*Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]*Runner)}
}

// Start registers the runner and launches its loop.
func (g *Registry) Start(ctx context.Context, r *Runner) {
	g.mu.Lock()
	g.runners[r.ID] = r
	g.mu.Unlock()
	r.Start(ctx)
}

// Get returns the runner for id, if any.
func (g *Registry) Get(id string) (*Runner, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runners[id]
	return r, ok
}

// Stop requests termination of the runner for id. Reports whether the
// id was known.
func (g *Registry) Stop(id string) bool {
	r, ok := g.Get(id)
	if !ok {
		return false
	}
	r.Stop()
	return true
}

// IDs lists the registered task ids.
func (g *Registry) IDs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.runners))
	for id := range g.runners {
		ids = append(ids, id)
	}
	return ids
}
