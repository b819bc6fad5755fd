package cluster

import (
	"errors"
	"fmt"
	"sync"

	"github.com/creastat/clustermgr/graph"
)

// ErrPipelineNotFound is returned when looking up a pipeline that isn't
// in the collection.
var ErrPipelineNotFound = errors.New("cluster: pipeline not found")

// Pipelines is a thread-safe collection of pipelines, keyed by id, with
// name lookup preserving insertion order (Go maps don't iterate in
// insertion order, so an explicit order slice backs it).
type Pipelines struct {
	mu    sync.RWMutex
	byID  map[string]*graph.Pipeline
	order []string
}

// NewPipelines creates an empty pipeline collection.
func NewPipelines() *Pipelines {
	return &Pipelines{byID: make(map[string]*graph.Pipeline)}
}

// Add registers a new pipeline in the collection.
func (p *Pipelines) Add(pl *graph.Pipeline) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[pl.ID] = pl
	p.order = append(p.order, pl.ID)
}

// Get looks up a pipeline by id.
func (p *Pipelines) Get(id string) (*graph.Pipeline, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, ok := p.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	return pl, nil
}

// Remove deletes a pipeline from the collection.
func (p *Pipelines) Remove(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPipelineNotFound, id)
	}
	delete(p.byID, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return nil
}

// ByName returns every pipeline with the given name, in insertion order.
func (p *Pipelines) ByName(name string) []*graph.Pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []*graph.Pipeline
	for _, id := range p.order {
		if pl := p.byID[id]; pl.Name == name {
			out = append(out, pl)
		}
	}
	return out
}

// All returns every pipeline in insertion order.
func (p *Pipelines) All() []*graph.Pipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*graph.Pipeline, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}
