// Package graph implements the pipeline DAG model: wrapped nodes, typed
// edges between them, and the structural invariants (acyclicity, edge
// kind compatibility, frozen-once-instantiated) that a pipeline must
// satisfy before it can be committed onto a worker runtime.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/creastat/clustermgr/node"
	"github.com/creastat/clustermgr/wire"
)

var (
	ErrNodeNotFound         = errors.New("graph: node not found")
	ErrEdgeNotFound         = errors.New("graph: edge not found")
	ErrEdgeIDMismatch       = errors.New("graph: edge id mismatch")
	ErrInvalidNode          = errors.New("graph: invalid node kind for edge endpoint")
	ErrNotADag              = errors.New("graph: edge would create a cycle")
	ErrInstantiationRefused = errors.New("graph: pipeline cannot be instantiated")
	ErrAlreadyInstantiated  = errors.New("graph: pipeline already instantiated")
	ErrNotInstantiated      = errors.New("graph: pipeline not instantiated")
	ErrPipelineIDMismatch   = errors.New("graph: pipeline id mismatch")
)

// WrappedNode is one node in a pipeline: a template reference plus the
// concrete parameters, worker assignment and (once instantiated) runtime
// instance for this particular use of the template.
type WrappedNode struct {
	ID       string
	Name     string
	Template node.Template
	Params   map[string]any
	WorkerID string
	Instance node.Instance
}

func (n *WrappedNode) toWebNode() wire.WebNode {
	return wire.WebNode{
		ID:           n.ID,
		Name:         n.Name,
		RegistryName: n.Template.Name,
		Kwargs:       n.Params,
		Type:         string(n.Template.Kind),
		Package:      n.Template.Package,
		WorkerID:     n.WorkerID,
	}
}

// Edge connects one node's output to another node's input.
type Edge struct {
	ID     string
	Source string
	Sink   string
}

// Pipeline is a DAG of wrapped nodes connected by edges. All structural
// mutation goes through a write lock; Instantiated freezes node/edge
// membership and worker assignment (worker-graph queries remain legal).
type Pipeline struct {
	mu sync.RWMutex

	ID          string
	Name        string
	Description string

	nodes     map[string]*WrappedNode
	nodeOrder []string
	edges     map[string]Edge
	edgeOrder []string

	instantiated bool
	committed    bool
}

// New creates an empty, named pipeline.
func New(name, description string) *Pipeline {
	if description == "" {
		description = "A pipeline"
	}
	return &Pipeline{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		nodes:       make(map[string]*WrappedNode),
		edges:       make(map[string]Edge),
	}
}

// Instantiated reports whether the pipeline has been instantiated.
func (p *Pipeline) Instantiated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.instantiated
}

// Committed reports whether the pipeline has been committed.
func (p *Pipeline) Committed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.committed
}

// SetCommitted marks the pipeline committed. Committed implies
// Instantiated; callers must instantiate first.
func (p *Pipeline) SetCommitted(v bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if v && !p.instantiated {
		return fmt.Errorf("%w: cannot commit before instantiation", ErrNotInstantiated)
	}
	p.committed = v
	return nil
}

// AddNode constructs a node from a registry template and adds it to the
// pipeline. It fails once the pipeline is instantiated.
func (p *Pipeline) AddNode(reg *node.Registry, registryName, pkg, name string, params map[string]any) (*WrappedNode, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instantiated {
		return nil, fmt.Errorf("%w: cannot add node", ErrAlreadyInstantiated)
	}
	tmpl, err := reg.Get(registryName, pkg)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = registryName
	}
	wn := &WrappedNode{
		ID:       uuid.NewString(),
		Name:     name,
		Template: tmpl,
		Params:   params,
	}
	p.nodes[wn.ID] = wn
	p.nodeOrder = append(p.nodeOrder, wn.ID)
	return wn, nil
}

// RemoveNode removes a node and every edge touching it.
func (p *Pipeline) RemoveNode(nodeID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instantiated {
		return fmt.Errorf("%w: cannot remove node", ErrAlreadyInstantiated)
	}
	if _, ok := p.nodes[nodeID]; !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	delete(p.nodes, nodeID)
	p.nodeOrder = removeString(p.nodeOrder, nodeID)

	remaining := p.edgeOrder[:0:0]
	for _, id := range p.edgeOrder {
		e := p.edges[id]
		if e.Source == nodeID || e.Sink == nodeID {
			delete(p.edges, id)
			continue
		}
		remaining = append(remaining, id)
	}
	p.edgeOrder = remaining
	return nil
}

// GetNode looks up a node by id.
func (p *Pipeline) GetNode(nodeID string) (*WrappedNode, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	wn, ok := p.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	return wn, nil
}

// AllNodes returns every node in insertion order.
func (p *Pipeline) AllNodes() []*WrappedNode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*WrappedNode, 0, len(p.nodeOrder))
	for _, id := range p.nodeOrder {
		out = append(out, p.nodes[id])
	}
	return out
}

// AddEdge connects source's output to sink's input. It is rejected if
// either endpoint is missing, if the endpoint kinds are incompatible
// (a SINK node cannot be an edge source, a SOURCE node cannot be an edge
// sink), or if the edge would create a cycle. On cycle rejection the
// edge is rolled back and not added — mirroring the original's
// insert-then-verify-then-rollback pattern. If an edge already exists
// between source and sink, insertion is a no-op and the existing edge is
// returned, matching networkx's add_edge idempotence.
func (p *Pipeline) AddEdge(sourceID, sinkID string) (Edge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instantiated {
		return Edge{}, fmt.Errorf("%w: cannot add edge", ErrAlreadyInstantiated)
	}

	src, ok := p.nodes[sourceID]
	if !ok {
		return Edge{}, fmt.Errorf("%w: source %s", ErrNodeNotFound, sourceID)
	}
	sink, ok := p.nodes[sinkID]
	if !ok {
		return Edge{}, fmt.Errorf("%w: sink %s", ErrNodeNotFound, sinkID)
	}
	if src.Template.Kind == node.KindSink {
		return Edge{}, fmt.Errorf("%w: %s (kind %s) cannot be an edge source", ErrInvalidNode, src.Name, src.Template.Kind)
	}
	if sink.Template.Kind == node.KindSource {
		return Edge{}, fmt.Errorf("%w: %s (kind %s) cannot be an edge sink", ErrInvalidNode, sink.Name, sink.Template.Kind)
	}

	for _, id := range p.edgeOrder {
		if existing := p.edges[id]; existing.Source == sourceID && existing.Sink == sinkID {
			return existing, nil
		}
	}

	e := Edge{ID: uuid.NewString(), Source: sourceID, Sink: sinkID}
	p.edges[e.ID] = e
	p.edgeOrder = append(p.edgeOrder, e.ID)

	if p.hasCycleLocked() {
		delete(p.edges, e.ID)
		p.edgeOrder = removeString(p.edgeOrder, e.ID)
		return Edge{}, ErrNotADag
	}
	return e, nil
}

// RemoveEdge removes the edge between sourceID and sinkID. If edgeID is
// non-empty, it must match the found edge's id or ErrEdgeIDMismatch is
// returned instead of removing anything; this lets a caller that only
// knows the edge's id pass it as a safety check against a stale
// (source, sink) pair. It returns the removed Edge.
func (p *Pipeline) RemoveEdge(sourceID, sinkID, edgeID string) (Edge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instantiated {
		return Edge{}, fmt.Errorf("%w: cannot remove edge", ErrAlreadyInstantiated)
	}

	var found Edge
	var foundID string
	for _, id := range p.edgeOrder {
		e := p.edges[id]
		if e.Source == sourceID && e.Sink == sinkID {
			found = e
			foundID = id
			break
		}
	}
	if foundID == "" {
		return Edge{}, fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, sourceID, sinkID)
	}
	if edgeID != "" && edgeID != found.ID {
		return Edge{}, fmt.Errorf("%w: expected %s, got %s", ErrEdgeIDMismatch, found.ID, edgeID)
	}

	delete(p.edges, foundID)
	p.edgeOrder = removeString(p.edgeOrder, foundID)
	return found, nil
}

// AllEdges returns every edge in insertion order.
func (p *Pipeline) AllEdges() []Edge {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Edge, 0, len(p.edgeOrder))
	for _, id := range p.edgeOrder {
		out = append(out, p.edges[id])
	}
	return out
}

// hasCycleLocked runs a DFS cycle check over the current edge set. Caller
// must hold p.mu.
func (p *Pipeline) hasCycleLocked() bool {
	adj := make(map[string][]string, len(p.nodes))
	for _, e := range p.edges {
		adj[e.Source] = append(adj[e.Source], e.Sink)
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(p.nodes))

	var visit func(n string) bool
	visit = func(n string) bool {
		color[n] = gray
		for _, next := range adj[n] {
			switch color[next] {
			case gray:
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		color[n] = black
		return false
	}

	for id := range p.nodes {
		if color[id] == white {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

// CanInstantiate reports whether every node has a worker assignment.
func (p *Pipeline) CanInstantiate() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, n := range p.nodes {
		if n.WorkerID == "" {
			return false
		}
	}
	return true
}

// Instantiate freezes the pipeline's structure and builds a runtime
// instance, through its template's constructor and bound parameters, for
// every node that has a constructor and no instance yet. It refuses if
// any node lacks a worker assignment or a constructor fails; no instance
// is kept in that case. Instantiating an instantiated pipeline is a no-op.
func (p *Pipeline) Instantiate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instantiated {
		return nil
	}
	for _, n := range p.nodes {
		if n.WorkerID == "" {
			return fmt.Errorf("%w: node %q has no worker assignment", ErrInstantiationRefused, n.Name)
		}
	}
	built := make(map[*WrappedNode]node.Instance)
	for _, n := range p.nodes {
		if n.Instance != nil || n.Template.New == nil {
			continue
		}
		inst, err := n.Template.New(n.Params)
		if err != nil {
			return fmt.Errorf("%w: node %q: %w", ErrInstantiationRefused, n.Name, err)
		}
		built[n] = inst
	}
	for n, inst := range built {
		n.Instance = inst
	}
	p.instantiated = true
	return nil
}

// Destroy reverts the pipeline to its uninstantiated, uncommitted state
// and drops any runtime instances held by its nodes.
func (p *Pipeline) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instantiated = false
	p.committed = false
	for _, n := range p.nodes {
		n.Instance = nil
	}
}

// AssignWorker sets the worker id for a node. Refused once instantiated.
func (p *Pipeline) AssignWorker(nodeID, workerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.instantiated {
		return fmt.Errorf("%w: cannot reassign workers", ErrAlreadyInstantiated)
	}
	n, ok := p.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	n.WorkerID = workerID
	return nil
}

// WorkerGraphMapping returns, for each worker id, the ids of the nodes
// assigned to it. It is only meaningful once instantiated.
func (p *Pipeline) WorkerGraphMapping() (map[string][]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.instantiated {
		return nil, ErrNotInstantiated
	}
	out := make(map[string][]string)
	for _, id := range p.nodeOrder {
		n := p.nodes[id]
		out[n.WorkerID] = append(out[n.WorkerID], n.ID)
	}
	return out, nil
}

// ToWebJSON projects the pipeline into its web/API representation.
func (p *Pipeline) ToWebJSON() wire.WebPipeline {
	p.mu.RLock()
	defer p.mu.RUnlock()

	nodes := make([]wire.WebNode, 0, len(p.nodeOrder))
	for _, id := range p.nodeOrder {
		nodes = append(nodes, p.nodes[id].toWebNode())
	}
	edges := make([]wire.WebEdge, 0, len(p.edgeOrder))
	for _, id := range p.edgeOrder {
		e := p.edges[id]
		edges = append(edges, wire.WebEdge{ID: e.ID, Source: e.Source, Sink: e.Sink})
	}
	return wire.WebPipeline{
		ID:           p.ID,
		Name:         p.Name,
		Instantiated: p.instantiated,
		Committed:    p.committed,
		Description:  p.Description,
		Nodes:        nodes,
		Edges:        edges,
	}
}

// UpdateFromWebJSON applies a client's edited projection back onto the
// pipeline: the pipeline id must match, nodes are updated in place
// (rejected if any node is already instantiated or its id doesn't
// exist), and every edge named in the payload must already exist — edge
// membership itself is not mutated through this path.
func (p *Pipeline) UpdateFromWebJSON(web wire.WebPipeline) (wire.WebPipeline, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if web.ID != p.ID {
		return wire.WebPipeline{}, ErrPipelineIDMismatch
	}
	if p.instantiated {
		return wire.WebPipeline{}, fmt.Errorf("%w: cannot update", ErrAlreadyInstantiated)
	}

	p.Name = web.Name
	if web.Description != "" {
		p.Description = web.Description
	}

	for _, wn := range web.Nodes {
		n, ok := p.nodes[wn.ID]
		if !ok {
			return wire.WebPipeline{}, fmt.Errorf("%w: %s", ErrNodeNotFound, wn.ID)
		}
		n.Name = wn.Name
		n.Params = wn.Kwargs
		n.WorkerID = wn.WorkerID
	}

	for _, we := range web.Edges {
		found := false
		for _, id := range p.edgeOrder {
			e := p.edges[id]
			if e.Source == we.Source && e.Sink == we.Sink {
				found = true
				break
			}
		}
		if !found {
			return wire.WebPipeline{}, fmt.Errorf("%w: %s -> %s", ErrEdgeNotFound, we.Source, we.Sink)
		}
	}

	return p.toWebJSONLocked(), nil
}

func (p *Pipeline) toWebJSONLocked() wire.WebPipeline {
	nodes := make([]wire.WebNode, 0, len(p.nodeOrder))
	for _, id := range p.nodeOrder {
		nodes = append(nodes, p.nodes[id].toWebNode())
	}
	edges := make([]wire.WebEdge, 0, len(p.edgeOrder))
	for _, id := range p.edgeOrder {
		e := p.edges[id]
		edges = append(edges, wire.WebEdge{ID: e.ID, Source: e.Source, Sink: e.Sink})
	}
	return wire.WebPipeline{
		ID:           p.ID,
		Name:         p.Name,
		Instantiated: p.instantiated,
		Committed:    p.committed,
		Description:  p.Description,
		Nodes:        nodes,
		Edges:        edges,
	}
}
