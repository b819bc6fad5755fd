package graph

import "github.com/creastat/clustermgr/node"

// Builder constructs a Pipeline with a fluent API: chain AddNode/Connect
// calls and finish with Build.
type Builder struct {
	pipeline *Pipeline
	registry *node.Registry
	byName   map[string]*WrappedNode
	err      error
}

// NewBuilder starts a fluent pipeline builder backed by reg for template
// lookups.
func NewBuilder(name, description string, reg *node.Registry) *Builder {
	return &Builder{
		pipeline: New(name, description),
		registry: reg,
		byName:   make(map[string]*WrappedNode),
	}
}

// AddNode instantiates registryName (optionally package-scoped) under the
// given local name, to be referenced by Connect.
func (b *Builder) AddNode(localName, registryName, pkg string, params map[string]any) *Builder {
	if b.err != nil {
		return b
	}
	wn, err := b.pipeline.AddNode(b.registry, registryName, pkg, localName, params)
	if err != nil {
		b.err = err
		return b
	}
	b.byName[localName] = wn
	return b
}

// Connect adds an edge between two previously added local node names.
func (b *Builder) Connect(fromName, toName string) *Builder {
	if b.err != nil {
		return b
	}
	from, ok := b.byName[fromName]
	if !ok {
		b.err = &ErrTemplateUnknown{Package: "", Name: fromName}
		return b
	}
	to, ok := b.byName[toName]
	if !ok {
		b.err = &ErrTemplateUnknown{Package: "", Name: toName}
		return b
	}
	if _, err := b.pipeline.AddEdge(from.ID, to.ID); err != nil {
		b.err = err
	}
	return b
}

// ErrTemplateUnknown is reused here for a builder referencing a local
// name that was never added, mirroring node.ErrTemplateUnknown's shape.
type ErrTemplateUnknown struct {
	Package string
	Name    string
}

func (e *ErrTemplateUnknown) Error() string {
	return "graph: builder has no node named " + e.Name
}

// Build returns the constructed pipeline, or the first error encountered
// during construction.
func (b *Builder) Build() (*Pipeline, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.pipeline, nil
}
