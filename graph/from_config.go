package graph

import (
	"fmt"

	"github.com/creastat/clustermgr/node"
	"github.com/creastat/clustermgr/wire"
)

// NewFromConfig builds a pipeline from a parsed pipeline configuration
// document: nodes are constructed from cfg.Nodes (bare-string shorthand
// already normalized by wire.NodeConfig's UnmarshalJSON), then edges from
// cfg.Adj resolved by node name. Worker assignments are left unset; the
// caller applies cfg.Mappings via AssignWorker before instantiating.
func NewFromConfig(cfg wire.PipelineConfig, reg *node.Registry) (*Pipeline, error) {
	p := New(cfg.Name, cfg.Description)

	byName := make(map[string]*WrappedNode, len(cfg.Nodes))
	for _, nc := range cfg.Nodes {
		wn, err := p.AddNode(reg, nc.RegistryName, nc.Package, nc.Name, nc.Kwargs)
		if err != nil {
			return nil, fmt.Errorf("graph: building node %q: %w", nc.Name, err)
		}
		byName[nc.Name] = wn
	}

	for _, pair := range cfg.Adj {
		srcName, sinkName := pair[0], pair[1]
		src, ok := byName[srcName]
		if !ok {
			return nil, fmt.Errorf("%w: edge source %q", ErrNodeNotFound, srcName)
		}
		sink, ok := byName[sinkName]
		if !ok {
			return nil, fmt.Errorf("%w: edge sink %q", ErrNodeNotFound, sinkName)
		}
		if _, err := p.AddEdge(src.ID, sink.ID); err != nil {
			return nil, fmt.Errorf("graph: edge %s -> %s: %w", srcName, sinkName, err)
		}
	}

	return p, nil
}
