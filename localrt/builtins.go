package localrt

import (
	"context"
	"fmt"

	"github.com/creastat/clustermgr/node"
)

// DoneMarker is sent downstream by a producer to signal that one of a
// barrier node's upstream branches has finished. Barrier nodes count
// these rather than relying on channel closure, since a STEP node may sit
// on more than one incoming edge.
type DoneMarker struct{}

// errMarker wraps an upstream failure so a barrier node can fail fast
// instead of waiting out the remaining branches.
type errMarker struct{ err error }

// barrierNode synchronizes N upstream branches, forwarding every
// non-terminal value downstream as it arrives and emitting a single
// consolidated DoneMarker once every branch has reported done — or
// failing fast the first time an errMarker arrives.
type barrierNode struct {
	id            string
	upstreamCount int
}

// NewBarrierTemplate returns a registry template for a STEP node that
// performs upstream-branch synchronization: it waits for upstreamCount
// DoneMarker values before emitting its own, forwarding everything else
// unchanged.
func NewBarrierTemplate(upstreamCount int) node.Template {
	return node.Template{
		Name: "barrier",
		Kind: node.KindStep,
		New: func(params map[string]any) (node.Instance, error) {
			count := upstreamCount
			if v, ok := params["upstream_count"].(int); ok {
				count = v
			}
			return &barrierNode{id: "barrier", upstreamCount: count}, nil
		},
	}
}

func (b *barrierNode) ID() string { return b.id }

func (b *barrierNode) Process(ctx context.Context, input <-chan any, output chan<- any) error {
	doneCount := 0
	var firstErr error

	for v := range input {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		switch t := v.(type) {
		case errMarker:
			if firstErr == nil {
				firstErr = t.err
			}
			continue
		case DoneMarker:
			doneCount++
			continue
		default:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case output <- v:
			}
		}
	}

	if firstErr != nil {
		return firstErr
	}
	if doneCount != b.upstreamCount {
		return fmt.Errorf("localrt: barrier expected %d done markers, got %d", b.upstreamCount, doneCount)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case output <- DoneMarker{}:
	}
	return nil
}
