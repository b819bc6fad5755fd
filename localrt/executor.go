// Package localrt is a concrete, in-memory workerrt.Runtime: a single
// process that instantiates each node template's runtime instance and
// drives data through the committed pipeline's edges with one goroutine
// per node, adapted from a streaming DAG executor (channel-based
// per-node input/output, panic recovery with stack traces, streaming
// output routing as events arrive rather than batched after completion).
// It is a reference implementation and a runnable demonstration of the
// worker-runtime contract (the cluster package's tests use their own fake
// runtime instead) — not a substitute for a real distributed worker
// runtime.
package localrt

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/creastat/clustermgr/graph"
	"github.com/creastat/clustermgr/node"
	"github.com/creastat/clustermgr/telemetry"
)

type execNodeState struct {
	input  chan any
	output chan any
	done   chan struct{}
}

type execution struct {
	ctx    context.Context
	cancel context.CancelFunc

	pipeline *graph.Pipeline
	logger   telemetry.Logger

	mu         sync.Mutex
	nodeStates map[string]*execNodeState
	wg         sync.WaitGroup
	errorChan  chan error
}

// startExecution launches one goroutine per executable node in the
// pipeline and wires their input/output channels per the pipeline's
// edges. It returns immediately; call (*execution).wait to block for
// completion, or cancel the returned execution's context to stop early.
func startExecution(parent context.Context, pl *graph.Pipeline, logger telemetry.Logger) *execution {
	ctx, cancel := context.WithCancel(parent)
	nodes := pl.AllNodes()

	e := &execution{
		ctx:        ctx,
		cancel:     cancel,
		pipeline:   pl,
		logger:     logger,
		nodeStates: make(map[string]*execNodeState, len(nodes)),
		errorChan:  make(chan error, len(nodes)),
	}

	for _, n := range nodes {
		e.nodeStates[n.ID] = &execNodeState{
			input:  make(chan any, 100),
			output: make(chan any, 100),
			done:   make(chan struct{}),
		}
	}

	for _, n := range nodes {
		exec, ok := n.Instance.(node.Executable)
		if !ok {
			// Nodes whose instance doesn't implement Executable (e.g. a
			// placeholder registered only to exercise the registry/graph
			// layers) are wired but never driven.
			close(e.nodeStates[n.ID].output)
			close(e.nodeStates[n.ID].done)
			continue
		}
		e.wg.Add(1)
		go e.runNode(n, exec)
	}

	return e
}

func (e *execution) runNode(n *graph.WrappedNode, exec node.Executable) {
	defer e.wg.Done()

	state := e.nodeStates[n.ID]
	logger := e.logger.WithModule("localrt." + n.Name)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.routeOutputs(n, state)
	}()

	defer close(state.output)
	defer close(state.done)

	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			stackLen := runtime.Stack(buf, false)
			err := fmt.Errorf("node %s panicked: %v\n%s", n.Name, r, buf[:stackLen])
			logger.Error("node panicked", telemetry.Err(err))
			select {
			case e.errorChan <- err:
			default:
			}
			e.cancel()
		}
	}()

	if err := exec.Process(e.ctx, state.input, state.output); err != nil {
		logger.Error("node returned error", telemetry.Err(err))
		select {
		case e.errorChan <- err:
		default:
		}
		e.cancel()
	}
}

func (e *execution) routeOutputs(n *graph.WrappedNode, state *execNodeState) {
	outgoing := make([]graph.Edge, 0)
	for _, edge := range e.pipeline.AllEdges() {
		if edge.Source == n.ID {
			outgoing = append(outgoing, edge)
		}
	}

	for value := range state.output {
		for _, edge := range outgoing {
			sinkState := e.nodeStates[edge.Sink]
			select {
			case <-e.ctx.Done():
				return
			case sinkState.input <- value:
			default:
				// Backpressure: a full downstream buffer drops rather
				// than blocks, so one slow sink cannot stall fan-out to
				// its siblings.
			}
		}
	}

	for _, edge := range outgoing {
		e.closeInputIfAllUpstreamDone(edge.Sink)
	}
}

func (e *execution) closeInputIfAllUpstreamDone(nodeID string) bool {
	allDone := true
	for _, edge := range e.pipeline.AllEdges() {
		if edge.Sink != nodeID {
			continue
		}
		select {
		case <-e.nodeStates[edge.Source].done:
		default:
			allDone = false
		}
	}
	if !allDone {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	state := e.nodeStates[nodeID]
	select {
	case <-state.done:
	default:
		close(state.input)
	}
	return true
}

// feed delivers value into the input channel of the node with the given
// id (unknown ids are ignored). Real sources typically generate their own
// data; this is the path localrt uses to drive deterministic test
// fixtures through the graph.
func (e *execution) feed(nodeID string, value any) {
	e.mu.Lock()
	state, ok := e.nodeStates[nodeID]
	e.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-e.ctx.Done():
	case state.input <- value:
	}
}

func (e *execution) wait() error {
	e.wg.Wait()
	close(e.errorChan)
	for err := range e.errorChan {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *execution) stop() {
	e.cancel()
}
