// Package cluster implements the controller: the ClusterManager-style
// Manager that binds the pipeline lifecycle FSM, the pipeline
// collection, and an external worker runtime into the guarded set of
// operations a cluster frontend is allowed to call.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creastat/clustermgr/fsm"
	"github.com/creastat/clustermgr/graph"
	"github.com/creastat/clustermgr/node"
	"github.com/creastat/clustermgr/telemetry"
	"github.com/creastat/clustermgr/wire"

	"github.com/creastat/clustermgr/broadcast"
	"github.com/creastat/clustermgr/workerrt"
)

// ErrNoActivePipeline is returned by any lifecycle operation that
// requires an active pipeline when none has been instantiated.
var ErrNoActivePipeline = errors.New("cluster: no active pipeline")

// Manager is the cluster controller: it drives the lifecycle FSM,
// delegates actual execution to a workerrt.Runtime, and publishes every
// observable change to its two broadcasters.
type Manager struct {
	rt        workerrt.Runtime
	pipelines *Pipelines
	lifecycle *fsm.Machine
	registry  *node.Registry
	logger    telemetry.Logger
	timeouts  wire.Timeouts

	mu              sync.Mutex
	activePipeline  *graph.Pipeline
	zeroconfEnabled bool

	networkUpdates  *broadcast.Broadcaster[wire.UpdateMessage]
	pipelineUpdates *broadcast.Broadcaster[wire.PipelineUpdateMessage]
}

// NewManager constructs a Manager bound to the given worker runtime,
// pipeline collection, lifecycle machine, and node registry.
func NewManager(rt workerrt.Runtime, pipelines *Pipelines, lifecycle *fsm.Machine, registry *node.Registry, logger telemetry.Logger) *Manager {
	return &Manager{
		rt:              rt,
		pipelines:       pipelines,
		lifecycle:       lifecycle,
		registry:        registry,
		logger:          logger.WithModule("cluster"),
		timeouts:        wire.DefaultTimeouts(),
		networkUpdates:  broadcast.New[wire.UpdateMessage](),
		pipelineUpdates: broadcast.New[wire.PipelineUpdateMessage](),
	}
}

// SetTimeouts overrides the per-operation deadlines applied to worker
// runtime calls.
func (m *Manager) SetTimeouts(t wire.Timeouts) {
	m.timeouts = t.Normalize()
}

func (m *Manager) activePipelineSnapshot() *graph.Pipeline {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activePipeline
}

// run is the shared operation template: begin the named lifecycle
// transition, launch fn in a goroutine bounded by timeout, complete the
// transition when fn returns, and always publish an update afterward —
// success or failure. It blocks until fn has been launched (not until it
// completes), mirroring the original's create_task-and-return-immediately
// shape.
func (m *Manager) run(transition string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if err := m.lifecycle.BeginTransition(transition); err != nil {
		return err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		err := fn(ctx)
		if err != nil {
			err = fmt.Errorf("%w: %w", workerrt.ErrWorkerRuntimeFailure, err)
			m.logger.Error("lifecycle operation failed", telemetry.String("transition", transition), telemetry.Err(err))
		}
		if cerr := m.lifecycle.Complete(transition, err); cerr != nil && err == nil {
			m.logger.Error("lifecycle completion failed", telemetry.String("transition", transition), telemetry.Err(cerr))
		}
		m.publishPipelineUpdate()
	}()

	return nil
}

// BuildPipeline constructs a new pipeline from a parsed config document
// using this Manager's node registry, applies the config's worker
// delegation mapping (worker id -> node names), and adds it to the
// collection.
func (m *Manager) BuildPipeline(cfg wire.PipelineConfig) (*graph.Pipeline, error) {
	pl, err := graph.NewFromConfig(cfg, m.registry)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]string, len(pl.AllNodes()))
	for _, n := range pl.AllNodes() {
		byName[n.Name] = n.ID
	}
	for workerID, nodeNames := range cfg.Mappings {
		for _, name := range nodeNames {
			nodeID, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("%w: mapping references unknown node %q", graph.ErrNodeNotFound, name)
			}
			if err := pl.AssignWorker(nodeID, workerID); err != nil {
				return nil, err
			}
		}
	}

	m.pipelines.Add(pl)
	return pl, nil
}

// Instantiate builds the active pipeline pointer from a pipeline already
// present in the collection and transitions INITIALIZED -> INSTANTIATED.
// Unlike the other lifecycle operations, instantiation is local (no
// worker-runtime round trip) and therefore completes synchronously.
func (m *Manager) Instantiate(pipelineID string) error {
	if err := m.lifecycle.BeginTransition("instantiate"); err != nil {
		return err
	}

	pl, err := m.pipelines.Get(pipelineID)
	if err != nil {
		m.lifecycle.Complete("instantiate", err)
		m.publishPipelineUpdate()
		return err
	}
	if !pl.CanInstantiate() {
		err := fmt.Errorf("%w", graph.ErrInstantiationRefused)
		m.lifecycle.Complete("instantiate", err)
		m.publishPipelineUpdate()
		return err
	}
	if err := pl.Instantiate(); err != nil {
		m.lifecycle.Complete("instantiate", err)
		m.publishPipelineUpdate()
		return err
	}

	m.mu.Lock()
	m.activePipeline = pl
	m.mu.Unlock()

	err = m.lifecycle.Complete("instantiate", nil)
	m.publishPipelineUpdate()
	return err
}

// Commit pushes the active pipeline onto the worker runtime.
func (m *Manager) Commit() error {
	pl := m.activePipelineSnapshot()
	if pl == nil {
		return ErrNoActivePipeline
	}
	timeout := time.Duration(m.timeouts.Normalize().CommitTimeoutSeconds) * time.Second
	return m.run("commit", timeout, func(ctx context.Context) error {
		if err := m.rt.AsyncReset(ctx, true); err != nil {
			return err
		}
		mapping, err := pl.WorkerGraphMapping()
		if err != nil {
			return err
		}
		if err := m.rt.AsyncCommit(ctx, pl, mapping); err != nil {
			return err
		}
		return pl.SetCommitted(true)
	})
}

// Preview starts preview execution of the committed pipeline. It is also
// the re-preview transition reachable from STOPPED.
func (m *Manager) Preview() error {
	if m.activePipelineSnapshot() == nil {
		return ErrNoActivePipeline
	}
	timeout := time.Duration(m.timeouts.Normalize().PreviewTimeoutSeconds) * time.Second
	return m.run("preview", timeout, func(ctx context.Context) error {
		return m.rt.AsyncStart(ctx)
	})
}

// Record transitions a previewing pipeline into recording mode.
func (m *Manager) Record() error {
	if m.activePipelineSnapshot() == nil {
		return ErrNoActivePipeline
	}
	timeout := time.Duration(m.timeouts.Normalize().RecordTimeoutSeconds) * time.Second
	return m.run("record", timeout, func(ctx context.Context) error {
		return m.rt.AsyncRecord(ctx)
	})
}

// Stop halts a running pipeline.
func (m *Manager) Stop() error {
	if m.activePipelineSnapshot() == nil {
		return ErrNoActivePipeline
	}
	timeout := time.Duration(m.timeouts.Normalize().StopTimeoutSeconds) * time.Second
	return m.run("stop", timeout, func(ctx context.Context) error {
		return m.rt.AsyncStop(ctx)
	})
}

// Collect retrieves recorded data from the workers.
func (m *Manager) Collect() error {
	if m.activePipelineSnapshot() == nil {
		return ErrNoActivePipeline
	}
	timeout := time.Duration(m.timeouts.Normalize().CollectTimeoutSeconds) * time.Second
	return m.run("collect", timeout, func(ctx context.Context) error {
		return m.rt.AsyncCollect(ctx)
	})
}

// Reset tears down the active pipeline and returns the lifecycle to
// INITIALIZED. It is reachable from every non-initial state.
func (m *Manager) Reset() error {
	timeout := time.Duration(m.timeouts.Normalize().StopTimeoutSeconds) * time.Second
	return m.run("reset", timeout, func(ctx context.Context) error {
		if err := m.rt.AsyncReset(ctx, true); err != nil {
			return err
		}
		m.mu.Lock()
		pl := m.activePipeline
		m.activePipeline = nil
		m.mu.Unlock()
		if pl != nil {
			pl.Destroy()
		}
		return nil
	})
}

// AssignWorkers validates and applies a full set of node-to-worker
// assignments to a pipeline: every node id is checked before any
// assignment is made. It is refused once the pipeline is instantiated. It
// does not consult the lifecycle transition latch, and worker ids are not
// checked against the runtime's state.
func (m *Manager) AssignWorkers(pipelineID string, assignments map[string]string) error {
	pl, err := m.pipelines.Get(pipelineID)
	if err != nil {
		return err
	}
	if pl.Instantiated() {
		return fmt.Errorf("%w: cannot reassign workers", graph.ErrAlreadyInstantiated)
	}

	for nodeID := range assignments {
		if _, err := pl.GetNode(nodeID); err != nil {
			return err
		}
	}
	for nodeID, workerID := range assignments {
		if err := pl.AssignWorker(nodeID, workerID); err != nil {
			return err
		}
	}
	return nil
}

// EnableZeroconfDiscovery enables zeroconf discovery on the worker
// runtime, records the flag on this Manager, and publishes a network
// update carrying it. The Manager holds no broadcast.Relay; a Relay's own
// flag is set with Relay.SetZeroconfEnabled.
func (m *Manager) EnableZeroconfDiscovery() error {
	if err := m.rt.Zeroconf(true); err != nil {
		return err
	}
	m.mu.Lock()
	m.zeroconfEnabled = true
	m.mu.Unlock()
	m.publishNetworkUpdate()
	return nil
}

// DisableZeroconfDiscovery disables zeroconf discovery on the worker
// runtime, records the flag on this Manager, and publishes a network
// update carrying it. The Manager holds no broadcast.Relay; a Relay's own
// flag is set with Relay.SetZeroconfEnabled.
func (m *Manager) DisableZeroconfDiscovery() error {
	if err := m.rt.Zeroconf(false); err != nil {
		return err
	}
	m.mu.Lock()
	m.zeroconfEnabled = false
	m.mu.Unlock()
	m.publishNetworkUpdate()
	return nil
}

// GetStatesInfo returns the FSM snapshot plus the active pipeline's id,
// if any.
func (m *Manager) GetStatesInfo() wire.StatesInfo {
	info := wire.StatesInfo{FSM: m.lifecycle.Snapshot()}
	if pl := m.activePipelineSnapshot(); pl != nil {
		info.ActivePipelineID = pl.ID
	}
	return info
}

// SubscribeNetworkUpdates registers a new subscriber to cluster-wide
// network state updates.
func (m *Manager) SubscribeNetworkUpdates() *broadcast.Subscription[wire.UpdateMessage] {
	state := m.rt.State()
	m.mu.Lock()
	state.ZeroconfDiscovery = m.zeroconfEnabled
	m.mu.Unlock()
	return m.networkUpdates.Subscribe(wire.UpdateMessage{Signal: wire.NetworkUpdate, Data: &state})
}

// UnsubscribeNetworkUpdates removes a network-update subscriber.
func (m *Manager) UnsubscribeNetworkUpdates(sub *broadcast.Subscription[wire.UpdateMessage]) {
	sub.Unsubscribe()
}

// SubscribePipelineUpdates registers a new subscriber to lifecycle/
// active-pipeline updates, immediately seeding it with the current
// snapshot as its first message.
func (m *Manager) SubscribePipelineUpdates() *broadcast.Subscription[wire.PipelineUpdateMessage] {
	return m.pipelineUpdates.Subscribe(m.currentPipelineUpdate())
}

// UnsubscribePipelineUpdates removes a pipeline-update subscriber.
func (m *Manager) UnsubscribePipelineUpdates(sub *broadcast.Subscription[wire.PipelineUpdateMessage]) {
	sub.Unsubscribe()
}

func (m *Manager) currentPipelineUpdate() wire.PipelineUpdateMessage {
	msg := wire.PipelineUpdateMessage{FSM: m.lifecycle.Snapshot()}
	if pl := m.activePipelineSnapshot(); pl != nil {
		web := pl.ToWebJSON()
		msg.ActivePipeline = &web
	}
	return msg
}

func (m *Manager) publishPipelineUpdate() {
	m.pipelineUpdates.Publish(m.currentPipelineUpdate())
}

func (m *Manager) publishNetworkUpdate() {
	state := m.rt.State()
	m.mu.Lock()
	state.ZeroconfDiscovery = m.zeroconfEnabled
	m.mu.Unlock()
	m.networkUpdates.Publish(wire.UpdateMessage{Signal: wire.NetworkUpdate, Data: &state})
}

// Shutdown tears down the worker runtime, then publishes one final
// message on each broadcaster: an empty PipelineUpdateMessage (no active
// pipeline) and a wire.Shutdown UpdateMessage. Neither sentinel constant
// is published, and subscriptions are not closed.
func (m *Manager) Shutdown(ctx context.Context) error {
	err := m.rt.AsyncShutdown(ctx)
	m.pipelineUpdates.Publish(wire.PipelineUpdateMessage{})
	m.networkUpdates.Publish(wire.UpdateMessage{Signal: wire.Shutdown})
	return err
}
