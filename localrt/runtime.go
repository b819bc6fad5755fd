package localrt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/creastat/clustermgr/graph"
	"github.com/creastat/clustermgr/telemetry"
	"github.com/creastat/clustermgr/wire"
)

// Runtime is a concrete, single-process workerrt.Runtime implementation.
type Runtime struct {
	host   string
	port   int
	logger telemetry.Logger

	mu         sync.Mutex
	pipeline   *graph.Pipeline
	mapping    map[string][]string
	zeroconf   bool
	collecting bool
	collectSt  string
	running    bool
	exec       *execution

	server *pushServer
}

// New constructs a Runtime that reports host:port as its address. It
// does not listen on that address: the push endpoint serves clients only
// once Handler is mounted on a server by the caller.
func New(host string, port int, logger telemetry.Logger) *Runtime {
	r := &Runtime{host: host, port: port, logger: logger.WithModule("localrt")}
	r.server = newPushServer(logger)
	return r
}

func (r *Runtime) Host() string { return r.host }
func (r *Runtime) Port() int    { return r.port }

// PushEndpoint returns the ws:// URL of this runtime's push endpoint.
func (r *Runtime) PushEndpoint() string {
	return fmt.Sprintf("ws://%s:%d/ws", r.host, r.port)
}

// Handler exposes the push endpoint's http.Handler so callers can mount
// it on a real listener (e.g. httptest.Server in tests).
func (r *Runtime) Handler() http.Handler {
	return r.server.handler()
}

// State returns the runtime's current cluster state snapshot.
func (r *Runtime) State() wire.ClusterState {
	r.mu.Lock()
	defer r.mu.Unlock()

	workers := make(map[string]wire.WorkerState, len(r.mapping))
	for workerID, nodeIDs := range r.mapping {
		nodes := make(map[string]wire.NodeState, len(nodeIDs))
		for _, id := range nodeIDs {
			nodes[id] = wire.NodeState{ID: id, Connected: true, Ready: r.running, Init: true}
		}
		workers[workerID] = wire.WorkerState{ID: workerID, Name: workerID, Nodes: nodes}
	}

	return wire.ClusterState{
		ID:                r.host,
		IP:                r.host,
		Port:              r.port,
		Workers:           workers,
		Running:           r.running,
		Collecting:        r.collecting,
		CollectionStatus:  r.collectSt,
		ZeroconfDiscovery: r.zeroconf,
	}
}

// AsyncCommit records the pipeline and worker mapping this runtime will
// execute. It does not itself launch execution — that begins on
// AsyncStart.
func (r *Runtime) AsyncCommit(ctx context.Context, pl *graph.Pipeline, mapping map[string][]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipeline = pl
	r.mapping = mapping
	r.collecting = false
	r.collectSt = ""
	r.publishLocked()
	return nil
}

// AsyncStart launches the committed pipeline's executor.
func (r *Runtime) AsyncStart(ctx context.Context) error {
	r.mu.Lock()
	pl := r.pipeline
	if pl == nil {
		r.mu.Unlock()
		return fmt.Errorf("localrt: cannot start: %w", errNoPipeline)
	}
	if r.exec != nil {
		r.mu.Unlock()
		return nil
	}
	r.exec = startExecution(context.Background(), pl, r.logger)
	r.running = true
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

var errNoPipeline = errors.New("no pipeline committed")

// AsyncRecord checks that a pipeline is running and republishes the
// current state. localrt does not distinguish preview vs. record data
// paths and keeps no recording flag.
func (r *Runtime) AsyncRecord(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.exec == nil {
		return fmt.Errorf("localrt: cannot record: %w", errNoPipeline)
	}
	r.publishLocked()
	return nil
}

// AsyncStop halts the running executor.
func (r *Runtime) AsyncStop(ctx context.Context) error {
	r.mu.Lock()
	exec := r.exec
	r.running = false
	r.mu.Unlock()

	if exec != nil {
		exec.stop()
		_ = exec.wait()
	}

	r.mu.Lock()
	r.exec = nil
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// AsyncCollect marks the runtime as having collected recorded data.
func (r *Runtime) AsyncCollect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collecting = true
	r.collectSt = "PASS"
	r.publishLocked()
	return nil
}

// AsyncReset tears down any committed pipeline and running execution.
// keepRemoteWorkers is accepted for interface compatibility; localrt has
// no concept of remote workers to keep or release.
func (r *Runtime) AsyncReset(ctx context.Context, keepRemoteWorkers bool) error {
	r.mu.Lock()
	exec := r.exec
	r.exec = nil
	r.pipeline = nil
	r.mapping = nil
	r.running = false
	r.collecting = false
	r.collectSt = ""
	r.mu.Unlock()

	if exec != nil {
		exec.stop()
		_ = exec.wait()
	}

	r.mu.Lock()
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// AsyncShutdown stops any running execution and closes the push server.
func (r *Runtime) AsyncShutdown(ctx context.Context) error {
	if err := r.AsyncReset(ctx, false); err != nil {
		return err
	}
	r.server.shutdown()
	return nil
}

// Zeroconf toggles the runtime's reported zeroconf discovery flag.
func (r *Runtime) Zeroconf(enable bool) error {
	r.mu.Lock()
	r.zeroconf = enable
	r.publishLocked()
	r.mu.Unlock()
	return nil
}

// Feed delivers a value into the named node's input channel, for driving
// deterministic fixtures through a running pipeline in tests.
func (r *Runtime) Feed(nodeID string, value any) {
	r.mu.Lock()
	exec := r.exec
	r.mu.Unlock()
	if exec != nil {
		exec.feed(nodeID, value)
	}
}

func (r *Runtime) publishLocked() {
	r.server.broadcastState(r.stateLocked())
}

func (r *Runtime) stateLocked() wire.ClusterState {
	workers := make(map[string]wire.WorkerState, len(r.mapping))
	for workerID, nodeIDs := range r.mapping {
		nodes := make(map[string]wire.NodeState, len(nodeIDs))
		for _, id := range nodeIDs {
			nodes[id] = wire.NodeState{ID: id, Connected: true, Ready: r.running, Init: true}
		}
		workers[workerID] = wire.WorkerState{ID: workerID, Name: workerID, Nodes: nodes}
	}
	return wire.ClusterState{
		ID:                r.host,
		IP:                r.host,
		Port:              r.port,
		Workers:           workers,
		Running:           r.running,
		Collecting:        r.collecting,
		CollectionStatus:  r.collectSt,
		ZeroconfDiscovery: r.zeroconf,
	}
}
