// Package workerrt defines the contract the cluster controller depends
// on to actually drive a pipeline: committing it onto workers, starting
// and stopping preview/recording, collecting results, and exposing the
// cluster's live state. It intentionally says nothing about how a
// runtime is implemented — scheduling, process placement, and the wire
// protocol to individual workers are all external to this module.
package workerrt

import (
	"context"
	"errors"

	"github.com/creastat/clustermgr/graph"
	"github.com/creastat/clustermgr/wire"
)

var (
	// ErrWorkerRuntimeFailure wraps any error returned by the Runtime calls
	// cluster.Manager makes inside its asynchronous lifecycle operations.
	ErrWorkerRuntimeFailure = errors.New("workerrt: worker runtime call failed")
	// ErrUpstreamDisconnected indicates the runtime's push endpoint or
	// control channel dropped unexpectedly.
	ErrUpstreamDisconnected = errors.New("workerrt: upstream connection lost")
)

// Runtime is the external collaborator that actually executes committed
// pipelines across a set of worker processes. cluster.Manager calls the
// commit, start, record, stop, collect and reset methods from a goroutine
// per operation and never assumes they return quickly; callers are
// expected to honor ctx's deadline.
type Runtime interface {
	// Host and Port identify where this runtime's manager process and
	// push endpoint can be reached.
	Host() string
	Port() int

	// State returns the runtime's current cluster-wide state snapshot.
	State() wire.ClusterState

	// AsyncCommit pushes the given pipeline graph onto the runtime using
	// the supplied worker-id -> node-id mapping.
	AsyncCommit(ctx context.Context, pipeline *graph.Pipeline, mapping map[string][]string) error
	// AsyncStart begins preview execution of the committed pipeline.
	AsyncStart(ctx context.Context) error
	// AsyncRecord transitions a previewing pipeline into recording mode.
	AsyncRecord(ctx context.Context) error
	// AsyncStop halts a running (previewing or recording) pipeline.
	AsyncStop(ctx context.Context) error
	// AsyncCollect retrieves recorded data from the workers.
	AsyncCollect(ctx context.Context) error
	// AsyncReset tears down the committed pipeline, optionally keeping
	// remote workers connected for reuse by the next pipeline.
	AsyncReset(ctx context.Context, keepRemoteWorkers bool) error
	// AsyncShutdown tears down the entire runtime, including all workers.
	AsyncShutdown(ctx context.Context) error

	// Zeroconf enables or disables zeroconf worker discovery.
	Zeroconf(enable bool) error
	// PushEndpoint returns the ws:// URL observers should connect to for
	// live cluster state updates.
	PushEndpoint() string
}
