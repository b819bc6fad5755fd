// Package wire holds the JSON wire-format types exchanged with the
// outside world: cluster/worker/node state projections, pipeline update
// envelopes, pipeline configuration documents, the FSM declaration
// document, and worker-runtime push-endpoint frames.
package wire

// NodeState mirrors a single node's reported liveness as seen by a worker.
type NodeState struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Init      bool   `json:"init"`
	Connected bool   `json:"connected"`
	Ready     bool   `json:"ready"`
	Finished  bool   `json:"finished"`
	Port      int    `json:"port"`
}

// WorkerState mirrors a single worker's reported state, including the
// states of the nodes assigned to it.
type WorkerState struct {
	ID    string               `json:"id"`
	Name  string               `json:"name"`
	Port  int                  `json:"port"`
	IP    string               `json:"ip,omitempty"`
	Nodes map[string]NodeState `json:"nodes"`
}

// ClusterState is the full cluster snapshot broadcast to subscribers.
type ClusterState struct {
	ID                string                 `json:"id,omitempty"`
	IP                string                 `json:"ip,omitempty"`
	Port              int                    `json:"port"`
	Workers           map[string]WorkerState `json:"workers"`
	Running           bool                   `json:"running"`
	Collecting        bool                   `json:"collecting"`
	CollectionStatus  string                 `json:"collection_status,omitempty"`
	ZeroconfDiscovery bool                   `json:"zeroconf_discovery"`
}

// UpdateSignal discriminates an UpdateMessage's meaning.
type UpdateSignal string

const (
	NetworkUpdate        UpdateSignal = "NETWORK_UPDATE"
	Shutdown             UpdateSignal = "SHUTDOWN"
	UpstreamDisconnected UpdateSignal = "UPSTREAM_DISCONNECTED"
)

// UpdateMessage is what the cluster's network-update broadcaster fans out.
// Error is set only on an UpstreamDisconnected signal, distinguishing an
// abnormal connection loss from a clean Shutdown.
type UpdateMessage struct {
	Signal UpdateSignal  `json:"signal"`
	Data   *ClusterState `json:"data,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// PipelineUpdateMessage is what the pipeline broadcaster fans out: the
// FSM snapshot plus a projection of the active pipeline, if any.
type PipelineUpdateMessage struct {
	FSM             FSMSnapshot  `json:"fsm"`
	ActivePipeline  *WebPipeline `json:"active_pipeline,omitempty"`
}

// StatesInfo is returned by Manager.GetStatesInfo: the lifecycle FSM
// snapshot plus which pipeline (if any) is currently active.
type StatesInfo struct {
	FSM             FSMSnapshot `json:"fsm"`
	ActivePipelineID string     `json:"active_pipeline_id,omitempty"`
}
