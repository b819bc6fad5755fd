package wire

import (
	"encoding/json"
	"fmt"
)

// ManagerConfig describes the manager process a pipeline config targets.
type ManagerConfig struct {
	LogDir   string `json:"logdir"`
	Port     int    `json:"port"`
	Zeroconf bool   `json:"zeroconf"`
}

// NodeConfig describes one node to instantiate from the registry. It
// accepts a bare JSON string as shorthand for {"registry_name": s, "name": s}.
type NodeConfig struct {
	RegistryName string         `json:"registry_name"`
	Name         string         `json:"name"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Package      string         `json:"package,omitempty"`
}

// UnmarshalJSON accepts either a bare string shorthand ("foo") or a full
// object, mirroring the original config's field_validator on the nodes list.
func (n *NodeConfig) UnmarshalJSON(data []byte) error {
	var shorthand string
	if err := json.Unmarshal(data, &shorthand); err == nil {
		n.RegistryName = shorthand
		n.Name = shorthand
		n.Kwargs = nil
		n.Package = ""
		return nil
	}

	type alias NodeConfig
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("node config: %w", err)
	}
	*n = NodeConfig(a)
	return nil
}

// WorkerConfig describes one worker to add or expect as remote.
type WorkerConfig struct {
	Name        string `json:"name"`
	ID          string `json:"id,omitempty"`
	Remote      bool   `json:"remote"`
	Description string `json:"description,omitempty"`
}

// Workers is the list of workers a pipeline config expects, plus the
// manager endpoint they should connect to.
type Workers struct {
	ManagerIP   string         `json:"manager_ip"`
	ManagerPort int            `json:"manager_port"`
	Instances   []WorkerConfig `json:"instances"`
}

// Timeouts holds the per-operation deadlines applied to worker-runtime
// calls. Zero-valued fields are replaced with their documented defaults
// by DefaultTimeouts/Normalize.
type Timeouts struct {
	CommitTimeoutSeconds   int `json:"commit_timeout"`
	PreviewTimeoutSeconds  int `json:"preview_timeout"`
	RecordTimeoutSeconds   int `json:"record_timeout"`
	CollectTimeoutSeconds  int `json:"collect_timeout"`
	StopTimeoutSeconds     int `json:"stop_timeout"`
	ShutdownTimeoutSeconds int `json:"shutdown_timeout"`
}

// DefaultTimeouts returns the documented default timeout set.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		CommitTimeoutSeconds:   60,
		PreviewTimeoutSeconds:  20,
		RecordTimeoutSeconds:   20,
		CollectTimeoutSeconds:  20,
		StopTimeoutSeconds:     20,
		ShutdownTimeoutSeconds: 20,
	}
}

// Normalize fills any zero-valued field with its documented default.
func (t Timeouts) Normalize() Timeouts {
	d := DefaultTimeouts()
	if t.CommitTimeoutSeconds == 0 {
		t.CommitTimeoutSeconds = d.CommitTimeoutSeconds
	}
	if t.PreviewTimeoutSeconds == 0 {
		t.PreviewTimeoutSeconds = d.PreviewTimeoutSeconds
	}
	if t.RecordTimeoutSeconds == 0 {
		t.RecordTimeoutSeconds = d.RecordTimeoutSeconds
	}
	if t.CollectTimeoutSeconds == 0 {
		t.CollectTimeoutSeconds = d.CollectTimeoutSeconds
	}
	if t.StopTimeoutSeconds == 0 {
		t.StopTimeoutSeconds = d.StopTimeoutSeconds
	}
	if t.ShutdownTimeoutSeconds == 0 {
		t.ShutdownTimeoutSeconds = d.ShutdownTimeoutSeconds
	}
	return t
}

// PipelineConfig is the top-level JSON document describing a pipeline to
// build, its workers, and its operational timeouts.
type PipelineConfig struct {
	Mode              string         `json:"mode,omitempty"`
	Name              string         `json:"name"`
	Description       string         `json:"description,omitempty"`
	Workers           Workers        `json:"workers"`
	Nodes             []NodeConfig   `json:"nodes"`
	Runtime           *int           `json:"runtime,omitempty"`
	Adj               [][2]string    `json:"adj"`
	ManagerConfig     ManagerConfig  `json:"manager_config"`
	Mappings          map[string][]string `json:"mappings"`
	Timeouts          Timeouts       `json:"timeouts,omitempty"`
	KeepRemoteWorkers bool           `json:"keep_remote_workers"`
}
