package cluster

import (
	"embed"
	"fmt"

	"github.com/creastat/clustermgr/fsm"
)

//go:embed assets/lifecycle.json
var lifecycleAssets embed.FS

// DefaultLifecycle returns the canonical pipeline recording lifecycle FSM:
// INITIALIZED -> INSTANTIATED -> COMMITTED -> PREVIEWING -> RECORDING ->
// STOPPED -> COLLECTED -> INITIALIZED, with a STOPPED -> PREVIEWING
// re-preview edge and a reset transition back to INITIALIZED reachable
// from every non-initial state.
func DefaultLifecycle() (*fsm.Machine, error) {
	data, err := lifecycleAssets.ReadFile("assets/lifecycle.json")
	if err != nil {
		return nil, fmt.Errorf("cluster: load default lifecycle: %w", err)
	}
	m, err := fsm.Load(data)
	if err != nil {
		return nil, fmt.Errorf("cluster: default lifecycle: %w", err)
	}
	return m, nil
}
