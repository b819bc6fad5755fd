package wire

// TransitionDecl is one declared transition out of a state.
type TransitionDecl struct {
	Name     string `json:"name"`
	ToState  string `json:"to_state"`
}

// StateDecl is one declared state and its outgoing transitions, as loaded
// from a declarative FSM document.
type StateDecl struct {
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	ValidTransitions []TransitionDecl `json:"valid_transitions"`
}

// FSMDeclaration is the top-level declarative document describing an
// entire finite-state machine: its states, their transitions, and which
// state it starts in.
type FSMDeclaration struct {
	InitialState string      `json:"initial_state"`
	Description  string      `json:"description,omitempty"`
	States       []StateDecl `json:"states"`
}

// StateInfo projects one state's name, description and allowed
// transitions for the snapshot returned to observers.
type StateInfo struct {
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	ValidTransitions []TransitionDecl `json:"valid_transitions"`
}

// FSMSnapshot is the Go analogue of FSM.to_dict(): the full observable
// state of a machine at a point in time.
type FSMSnapshot struct {
	CurrentState string               `json:"current_state"`
	InitialState string               `json:"initial_state"`
	Description  string               `json:"description,omitempty"`
	States       map[string]StateInfo `json:"states"`
}
