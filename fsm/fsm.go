// Package fsm implements a small declarative finite-state machine with
// single-flight transition discipline: states and their named outgoing
// transitions are defined up front, and at most one transition can be in
// flight at a time.
package fsm

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/creastat/clustermgr/wire"
)

var (
	// ErrAlreadyTransitioning is returned when a transition is attempted
	// while another is already in flight.
	ErrAlreadyTransitioning = errors.New("fsm: transition already in progress")
	// ErrInvalidTransition is returned when the named transition does not
	// exist from the current state.
	ErrInvalidTransition = errors.New("fsm: invalid transition")
	// ErrTerminal is returned when a transition is attempted from a state
	// with no outgoing transitions.
	ErrTerminal = errors.New("fsm: machine has reached a final state")
	// ErrUnknownState is returned at construction time when a transition
	// names a to-state that was never declared.
	ErrUnknownState = errors.New("fsm: transition references an undeclared state")
)

// Transition is one named edge from a state to another.
type Transition struct {
	Name    string
	ToState string
}

// StateDecl is one state and its outgoing transitions.
type StateDecl struct {
	Name             string
	Description      string
	ValidTransitions []Transition
}

// Machine is a declarative finite-state machine with a single-flight
// transitioning latch. The zero value is not usable; construct with New
// or Load.
type Machine struct {
	mu           sync.Mutex
	states       map[string]StateDecl
	order        []string
	initial      string
	current      string
	description  string
	transitioning bool
}

// New builds a Machine from explicit state declarations, validating that
// every transition's to-state was itself declared.
func New(states []StateDecl, initial string, description string) (*Machine, error) {
	m := &Machine{
		states:      make(map[string]StateDecl, len(states)),
		initial:     initial,
		current:     initial,
		description: description,
	}
	for _, s := range states {
		if _, dup := m.states[s.Name]; dup {
			return nil, fmt.Errorf("fsm: duplicate state %q", s.Name)
		}
		m.states[s.Name] = s
		m.order = append(m.order, s.Name)
	}
	if _, ok := m.states[initial]; !ok {
		return nil, fmt.Errorf("fsm: initial state %q is not declared", initial)
	}
	for _, s := range states {
		seen := make(map[string]bool, len(s.ValidTransitions))
		for _, t := range s.ValidTransitions {
			if _, ok := m.states[t.ToState]; !ok {
				return nil, fmt.Errorf("%w: transition %q -> %q", ErrUnknownState, t.Name, t.ToState)
			}
			if seen[t.Name] {
				return nil, fmt.Errorf("fsm: state %q declares transition %q more than once", s.Name, t.Name)
			}
			seen[t.Name] = true
		}
	}
	return m, nil
}

// Load parses a declarative FSM document (JSON-encoded wire.FSMDeclaration).
func Load(data []byte) (*Machine, error) {
	var decl wire.FSMDeclaration
	if err := json.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("fsm: parse declaration: %w", err)
	}
	states := make([]StateDecl, 0, len(decl.States))
	for _, s := range decl.States {
		ts := make([]Transition, 0, len(s.ValidTransitions))
		for _, t := range s.ValidTransitions {
			ts = append(ts, Transition{Name: t.Name, ToState: t.ToState})
		}
		states = append(states, StateDecl{Name: s.Name, Description: s.Description, ValidTransitions: ts})
	}
	return New(states, decl.InitialState, decl.Description)
}

// State returns the current state's name.
func (m *Machine) State() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// IsFinal reports whether the current state has no outgoing transitions.
func (m *Machine) IsFinal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.states[m.current].ValidTransitions) == 0
}

// CanTransition reports whether the named transition is currently legal,
// and if not, a human-readable reason.
func (m *Machine) CanTransition(name string) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.canTransitionLocked(name)
}

func (m *Machine) canTransitionLocked(name string) (bool, string) {
	if m.transitioning {
		return false, "cannot transition while a transition is already in progress"
	}
	for _, t := range m.states[m.current].ValidTransitions {
		if t.Name == name {
			return true, ""
		}
	}
	return false, fmt.Sprintf("transition %q is not valid from state %q", name, m.current)
}

// Transition performs the named transition, moving to its declared
// to-state. It acquires and releases the single-flight latch itself; it
// is not meant to wrap a long-running external call — callers that need
// to hold the latch across an asynchronous worker-runtime call should use
// BeginTransition/Complete instead.
func (m *Machine) Transition(name string) error {
	if err := m.BeginTransition(name); err != nil {
		return err
	}
	return m.Complete(name, nil)
}

// BeginTransition validates and claims the single-flight latch for the
// named transition without yet moving state. It must be followed by a
// call to Complete (with the same name) once the underlying operation
// finishes, successfully or not.
func (m *Machine) BeginTransition(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ok, reason := m.canTransitionLocked(name)
	if !ok {
		if m.transitioning {
			return ErrAlreadyTransitioning
		}
		if len(m.states[m.current].ValidTransitions) == 0 {
			return ErrTerminal
		}
		return fmt.Errorf("%w: %s", ErrInvalidTransition, reason)
	}
	m.transitioning = true
	return nil
}

// Complete releases the latch claimed by BeginTransition. If cause is
// nil, the machine moves to the transition's declared to-state; if
// non-nil, the machine stays in its current state and cause is returned
// unchanged, so callers can propagate the underlying failure.
func (m *Machine) Complete(name string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer func() { m.transitioning = false }()

	if cause != nil {
		return cause
	}
	for _, t := range m.states[m.current].ValidTransitions {
		if t.Name == name {
			m.current = t.ToState
			return nil
		}
	}
	return fmt.Errorf("%w: %s no longer valid from %s", ErrInvalidTransition, name, m.current)
}

// Snapshot returns the full observable state of the machine.
func (m *Machine) Snapshot() wire.FSMSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]wire.StateInfo, len(m.order))
	for _, name := range m.order {
		s := m.states[name]
		ts := make([]wire.TransitionDecl, 0, len(s.ValidTransitions))
		for _, t := range s.ValidTransitions {
			ts = append(ts, wire.TransitionDecl{Name: t.Name, ToState: t.ToState})
		}
		states[name] = wire.StateInfo{Name: s.Name, Description: s.Description, ValidTransitions: ts}
	}
	return wire.FSMSnapshot{
		CurrentState: m.current,
		InitialState: m.initial,
		Description:  m.description,
		States:       states,
	}
}
