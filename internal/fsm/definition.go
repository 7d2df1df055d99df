package fsm

import (
	"fmt"

	"network-service/internal/logger"
)

type stateDef struct {
	id      StateID
	onEnter EntryFunc
	onExit  ExitFunc
	onEvent HandlerFunc
	local   map[EventID]bool
}

func (s *stateDef) claims(id EventID) bool {
	return s != nil && s.local[id]
}

// StateOption configures a state in a Definition.
type StateOption func(*stateDef)

func WithOnEnter(fn EntryFunc) StateOption {
	return func(s *stateDef) { s.onEnter = fn }
}

func WithOnExit(fn ExitFunc) StateOption {
	return func(s *stateDef) { s.onExit = fn }
}

func WithOnEvent(fn HandlerFunc) StateOption {
	return func(s *stateDef) { s.onEvent = fn }
}

// WithLocalEvents lets a state handle the given events before the global
// handler sees them.
func WithLocalEvents(ids ...EventID) StateOption {
	return func(s *stateDef) {
		if s.local == nil {
			s.local = make(map[EventID]bool)
		}
		for _, id := range ids {
			s.local[id] = true
		}
	}
}

// Definition collects state behaviors before a Machine is built. The
// parent/child layout itself is fixed by the state tree in states.go.
type Definition struct {
	states  map[StateID]*stateDef
	initial StateID
	errs    []error
}

func NewDefinition() *Definition {
	return &Definition{
		states: make(map[StateID]*stateDef),
	}
}

// State attaches behaviors to id. Calling State twice for the same id
// merges the options.
func (d *Definition) State(id StateID, opts ...StateOption) *Definition {
	if !id.Known() {
		d.errs = append(d.errs, fmt.Errorf("%w: %d", ErrUnknownState, int(id)))
		return d
	}
	s, ok := d.states[id]
	if !ok {
		s = &stateDef{id: id}
		d.states[id] = s
	}
	for _, opt := range opts {
		opt(s)
	}
	return d
}

func (d *Definition) Initial(id StateID) *Definition {
	d.initial = id
	return d
}

func (d *Definition) Validate() error {
	if len(d.errs) > 0 {
		return d.errs[0]
	}
	if d.initial == StateNone {
		return ErrNoInitialState
	}
	if !d.initial.Known() {
		return fmt.Errorf("%w: initial %s", ErrUnknownState, d.initial)
	}
	if d.initial.IsRoot() && len(Leaves(d.initial)) > 0 {
		return fmt.Errorf("%w: initial state %s has sub-states", ErrInvalidTransition, d.initial)
	}
	return nil
}

// Build validates the definition and returns a machine that still has to
// be entered with Init.
func (d *Definition) Build(opts ...MachineOption) (*Machine, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		states:  d.states,
		initial: d.initial,
		current: StateNone,
		source:  StateNone,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.Discard()
	}
	return m, nil
}
