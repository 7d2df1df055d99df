package fsm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"network-service/internal/logger"
)

// Machine is a two-level hierarchical state machine. All methods that run
// handlers (Init, Fire, Traverse, Switch) must be called from a single
// goroutine, normally the dispatcher. Accessors are safe from anywhere.
type Machine struct {
	states  map[StateID]*stateDef
	initial StateID

	mu        sync.RWMutex
	current   StateID
	source    StateID
	lastEvent Event

	global    HandlerFunc
	settled   SettledFunc
	unhandled UnhandledFunc
	timer     *Timer
	logger    *logger.Logger

	transitioning  bool
	unhandledCount atomic.Uint64
}

// MachineOption configures a Machine at Build time.
type MachineOption func(*Machine)

func WithLogger(l *logger.Logger) MachineOption {
	return func(m *Machine) { m.logger = l }
}

// WithGlobalHandler installs the handler tried before any state handler.
func WithGlobalHandler(fn HandlerFunc) MachineOption {
	return func(m *Machine) { m.global = fn }
}

// WithSettledHook is called after every completed transition.
func WithSettledHook(fn SettledFunc) MachineOption {
	return func(m *Machine) { m.settled = fn }
}

func WithUnhandledObserver(fn UnhandledFunc) MachineOption {
	return func(m *Machine) { m.unhandled = fn }
}

// WithTimer ties a timer to the machine so state-scoped timers are
// stopped when their owner exits.
func WithTimer(t *Timer) MachineOption {
	return func(m *Machine) { m.timer = t }
}

// Init enters the initial state.
func (m *Machine) Init() error {
	m.mu.RLock()
	started := m.current != StateNone
	m.mu.RUnlock()
	if started {
		return nil
	}
	root := m.initial.Root()
	m.transition(func() {
		m.setCurrent(m.initial)
		m.enter(root)
		if m.initial != root {
			m.enter(m.initial)
		}
	})
	m.logger.Infof("Entered initial state %s", m.initial)
	m.settle()
	return nil
}

// Current returns the active leaf, or the active root when it has no
// sub-states.
func (m *Machine) Current() StateID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Root returns the root of the current state.
func (m *Machine) Root() StateID {
	return m.Current().Root()
}

// SourceState is the state that was active before the last transition.
func (m *Machine) SourceState() StateID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.source
}

func (m *Machine) LastEvent() Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastEvent
}

// UnhandledCount is the number of events that no handler accepted.
func (m *Machine) UnhandledCount() uint64 {
	return m.unhandledCount.Load()
}

// Fire runs one event through the global handler, the current leaf and
// finally its root.
func (m *Machine) Fire(ev Event) Result {
	m.mu.Lock()
	if m.current == StateNone {
		m.mu.Unlock()
		m.logger.Errorf("Event %s fired before init", ev)
		return Unhandled
	}
	m.lastEvent = ev
	cur := m.current
	m.mu.Unlock()

	m.logger.Debugf("Event %s in state %s", ev, cur)

	def := m.states[cur]
	if m.global != nil && !def.claims(ev.ID) {
		if m.global(ev) == Handled {
			return Handled
		}
	}

	if m.handle(cur, ev) == Handled {
		return Handled
	}
	if root := cur.Parent(); root != StateNone {
		if m.handle(root, ev) == Handled {
			return Handled
		}
	}

	m.unhandledCount.Add(1)
	info := UnhandledEvent{
		State:  cur,
		Root:   cur.Root(),
		Source: m.SourceState(),
		Event:  ev,
	}
	m.logger.Warnf("Unhandled event %s in state %s (root %s, source %s)", ev, info.State, info.Root, info.Source)
	if m.unhandled != nil {
		m.unhandled(info)
	}
	return Unhandled
}

func (m *Machine) handle(id StateID, ev Event) Result {
	def := m.states[id]
	if def == nil || def.onEvent == nil {
		return Unhandled
	}
	return def.onEvent(ev)
}

// Traverse moves to target, exiting and entering roots when target lies
// under a different root. The order is leaf exit, root exit, root entry,
// leaf entry.
func (m *Machine) Traverse(target StateID) error {
	if err := m.checkTarget(target); err != nil {
		return err
	}

	from := m.Current()
	fromRoot, toRoot := from.Root(), target.Root()

	m.transition(func() {
		if from != fromRoot {
			m.exit(from)
		}
		if fromRoot != toRoot {
			m.exit(fromRoot)
		}
		m.setCurrent(target)
		if fromRoot != toRoot {
			m.enter(toRoot)
		}
		if target != toRoot {
			m.enter(target)
		}
	})

	m.logger.Infof("Traversed %s -> %s", from, target)
	m.settle()
	return nil
}

// Switch changes the leaf without leaving the current root. Switching to
// the current leaf re-runs its exit and entry actions.
func (m *Machine) Switch(target StateID) error {
	if err := m.checkTarget(target); err != nil {
		return err
	}
	from := m.Current()
	if target.IsRoot() || target.Root() != from.Root() {
		return fmt.Errorf("%w: cannot switch from %s to %s", ErrInvalidTransition, from, target)
	}

	m.transition(func() {
		if from != from.Root() {
			m.exit(from)
		}
		m.setCurrent(target)
		m.enter(target)
	})

	m.logger.Infof("Switched %s -> %s", from, target)
	m.settle()
	return nil
}

func (m *Machine) checkTarget(target StateID) error {
	if !target.Known() || target == StateNone {
		return fmt.Errorf("%w: %d", ErrUnknownState, int(target))
	}
	if target.IsRoot() && len(Leaves(target)) > 0 {
		return fmt.Errorf("%w: %s has sub-states", ErrInvalidTransition, target)
	}
	if m.transitioning {
		return fmt.Errorf("%w: to %s", ErrTransitionInProgress, target)
	}
	if m.Current() == StateNone {
		return ErrNotInitialized
	}
	return nil
}

// transition runs steps with nested transitions locked out. The flag is
// cleared even if an action panics.
func (m *Machine) transition(steps func()) {
	m.transitioning = true
	defer func() { m.transitioning = false }()
	steps()
}

func (m *Machine) setCurrent(s StateID) {
	m.mu.Lock()
	m.source = m.current
	m.current = s
	m.mu.Unlock()
}

func (m *Machine) enter(id StateID) {
	m.logger.Debugf("Entering %s", id)
	if def := m.states[id]; def != nil && def.onEnter != nil {
		def.onEnter()
	}
}

func (m *Machine) exit(id StateID) {
	m.logger.Debugf("Exiting %s", id)
	if def := m.states[id]; def != nil && def.onExit != nil {
		def.onExit()
	}
	if m.timer != nil {
		m.timer.ReleaseOwner(id)
	}
}

func (m *Machine) settle() {
	if m.settled == nil {
		return
	}
	cur := m.Current()
	m.settled(cur.Root(), cur)
}
