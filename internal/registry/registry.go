// Package registry keeps the list of subscribers that want to hear about
// entries into a given (root, sub-state) pair.
package registry

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"network-service/internal/fsm"
	"network-service/internal/logger"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrSealed          = errors.New("registry sealed")
)

// StateCallback is notified when the machine settles in a state it
// registered for.
type StateCallback interface {
	OnStateReached(root, leaf fsm.StateID)
}

// CallbackFunc adapts a plain function to StateCallback.
type CallbackFunc func(root, leaf fsm.StateID)

func (f CallbackFunc) OnStateReached(root, leaf fsm.StateID) { f(root, leaf) }

// Registration is one entry of the registry.
type Registration struct {
	Root     fsm.StateID
	Sub      fsm.StateID
	Label    string
	Callback StateCallback
}

func (r Registration) matches(root, leaf fsm.StateID) bool {
	if r.Root != root {
		return false
	}
	return r.Sub == fsm.StateAny || r.Sub == leaf
}

// Registry is additive: entries are only added at boot, in order, and
// never removed. Seal closes it for further registrations.
type Registry struct {
	mu      sync.RWMutex
	entries []Registration
	sealed  bool
	logger  *logger.Logger
}

func New(l *logger.Logger) *Registry {
	if l == nil {
		l = logger.Discard()
	}
	return &Registry{logger: l}
}

// Register adds cb for root and sub. sub is either fsm.StateAny or one of
// root's sub-states.
func (r *Registry) Register(root, sub fsm.StateID, label string, cb StateCallback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback for %q", ErrInvalidArgument, label)
	}
	if !root.IsRoot() {
		return fmt.Errorf("%w: %s is not a root state", ErrInvalidArgument, root)
	}
	if sub != fsm.StateAny && (sub.IsRoot() || sub.Parent() != root) {
		return fmt.Errorf("%w: %s is not a sub-state of %s", ErrInvalidArgument, sub, root)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("%w: cannot register %q", ErrSealed, label)
	}
	r.entries = append(r.entries, Registration{Root: root, Sub: sub, Label: label, Callback: cb})
	r.logger.Debugf("Registered %q for %s/%s", label, root, sub)
	return nil
}

// Seal rejects further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Notify calls every matching callback in registration order. It returns
// how many callbacks ran without panicking.
func (r *Registry) Notify(root, leaf fsm.StateID) int {
	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	ok := 0
	for _, e := range entries {
		if !e.matches(root, leaf) {
			continue
		}
		if r.invoke(e, root, leaf) {
			ok++
		}
	}
	return ok
}

func (r *Registry) invoke(e Registration, root, leaf fsm.StateID) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("Callback %q panicked in %s/%s: %v\n%s", e.Label, root, leaf, p, debug.Stack())
			ok = false
		}
	}()
	r.logger.Debugf("Running callback %q for %s/%s", e.Label, root, leaf)
	e.Callback.OnStateReached(root, leaf)
	return true
}
