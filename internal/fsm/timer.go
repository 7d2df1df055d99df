package fsm

import (
	"sync"
	"time"

	"network-service/internal/logger"
)

// TimerScope controls when a running timer is cancelled implicitly.
type TimerScope int

const (
	// ScopeState timers stop when their owner state exits.
	ScopeState TimerScope = iota
	// ScopeMachine timers survive transitions until fired, re-armed or
	// stopped explicitly.
	ScopeMachine
)

// Timer is the machine's single restartable countdown. Expiry posts a
// Timer event carrying the tag the timer was armed with.
type Timer struct {
	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	tag      string
	owner    StateID
	scope    TimerScope
	duration time.Duration
	post     func(Event) error
	logger   *logger.Logger
}

func NewTimer(post func(Event) error, l *logger.Logger) *Timer {
	if l == nil {
		l = logger.Discard()
	}
	return &Timer{
		post:   post,
		logger: l,
	}
}

// Arm replaces any running timer. A non-positive duration only stops it.
func (t *Timer) Arm(d time.Duration, tag string, owner StateID, scope TimerScope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.stopLocked()
	if d <= 0 {
		return
	}

	t.gen++
	gen := t.gen
	t.tag = tag
	t.owner = owner
	t.scope = scope
	t.duration = d
	t.timer = time.AfterFunc(d, func() { t.fire(gen) })
	t.logger.Debugf("Timer armed: %s (%v, owner %s)", tag, d, owner)
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.timer == nil {
		t.mu.Unlock()
		return
	}
	tag := t.tag
	t.timer = nil
	t.mu.Unlock()

	t.logger.Debugf("Timer fired: %s", tag)
	if err := t.post(TimerEvent(tag)); err != nil {
		t.logger.Errorf("Failed to post timer event %q: %v", tag, err)
	}
}

func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.timer == nil {
		return
	}
	t.timer.Stop()
	t.timer = nil
	// invalidate a callback that already started
	t.gen++
	t.logger.Debugf("Timer stopped: %s", t.tag)
}

// ReleaseOwner stops the timer when it is state-scoped and owned by s.
func (t *Timer) ReleaseOwner(s StateID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil && t.scope == ScopeState && t.owner == s {
		t.stopLocked()
	}
}

// Active returns the tag and duration of the running timer.
func (t *Timer) Active() (string, time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer == nil {
		return "", 0, false
	}
	return t.tag, t.duration, true
}
