package fsm

// Result is returned by event handlers. An Unhandled result from a leaf
// bubbles the event up to its root.
type Result int

const (
	Unhandled Result = iota
	Handled
)

func (r Result) String() string {
	if r == Handled {
		return "handled"
	}
	return "unhandled"
}

// EntryFunc runs when a state is entered. Entry and exit actions must not
// request transitions themselves; they post events instead.
type EntryFunc func()

// ExitFunc runs when a state is left.
type ExitFunc func()

// HandlerFunc reacts to an event while its state is active.
type HandlerFunc func(ev Event) Result

// SettledFunc is called once a transition has completed, with the new
// root and leaf. For leafless roots leaf equals root.
type SettledFunc func(root, leaf StateID)

// UnhandledEvent describes an event no handler accepted.
type UnhandledEvent struct {
	State  StateID
	Root   StateID
	Source StateID
	Event  Event
}

// UnhandledFunc observes dropped events.
type UnhandledFunc func(UnhandledEvent)
