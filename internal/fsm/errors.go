package fsm

import "errors"

var (
	ErrQueueFull            = errors.New("event queue full")
	ErrDispatcherStopped    = errors.New("dispatcher stopped")
	ErrUnknownState         = errors.New("unknown state")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrTransitionInProgress = errors.New("transition already in progress")
	ErrNoInitialState       = errors.New("no initial state")
	ErrNotInitialized       = errors.New("machine not initialized")
)
