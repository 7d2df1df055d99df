package fsm

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"network-service/internal/logger"
)

const (
	DefaultQueueSize   = 32
	DefaultPostTimeout = 2 * time.Second
)

// Firer consumes events one at a time.
type Firer interface {
	Fire(ev Event) Result
}

// Dispatcher serializes events from any number of producers into a single
// consumer goroutine.
type Dispatcher struct {
	queue       chan Event
	postTimeout time.Duration
	logger      *logger.Logger

	stopped  chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	processed atomic.Uint64
	dropped   atomic.Uint64
}

func NewDispatcher(size int, postTimeout time.Duration, l *logger.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if postTimeout <= 0 {
		postTimeout = DefaultPostTimeout
	}
	if l == nil {
		l = logger.Discard()
	}
	return &Dispatcher{
		queue:       make(chan Event, size),
		postTimeout: postTimeout,
		logger:      l,
		stopped:     make(chan struct{}),
	}
}

// Post enqueues ev, waiting at most the post timeout for room. On timeout
// the event is dropped and ErrQueueFull returned.
func (d *Dispatcher) Post(ev Event) error {
	select {
	case <-d.stopped:
		return ErrDispatcherStopped
	default:
	}

	select {
	case d.queue <- ev:
		return nil
	default:
	}

	t := time.NewTimer(d.postTimeout)
	defer t.Stop()
	select {
	case d.queue <- ev:
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-t.C:
		d.dropped.Add(1)
		d.logger.Warnf("Dropping event %s: queue full for %v", ev, d.postTimeout)
		return fmt.Errorf("%w: %s", ErrQueueFull, ev)
	}
}

// Start runs the consumer loop in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context, target Firer) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Run(ctx, target)
	}()
}

// Run blocks until ctx is cancelled or Stop is called.
func (d *Dispatcher) Run(ctx context.Context, target Firer) {
	d.logger.Debugf("Dispatcher running")
	for {
		select {
		case <-ctx.Done():
			d.logger.Debugf("Dispatcher context done")
			return
		case <-d.stopped:
			d.logger.Debugf("Dispatcher stopped")
			return
		case ev := <-d.queue:
			d.dispatch(target, ev)
		}
	}
}

func (d *Dispatcher) dispatch(target Firer, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Panic while handling %s: %v\n%s", ev, r, debug.Stack())
		}
	}()
	target.Fire(ev)
	d.processed.Add(1)
}

// Stop ends the consumer loop and waits for it to return. Events still in
// the queue are discarded.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopped)
	})
	d.wg.Wait()
}

func (d *Dispatcher) Processed() uint64 { return d.processed.Load() }
func (d *Dispatcher) Dropped() uint64   { return d.dropped.Load() }
func (d *Dispatcher) Pending() int      { return len(d.queue) }

// RunPending fires queued events on the calling goroutine until the queue
// is empty and returns how many were handled. It must not be used while
// the consumer loop is running.
func (d *Dispatcher) RunPending(target Firer) int {
	n := 0
	for {
		select {
		case ev := <-d.queue:
			d.dispatch(target, ev)
			n++
		default:
			return n
		}
	}
}
