package core

import (
	"sync"
	"time"
)

// RetryPolicy tracks reconnect attempts and the slow polling interval
// used once the attempts are used up.
type RetryPolicy struct {
	mu       sync.Mutex
	maxRetry int
	floor    time.Duration
	ceiling  time.Duration
	retries  int
	interval time.Duration
}

// backoffFactor is applied to the polling interval per unsuccessful cycle.
const backoffFactor = 1.25

func NewRetryPolicy(maxRetry int, floor, ceiling time.Duration) *RetryPolicy {
	if ceiling < floor {
		ceiling = floor
	}
	return &RetryPolicy{
		maxRetry: maxRetry,
		floor:    floor,
		ceiling:  ceiling,
		interval: floor,
	}
}

// Configure updates the bounds, e.g. after settings were reloaded.
func (p *RetryPolicy) Configure(maxRetry int, floor, ceiling time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ceiling < floor {
		ceiling = floor
	}
	p.maxRetry, p.floor, p.ceiling = maxRetry, floor, ceiling
	p.interval = clamp(p.interval, floor, ceiling)
}

// Attempt records a lost connection. It returns true when another
// immediate retry is allowed; otherwise the counter is reset.
func (p *RetryPolicy) Attempt() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retries < p.maxRetry {
		p.retries++
		return true
	}
	p.retries = 0
	return false
}

// Grow multiplies the interval by the backoff factor up to the ceiling.
func (p *RetryPolicy) Grow() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.interval < p.ceiling {
		p.interval = clamp(time.Duration(float64(p.interval)*backoffFactor), p.floor, p.ceiling)
	}
	return p.interval
}

func (p *RetryPolicy) ResetInterval() {
	p.mu.Lock()
	p.interval = p.floor
	p.mu.Unlock()
}

// Reset clears the attempt counter and the interval after a success.
func (p *RetryPolicy) Reset() {
	p.mu.Lock()
	p.retries = 0
	p.interval = p.floor
	p.mu.Unlock()
}

func (p *RetryPolicy) Retries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.retries
}

func (p *RetryPolicy) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

func (p *RetryPolicy) MaxRetry() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxRetry
}

func clamp(d, lo, hi time.Duration) time.Duration {
	if d < lo {
		return lo
	}
	if d > hi {
		return hi
	}
	return d
}
