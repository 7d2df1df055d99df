package core

import (
	"testing"
	"time"
)

func TestRetryPolicyAttempt(t *testing.T) {
	p := NewRetryPolicy(2, 15*time.Second, 600*time.Second)

	if !p.Attempt() || !p.Attempt() {
		t.Fatalf("Expected two attempts to be allowed")
	}
	if p.Retries() != 2 {
		t.Errorf("Expected 2 retries, got %d", p.Retries())
	}
	if p.Attempt() {
		t.Errorf("Expected third attempt to be refused")
	}
	if p.Retries() != 0 {
		t.Errorf("Expected counter reset after refusal, got %d", p.Retries())
	}
	if !p.Attempt() {
		t.Errorf("Expected a new cycle to start")
	}
}

func TestRetryPolicyZeroRetries(t *testing.T) {
	p := NewRetryPolicy(0, time.Second, time.Minute)
	if p.Attempt() {
		t.Errorf("Expected no immediate retries")
	}
}

func TestRetryPolicyGrow(t *testing.T) {
	p := NewRetryPolicy(2, 16*time.Second, 40*time.Second)

	want := []time.Duration{20 * time.Second, 25 * time.Second, 31250 * time.Millisecond, 39062500 * time.Microsecond, 40 * time.Second, 40 * time.Second}
	for i, w := range want {
		if got := p.Grow(); got != w {
			t.Errorf("Grow #%d = %v, want %v", i+1, got, w)
		}
	}

	p.Reset()
	if p.Interval() != 16*time.Second {
		t.Errorf("Expected interval reset to floor, got %v", p.Interval())
	}
}

func TestRetryPolicyConfigure(t *testing.T) {
	p := NewRetryPolicy(2, 10*time.Second, 100*time.Second)
	for i := 0; i < 20; i++ {
		p.Grow()
	}

	p.Configure(5, 10*time.Second, 30*time.Second)
	if p.Interval() != 30*time.Second {
		t.Errorf("Expected interval clamped to new ceiling, got %v", p.Interval())
	}
	if p.MaxRetry() != 5 {
		t.Errorf("Expected max retry 5, got %d", p.MaxRetry())
	}

	// ceiling below floor collapses to the floor
	p.Configure(1, 20*time.Second, 5*time.Second)
	if p.Grow() != 20*time.Second {
		t.Errorf("Expected interval pinned at 20s, got %v", p.Interval())
	}
}
