package hardware

import (
	"fmt"
	"sync"
	"time"

	"network-service/internal/logger"
)

// Pattern is what the status LED shows.
type Pattern int

const (
	PatternOff Pattern = iota
	PatternOn
	PatternBlinkSlow
	PatternBlinkFast
)

func (p Pattern) String() string {
	switch p {
	case PatternOff:
		return "off"
	case PatternOn:
		return "on"
	case PatternBlinkSlow:
		return "blink-slow"
	case PatternBlinkFast:
		return "blink-fast"
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

type output interface {
	Write(value bool) error
}

// StatusLED shows the connectivity class on a single GPIO LED. Blinking
// runs in its own goroutine so SetPattern never blocks the caller.
type StatusLED struct {
	out    output
	logger *logger.Logger

	mu       sync.Mutex
	pattern  Pattern
	stopChan chan struct{}
	done     chan struct{}
}

func NewStatusLED(out output, l *logger.Logger) *StatusLED {
	if l == nil {
		l = logger.Discard()
	}
	return &StatusLED{out: out, logger: l}
}

func (s *StatusLED) SetPattern(p Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p == s.pattern {
		return
	}
	s.stopBlinker()
	s.pattern = p
	s.logger.Debugf("LED pattern %s", p)

	switch p {
	case PatternOff, PatternOn:
		if err := s.out.Write(p == PatternOn); err != nil {
			s.logger.Warnf("Failed to set LED: %v", err)
		}
	case PatternBlinkSlow:
		s.startBlinker(BlinkSlowPeriod)
	case PatternBlinkFast:
		s.startBlinker(BlinkFastPeriod)
	}
}

func (s *StatusLED) Pattern() Pattern {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pattern
}

// Close stops blinking and switches the LED off.
func (s *StatusLED) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopBlinker()
	s.pattern = PatternOff
	if err := s.out.Write(false); err != nil {
		s.logger.Warnf("Failed to switch LED off: %v", err)
	}
}

func (s *StatusLED) startBlinker(period time.Duration) {
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	go s.runBlinker(period/2, s.stopChan, s.done)
}

// stopBlinker must be called with mu held.
func (s *StatusLED) stopBlinker() {
	if s.stopChan == nil {
		return
	}
	close(s.stopChan)
	<-s.done
	s.stopChan = nil
	s.done = nil
}

func (s *StatusLED) runBlinker(half time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	on := true
	if err := s.out.Write(on); err != nil {
		s.logger.Warnf("Failed to set LED: %v", err)
	}
	ticker := time.NewTicker(half)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			on = !on
			if err := s.out.Write(on); err != nil {
				s.logger.Warnf("Failed to set LED: %v", err)
			}
		}
	}
}
