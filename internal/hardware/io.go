package hardware

import (
	"fmt"
	"sync"

	"network-service/internal/logger"

	"github.com/warthog618/go-gpiocdev"
)

// outputLine is the part of *gpiocdev.Line the LED needs.
type outputLine interface {
	SetValue(value int) error
	Close() error
}

// GpioOutput is a single GPIO line requested as output.
type GpioOutput struct {
	name   string
	chip   *gpiocdev.Chip
	line   outputLine
	logger *logger.Logger
	mu     sync.Mutex
	value  bool
}

// OpenGpioOutput requests line on gpiochip<chip> as an output driven low.
func OpenGpioOutput(name string, chip, line int, l *logger.Logger) (*GpioOutput, error) {
	c, err := gpiocdev.NewChip(fmt.Sprintf("gpiochip%d", chip))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip %d: %w", chip, err)
	}

	ln, err := c.RequestLine(line,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(GpioConsumer))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to request GPIO line %d: %w", line, err)
	}

	l.Infof("Configured DO %s: chip=%d, line=%d", name, chip, line)
	return &GpioOutput{name: name, chip: c, line: ln, logger: l}, nil
}

func (o *GpioOutput) Write(value bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	val := 0
	if value {
		val = 1
	}
	if err := o.line.SetValue(val); err != nil {
		return fmt.Errorf("failed to set DO %s=%v: %w", o.name, value, err)
	}
	o.value = value
	o.logger.Debugf("Set DO %s=%v", o.name, value)
	return nil
}

func (o *GpioOutput) Value() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.value
}

func (o *GpioOutput) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.line != nil {
		o.line.Close()
		o.logger.Debugf("Closed GPIO line for %s", o.name)
	}
	if o.chip != nil {
		o.chip.Close()
	}
}
