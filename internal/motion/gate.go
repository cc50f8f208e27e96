// Package motion reads the PIR sensor wired to a GPIO input.
package motion

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mikeyg42/birdwatcher/internal/logging"
)

// Sensor is the motion signal the capture loop polls.
type Sensor interface {
	Poll() bool
}

// Gate reads a PIR sensor on one GPIO input pin. High means motion.
type Gate struct {
	pin    gpio.PinIn
	logger *zap.Logger

	mu    sync.Mutex
	last  gpio.Level
	stats GateStats
}

// GateStats counts what the gate has seen since it was opened.
type GateStats struct {
	Polls        int64
	RisingEdges  int64
	LastMotionAt time.Time
}

// Open initialises the host drivers and configures pinName (e.g.
// "GPIO14") as a pulled-down input.
func Open(pinName string, logger *zap.Logger) (*Gate, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialise gpio host: %w", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("gpio pin %q not found", pinName)
	}
	return NewGate(pin, logger)
}

// NewGate configures an already resolved pin.
func NewGate(pin gpio.PinIn, logger *zap.Logger) (*Gate, error) {
	if err := pin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure %s as input: %w", pin, err)
	}
	g := &Gate{
		pin:    pin,
		logger: logging.Named(logger, "motion"),
		last:   gpio.Low,
	}
	g.logger.Info("motion sensor ready", zap.String("pin", pin.Name()))
	return g, nil
}

// Poll samples the pin without blocking.
func (g *Gate) Poll() bool {
	level := g.pin.Read()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.stats.Polls++
	if level == gpio.High && g.last == gpio.Low {
		g.stats.RisingEdges++
		g.stats.LastMotionAt = time.Now()
		g.logger.Debug("motion rising edge")
	}
	g.last = level
	return level == gpio.High
}

// Stats returns a copy of the counters.
func (g *Gate) Stats() GateStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

// Close releases the pin.
func (g *Gate) Close() error {
	if err := g.pin.Halt(); err != nil {
		return fmt.Errorf("failed to release %s: %w", g.pin.Name(), err)
	}
	return nil
}
