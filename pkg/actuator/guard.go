package actuator

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================
// ACTUATOR GUARD
// Single-flight activation with a fixed hold time
// ============================================

// Guard wraps a Device and enforces at most one activation in flight.
// An accepted activation turns the output on, holds it for the
// configured duration, then turns it off; it always runs its full
// duration and cannot be cancelled early. Concurrent activation requests
// beyond the first are rejected, not queued, so rapid repeated valid
// calls neither re-trigger nor extend the hold.
type Guard struct {
	device       Device
	holdDuration time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	active bool
	count  int
	closed bool
}

// NewGuard creates a guard over the given device.
func NewGuard(device Device, holdDuration time.Duration, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		device:       device,
		holdDuration: holdDuration,
		logger:       logger,
	}
}

// Activate begins one activation. Returns false immediately, with no
// side effects, when an activation is already in progress or the guard
// has been cleaned up.
func (g *Guard) Activate() bool {
	g.mu.Lock()
	if g.active || g.closed {
		g.mu.Unlock()
		g.logger.Debug("activation rejected, already active")
		return false
	}
	g.active = true
	g.count++
	n := g.count
	g.mu.Unlock()

	go g.run(n)
	return true
}

// run drives one full activation cycle. The active flag is cleared and
// the output turned off on every exit path.
func (g *Guard) run(n int) {
	defer func() {
		if err := g.device.TurnOff(); err != nil {
			g.logger.Error("failed to turn output off", zap.Int("activation", n), zap.Error(err))
		}
		g.mu.Lock()
		g.active = false
		g.mu.Unlock()
		g.logger.Info("actuator deactivated", zap.Int("activation", n))
	}()

	g.logger.Info("actuator activated",
		zap.Int("activation", n),
		zap.Duration("hold", g.holdDuration))

	if err := g.device.TurnOn(); err != nil {
		g.logger.Error("failed to turn output on", zap.Int("activation", n), zap.Error(err))
	}

	time.Sleep(g.holdDuration)
}

// IsActive reports whether an activation is currently in progress.
func (g *Guard) IsActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

// ActivationCount returns the total number of accepted activations.
func (g *Guard) ActivationCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Cleanup forces the output off and releases the device. Idempotent and
// safe to call even if the guard was never activated. Further Activate
// calls are rejected.
func (g *Guard) Cleanup() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	g.mu.Unlock()

	if err := g.device.TurnOff(); err != nil {
		g.logger.Error("failed to turn output off during cleanup", zap.Error(err))
	}
	if err := g.device.Close(); err != nil {
		g.logger.Error("failed to release device", zap.Error(err))
	}
	g.logger.Info("actuator cleaned up")
}
