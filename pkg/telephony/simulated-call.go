package telephony

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// SimulatedCall is a CallControl with no real line behind it. It is used
// by the --simulate-call flag and in tests to drive the session protocol
// without a gateway connection.
type SimulatedCall struct {
	logger       *zap.Logger
	disconnected atomic.Bool
}

// NewSimulatedCall creates a simulated call leg.
func NewSimulatedCall(logger *zap.Logger) *SimulatedCall {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedCall{logger: logger}
}

func (c *SimulatedCall) SendRinging() error {
	c.logger.Info("[Simulated] ringing")
	return nil
}

func (c *SimulatedCall) Answer() error {
	c.logger.Info("[Simulated] answered")
	return nil
}

func (c *SimulatedCall) Hangup() error {
	c.logger.Info("[Simulated] hung up")
	c.disconnected.Store(true)
	return nil
}

// Disconnect marks the remote side as gone, as if the caller hung up.
func (c *SimulatedCall) Disconnect() {
	c.disconnected.Store(true)
}

func (c *SimulatedCall) RemoteDisconnected() bool {
	return c.disconnected.Load()
}
