package telephony

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================
// CALL SESSION MANAGER
// Timed ring/answer/hold/hangup protocol per call
// ============================================

// ManagerConfig holds the per-call timing settings.
type ManagerConfig struct {
	// AnswerDelay is how long to let the call ring before answering.
	AnswerDelay time.Duration
	// HangupDelay is how long to hold the answered call before hanging up.
	HangupDelay time.Duration
	// DisconnectPoll is how often the remote-disconnect flag is checked
	// during a wait. Defaults to 100ms.
	DisconnectPoll time.Duration
}

// Stats is a consistent snapshot of the call counters.
type Stats struct {
	TotalCalls   int `json:"total_calls"`
	ValidCalls   int `json:"valid_calls"`
	InvalidCalls int `json:"invalid_calls"`
}

// Manager runs the timed accept/hold/reject sequence for each incoming
// call on its own goroutine, classifies the caller against the pattern
// set once the call has ended, and triggers the actuator on a match.
// Sessions are independent; an error in one never aborts another.
type Manager struct {
	cfg       ManagerConfig
	validator Validator
	activator Activator
	sink      Sink // optional
	logger    *zap.Logger

	seq atomic.Uint64

	mu         sync.Mutex
	totalCalls int
	validCalls int
	history    []*CallSession

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager. sink may be nil.
func NewManager(cfg ManagerConfig, validator Validator, activator Activator, sink Sink, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DisconnectPoll <= 0 {
		cfg.DisconnectPoll = 100 * time.Millisecond
	}
	return &Manager{
		cfg:       cfg,
		validator: validator,
		activator: activator,
		sink:      sink,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// OnIncomingCall begins handling one call attempt. It allocates a fresh
// session and returns immediately; the timed protocol runs on its own
// goroutine so concurrent calls progress in parallel.
func (m *Manager) OnIncomingCall(ctrl CallControl, callerID string) {
	seq := m.seq.Add(1)

	m.mu.Lock()
	m.totalCalls++
	m.mu.Unlock()

	session := &CallSession{
		ID:         uuid.New(),
		Seq:        seq,
		CallerID:   callerID,
		Normalized: m.validator.Normalize(callerID),
		State:      StateRinging,
		StartedAt:  time.Now(),
	}

	m.logger.Info("incoming call",
		zap.Uint64("seq", seq),
		zap.String("caller", callerID))

	m.wg.Add(1)
	go m.runSession(session, ctrl)
}

// runSession drives one call through the timed protocol. Every exit path
// ends the session and records it; command errors are logged and never
// propagate.
func (m *Manager) runSession(session *CallSession, ctrl CallControl) {
	defer m.wg.Done()

	log := m.logger.With(
		zap.Uint64("seq", session.Seq),
		zap.String("caller", session.CallerID))

	if err := ctrl.SendRinging(); err != nil {
		log.Warn("ringing indication failed", zap.Error(err))
	}

	if m.waitOrDisconnect(m.cfg.AnswerDelay, ctrl) {
		log.Info("caller hung up before answer")
		m.finish(session, log)
		return
	}

	if err := ctrl.Answer(); err != nil {
		log.Error("answer failed", zap.Error(err))
		m.finish(session, log)
		return
	}
	now := time.Now()
	session.State = StateAnswered
	session.AnsweredAt = &now
	log.Info("call answered")

	m.waitOrDisconnect(m.cfg.HangupDelay, ctrl)

	if ctrl.RemoteDisconnected() {
		log.Info("call ended by remote")
	} else if err := ctrl.Hangup(); err != nil {
		log.Error("hangup failed", zap.Error(err))
	}

	m.classify(session, log)
	m.finish(session, log)
}

// classify evaluates the caller against the pattern set and triggers the
// actuator exactly once on a match.
func (m *Manager) classify(session *CallSession, log *zap.Logger) {
	matched, pattern := m.validator.Match(session.CallerID)
	session.IsValid = matched
	session.MatchedPattern = pattern

	if !matched {
		log.Info("invalid caller, no action")
		return
	}

	m.mu.Lock()
	m.validCalls++
	m.mu.Unlock()

	log.Info("valid caller", zap.String("pattern", pattern))
	if !m.activator.Activate() {
		log.Info("activation already in progress, request skipped")
	}
}

// finish moves the session to its terminal state and appends it to the
// history.
func (m *Manager) finish(session *CallSession, log *zap.Logger) {
	now := time.Now()
	session.State = StateEnded
	session.EndedAt = &now

	m.mu.Lock()
	m.history = append(m.history, session)
	m.mu.Unlock()

	if m.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.sink.RecordCall(ctx, session); err != nil {
			log.Warn("call log write failed", zap.Error(err))
		}
	}

	log.Info("call ended", zap.Bool("valid", session.IsValid))
}

// waitOrDisconnect waits up to d, returning early with true if the remote
// party disconnects. A manager stop also cuts the wait short so shutdown
// proceeds to the session's next command rather than waiting out the
// timer.
func (m *Manager) waitOrDisconnect(d time.Duration, ctrl CallControl) bool {
	if ctrl.RemoteDisconnected() {
		return true
	}
	if d <= 0 {
		return false
	}

	deadline := time.NewTimer(d)
	defer deadline.Stop()
	poll := time.NewTicker(m.cfg.DisconnectPoll)
	defer poll.Stop()

	for {
		select {
		case <-deadline.C:
			return ctrl.RemoteDisconnected()
		case <-m.stopCh:
			return ctrl.RemoteDisconnected()
		case <-poll.C:
			if ctrl.RemoteDisconnected() {
				return true
			}
		}
	}
}

// GetStats returns a consistent snapshot of the call counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Stats{
		TotalCalls:   m.totalCalls,
		ValidCalls:   m.validCalls,
		InvalidCalls: m.totalCalls - m.validCalls,
	}
}

// History returns a copy of the finished-session list, oldest first.
func (m *Manager) History() []*CallSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*CallSession, len(m.history))
	copy(out, m.history)
	return out
}

// Stop cuts the waits of in-flight sessions short and blocks until every
// session has finished its remaining steps and been recorded.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}
