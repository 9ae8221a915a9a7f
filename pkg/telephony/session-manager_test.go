package telephony

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControl records the commands a session issues.
type fakeControl struct {
	mu           sync.Mutex
	commands     []string
	answerErr    error
	disconnected atomic.Bool
}

func (c *fakeControl) record(cmd string) {
	c.mu.Lock()
	c.commands = append(c.commands, cmd)
	c.mu.Unlock()
}

func (c *fakeControl) SendRinging() error {
	c.record("ringing")
	return nil
}

func (c *fakeControl) Answer() error {
	c.record("answer")
	return c.answerErr
}

func (c *fakeControl) Hangup() error {
	c.record("hangup")
	return nil
}

func (c *fakeControl) RemoteDisconnected() bool {
	return c.disconnected.Load()
}

func (c *fakeControl) commandList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.commands))
	copy(out, c.commands)
	return out
}

// fakeValidator matches a fixed set of callers.
type fakeValidator struct {
	allowed map[string]string
}

func (v *fakeValidator) Match(callerID string) (bool, string) {
	p, ok := v.allowed[callerID]
	return ok, p
}

func (v *fakeValidator) Normalize(raw string) string { return raw }

// fakeActivator counts activations.
type fakeActivator struct {
	count atomic.Int64
}

func (a *fakeActivator) Activate() bool {
	a.count.Add(1)
	return true
}

// fakeSink records sessions handed to it.
type fakeSink struct {
	mu       sync.Mutex
	sessions []*CallSession
}

func (s *fakeSink) RecordCall(_ context.Context, session *CallSession) error {
	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.mu.Unlock()
	return nil
}

func newTestManager(validator Validator, activator Activator, sink Sink) *Manager {
	return NewManager(ManagerConfig{
		AnswerDelay:    10 * time.Millisecond,
		HangupDelay:    10 * time.Millisecond,
		DisconnectPoll: 2 * time.Millisecond,
	}, validator, activator, sink, nil)
}

func TestValidCallFullSequence(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{"441234567890": "4412345*"}}
	activator := &fakeActivator{}
	sink := &fakeSink{}
	manager := newTestManager(validator, activator, sink)

	ctrl := &fakeControl{}
	manager.OnIncomingCall(ctrl, "441234567890")
	manager.Stop()

	assert.Equal(t, []string{"ringing", "answer", "hangup"}, ctrl.commandList())
	assert.Equal(t, int64(1), activator.count.Load())

	history := manager.History()
	require.Len(t, history, 1)
	session := history[0]
	assert.True(t, session.IsValid)
	assert.Equal(t, "4412345*", session.MatchedPattern)
	assert.Equal(t, StateEnded, session.State)
	require.NotNil(t, session.AnsweredAt)
	require.NotNil(t, session.EndedAt)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.sessions, 1)
	assert.Equal(t, session.ID, sink.sessions[0].ID)
}

func TestInvalidCallNoActivation(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{}}
	activator := &fakeActivator{}
	manager := newTestManager(validator, activator, nil)

	ctrl := &fakeControl{}
	manager.OnIncomingCall(ctrl, "447000000000")
	manager.Stop()

	assert.Equal(t, []string{"ringing", "answer", "hangup"}, ctrl.commandList())
	assert.Equal(t, int64(0), activator.count.Load())

	history := manager.History()
	require.Len(t, history, 1)
	assert.False(t, history[0].IsValid)

	stats := manager.GetStats()
	assert.Equal(t, 1, stats.TotalCalls)
	assert.Equal(t, 0, stats.ValidCalls)
	assert.Equal(t, 1, stats.InvalidCalls)
}

func TestEarlyDisconnectSkipsAnswer(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{"441234567890": "*"}}
	activator := &fakeActivator{}
	manager := NewManager(ManagerConfig{
		AnswerDelay:    200 * time.Millisecond,
		HangupDelay:    10 * time.Millisecond,
		DisconnectPoll: 2 * time.Millisecond,
	}, validator, activator, nil, nil)

	ctrl := &fakeControl{}
	ctrl.disconnected.Store(true)
	manager.OnIncomingCall(ctrl, "441234567890")
	manager.Stop()

	// Caller gone before answer: no answer, no hangup, no classification.
	assert.Equal(t, []string{"ringing"}, ctrl.commandList())
	assert.Equal(t, int64(0), activator.count.Load())

	history := manager.History()
	require.Len(t, history, 1)
	session := history[0]
	assert.Equal(t, StateEnded, session.State)
	assert.Nil(t, session.AnsweredAt)
	assert.False(t, session.IsValid)
}

func TestRemoteDisconnectAfterAnswer(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{"441234567890": "*"}}
	activator := &fakeActivator{}
	manager := NewManager(ManagerConfig{
		AnswerDelay:    5 * time.Millisecond,
		HangupDelay:    500 * time.Millisecond,
		DisconnectPoll: 2 * time.Millisecond,
	}, validator, activator, nil, nil)

	ctrl := &fakeControl{}
	manager.OnIncomingCall(ctrl, "441234567890")

	// Let the call get answered, then drop the remote side.
	time.Sleep(50 * time.Millisecond)
	ctrl.disconnected.Store(true)
	manager.Stop()

	// No hangup command once the remote is already gone, but the caller
	// made it through the full answered protocol so it still classifies.
	assert.Equal(t, []string{"ringing", "answer"}, ctrl.commandList())
	assert.Equal(t, int64(1), activator.count.Load())

	history := manager.History()
	require.Len(t, history, 1)
	assert.True(t, history[0].IsValid)
}

func TestAnswerErrorStillRecorded(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{"441234567890": "*"}}
	activator := &fakeActivator{}
	manager := newTestManager(validator, activator, nil)

	ctrl := &fakeControl{answerErr: errors.New("line dead")}
	manager.OnIncomingCall(ctrl, "441234567890")
	manager.Stop()

	assert.Equal(t, []string{"ringing", "answer"}, ctrl.commandList())
	assert.Equal(t, int64(0), activator.count.Load())

	history := manager.History()
	require.Len(t, history, 1)
	assert.Equal(t, StateEnded, history[0].State)
	assert.False(t, history[0].IsValid)
}

func TestConcurrentCallsIndependent(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{"441111111111": "441111*"}}
	activator := &fakeActivator{}
	manager := newTestManager(validator, activator, nil)

	valid := &fakeControl{}
	invalid := &fakeControl{}
	manager.OnIncomingCall(valid, "441111111111")
	manager.OnIncomingCall(invalid, "449999999999")
	manager.Stop()

	assert.Len(t, manager.History(), 2)
	assert.Equal(t, int64(1), activator.count.Load())

	stats := manager.GetStats()
	assert.Equal(t, 2, stats.TotalCalls)
	assert.Equal(t, 1, stats.ValidCalls)
	assert.Equal(t, 1, stats.InvalidCalls)
}

func TestSessionIdentity(t *testing.T) {
	validator := &fakeValidator{allowed: map[string]string{}}
	manager := newTestManager(validator, &fakeActivator{}, nil)

	manager.OnIncomingCall(&fakeControl{}, "441111111111")
	manager.OnIncomingCall(&fakeControl{}, "442222222222")
	manager.Stop()

	history := manager.History()
	require.Len(t, history, 2)
	assert.NotEqual(t, history[0].ID, history[1].ID)
	assert.NotEqual(t, history[0].Seq, history[1].Seq)
}
