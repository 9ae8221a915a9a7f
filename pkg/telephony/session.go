package telephony

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ============================================
// CALL SESSIONS
// ============================================

// CallState represents the lifecycle state of a call session. States
// only advance forward; a terminal state is never revisited.
type CallState string

const (
	StateRinging  CallState = "ringing"
	StateAnswered CallState = "answered"
	StateEnded    CallState = "ended"
)

// CallControl is the command surface of one telephony call, supplied by
// the external call engine. Command failures are recovered locally; a
// session is always driven to its terminal state.
type CallControl interface {
	SendRinging() error
	Answer() error
	Hangup() error

	// RemoteDisconnected reports whether the remote party has hung up.
	// Observable at any time.
	RemoteDisconnected() bool
}

// Validator classifies caller IDs against the authorized pattern set.
type Validator interface {
	Match(callerID string) (matched bool, pattern string)
	Normalize(raw string) string
}

// Activator triggers the physical actuator. Activate reports whether
// the activation was accepted.
type Activator interface {
	Activate() bool
}

// Sink receives finished call sessions for durable recording. Optional;
// write failures are logged, never fatal.
type Sink interface {
	RecordCall(ctx context.Context, session *CallSession) error
}

// CallSession tracks one incoming call from ring to end. It is owned
// exclusively by the session goroutine until it reaches StateEnded, after
// which it is appended to the history and never mutated again.
type CallSession struct {
	ID         uuid.UUID `json:"id"`
	Seq        uint64    `json:"seq"`
	CallerID   string    `json:"caller_id"`
	Normalized string    `json:"normalized"`

	State      CallState  `json:"state"`
	StartedAt  time.Time  `json:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	IsValid        bool   `json:"is_valid"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
}
