package models

import "time"

// SessionState is the controller's position in the handshake state machine.
type SessionState string

const (
	SessionIdle       SessionState = "idle"
	SessionInitiating SessionState = "initiating"
	SessionPolling    SessionState = "polling"
	SessionSucceeded  SessionState = "success"
	SessionFailed     SessionState = "error"
	SessionCancelled  SessionState = "cancelled"
)

// IsFinal reports whether the state is absorbing.
func (s SessionState) IsFinal() bool {
	return s == SessionSucceeded || s == SessionFailed || s == SessionCancelled
}

// CanTransitionTo encodes idle -> initiating -> polling -> {success|error},
// with cancelled reachable from any non-final state.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	if s.IsFinal() {
		return false
	}
	switch next {
	case SessionCancelled:
		return true
	case SessionInitiating:
		return s == SessionIdle
	case SessionPolling:
		return s == SessionInitiating
	case SessionSucceeded:
		return s == SessionPolling
	case SessionFailed:
		return s == SessionInitiating || s == SessionPolling
	}
	return false
}

// SessionSnapshot is the latest externally visible view of one handshake.
type SessionSnapshot struct {
	ID           string       `json:"id"`
	MaskedMobile string       `json:"mobile"`
	DemoMode     bool         `json:"demo_mode"`
	State        SessionState `json:"state"`
	Status       AuthStatus   `json:"status"`
	SessionToken string       `json:"session_token,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// StartSessionRequest is the body of POST /mfa/sessions.
type StartSessionRequest struct {
	Mobile   string `json:"mobile"`
	DemoMode *bool  `json:"demo_mode,omitempty"`
}
