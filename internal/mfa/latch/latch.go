// Package latch gates status updates for a single handshake session.
//
// A Latch forwards updates until the first terminal status is accepted or the
// session is cancelled; afterwards every update is dropped, including ones
// that were already in flight when the latch closed. While the session is
// pending it also enforces the monotonic step rule and merges the two
// producers (network polling and simulated UI progress), with network
// updates taking priority.
package latch

import (
	"sync"

	"pushauth/internal/mfa/models"
)

// Source identifies which producer an update came from.
type Source int

const (
	// SourceNetwork updates come from the authority (or the demo strategy).
	SourceNetwork Source = iota
	// SourceSimulated updates come from the UI progress simulator. They may
	// only advance the visible step and can never end the session.
	SourceSimulated
)

func (s Source) String() string {
	if s == SourceSimulated {
		return "simulated"
	}
	return "network"
}

// Update is one candidate emission offered to the latch.
type Update struct {
	Status models.AuthStatus
	Source Source
}

// Network wraps a status produced by the polling loop.
func Network(status models.AuthStatus) Update {
	return Update{Status: status, Source: SourceNetwork}
}

// Simulated wraps a status produced by the progress simulator.
func Simulated(status models.AuthStatus) Update {
	return Update{Status: status, Source: SourceSimulated}
}

// Latch is owned by exactly one session and must never be shared.
type Latch struct {
	mu        sync.Mutex
	cancelled bool
	terminal  bool
	seen      bool
	lastStep  models.Step
	lastMsg   string
}

func New() *Latch {
	return &Latch{}
}

// Accept decides whether u reaches the consumer and returns the status to
// show. A stale pending network update is clamped to the highest step seen so
// far and carries that step's message.
func (l *Latch) Accept(u Update) (models.AuthStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.accept(u)
}

// Deliver accepts u and, if forwarded, calls fn while holding the latch.
// Close blocks until an in-progress delivery returns, so once Close has
// returned fn is never called again. fn must not call back into the latch.
func (l *Latch) Deliver(u Update, fn func(models.AuthStatus)) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, ok := l.accept(u)
	if !ok {
		return false
	}
	if fn != nil {
		fn(status)
	}
	return true
}

func (l *Latch) accept(u Update) (models.AuthStatus, bool) {
	if l.cancelled || l.terminal {
		return models.AuthStatus{}, false
	}
	status := u.Status
	if status.IsTerminal() {
		if u.Source == SourceSimulated {
			return models.AuthStatus{}, false
		}
		l.terminal = true
		return status, true
	}
	if l.seen {
		switch {
		case u.Source == SourceSimulated && status.Step <= l.lastStep:
			return models.AuthStatus{}, false
		case status.Step < l.lastStep:
			status.Step = l.lastStep
			status.Message = l.lastMsg
		}
	}
	l.seen = true
	l.lastStep = status.Step
	l.lastMsg = status.Message
	return status, true
}

// Do runs fn while holding the latch unless it is already closed, so fn is
// ordered against deliveries and never runs after Close has returned. fn
// must not call back into the latch.
func (l *Latch) Do(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancelled || l.terminal {
		return false
	}
	fn()
	return true
}

// Close marks the session cancelled. It reports whether this call closed
// the latch; later calls and calls after a terminal status are no-ops.
func (l *Latch) Close() bool {
	return l.CloseWith(nil)
}

// CloseWith closes the latch and runs fn before releasing it, so fn is the
// last thing ordered by the latch. fn runs even if the latch was already
// closed.
func (l *Latch) CloseWith(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	open := !l.cancelled && !l.terminal
	l.cancelled = true
	if fn != nil {
		fn()
	}
	return open
}

// Closed reports whether further updates will be dropped.
func (l *Latch) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled || l.terminal
}

func (l *Latch) Terminal() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.terminal
}

func (l *Latch) Cancelled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancelled
}

// LastStep is the highest pending step forwarded so far.
func (l *Latch) LastStep() models.Step {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastStep
}
