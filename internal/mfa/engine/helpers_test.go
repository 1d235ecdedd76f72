package engine

import (
	"context"
	"sync"
	"time"

	"pushauth/internal/mfa/authority"
	"pushauth/internal/mfa/models"
)

// scriptedAuthority replays validate answers in order, repeating the last
// one once the script is exhausted.
type scriptedAuthority struct {
	mu      sync.Mutex
	script  []scriptStep
	calls   int
	started chan struct{}
}

type scriptStep struct {
	resp *authority.ValidateResponse
	err  error
	// hold delays the answer until closed, ignoring cancellation, the way an
	// already-issued network request keeps running.
	hold <-chan struct{}
}

func newScriptedAuthority(steps ...scriptStep) *scriptedAuthority {
	return &scriptedAuthority{script: steps, started: make(chan struct{}, 64)}
}

func (a *scriptedAuthority) Start(context.Context, string) (string, error) {
	return "req-live", nil
}

func (a *scriptedAuthority) Validate(_ context.Context, _, _ string) (*authority.ValidateResponse, error) {
	a.mu.Lock()
	idx := min(a.calls, len(a.script)-1)
	a.calls++
	step := a.script[idx]
	a.mu.Unlock()

	select {
	case a.started <- struct{}{}:
	default:
	}
	if step.hold != nil {
		<-step.hold
	}
	return step.resp, step.err
}

func (a *scriptedAuthority) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func respond(statusCode int, outcome authority.Outcome, message string) scriptStep {
	return scriptStep{resp: &authority.ValidateResponse{StatusCode: statusCode, Outcome: outcome, Message: message}}
}

func fail(err error) scriptStep {
	return scriptStep{err: err}
}

type updateRecorder struct {
	mu      sync.Mutex
	updates []models.AuthStatus
}

func (r *updateRecorder) OnUpdate(status models.AuthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, status)
}

func (r *updateRecorder) Updates() []models.AuthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuthStatus(nil), r.updates...)
}

func (r *updateRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func (r *updateRecorder) Terminal() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, u := range r.updates {
		if u.IsTerminal() {
			n++
		}
	}
	return n
}

func fastOptions() Options {
	return Options{
		InitialDelay:     5 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		RetryBackoff:     10 * time.Millisecond,
		Timeout:          2 * time.Second,
		DemoStepInterval: 5 * time.Millisecond,
		CountryCode:      "+1",
		Policy:           DefaultPolicy(),
	}
}

const (
	testMobile   = "5551234567"
	waitFor      = time.Second
	pollEvery    = 2 * time.Millisecond
	settleWindow = 60 * time.Millisecond
)
