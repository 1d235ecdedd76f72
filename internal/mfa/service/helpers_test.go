package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"pushauth/internal/mfa/engine"
	"pushauth/internal/mfa/models"
)

// fakeHandshake hands every poll callback back to the test so updates can be
// pushed deterministically.
type fakeHandshake struct {
	mu        sync.Mutex
	startErr  error
	hold      chan struct{}
	next      int
	callbacks map[string]engine.UpdateFunc
	stopped   map[string]int
}

func newFakeHandshake() *fakeHandshake {
	return &fakeHandshake{
		callbacks: make(map[string]engine.UpdateFunc),
		stopped:   make(map[string]int),
	}
}

func (h *fakeHandshake) StartAuthentication(ctx context.Context, mobile string, _ bool) (string, error) {
	if _, err := models.NormalizeMobile(mobile, ""); err != nil {
		return "", err
	}
	h.mu.Lock()
	hold, startErr := h.hold, h.startErr
	h.next++
	requestID := fmt.Sprintf("req-%d", h.next)
	h.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if startErr != nil {
		return "", startErr
	}
	return requestID, nil
}

func (h *fakeHandshake) PollStatus(requestID, _ string, onUpdate engine.UpdateFunc, _ bool) engine.CancelFunc {
	h.mu.Lock()
	h.callbacks[requestID] = onUpdate
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.stopped[requestID]++
	}
}

// push delivers status to the poll callback registered for requestID.
func (h *fakeHandshake) push(requestID string, status models.AuthStatus) {
	h.mu.Lock()
	cb := h.callbacks[requestID]
	h.mu.Unlock()
	if cb != nil {
		status.RequestID = requestID
		cb(status)
	}
}

func (h *fakeHandshake) polling(requestID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.callbacks[requestID]
	return ok
}

func (h *fakeHandshake) stopCount(requestID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped[requestID]
}

type recorder struct {
	mu       sync.Mutex
	updates  []models.AuthStatus
	states   []models.SessionState
	successN int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnUpdate: func(s models.AuthStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.updates = append(r.updates, s)
		},
		OnStateChange: func(s models.SessionState) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.states = append(r.states, s)
		},
		OnSuccess: func(models.AuthStatus) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.successN++
		},
	}
}

func (r *recorder) Updates() []models.AuthStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AuthStatus(nil), r.updates...)
}

func (r *recorder) States() []models.SessionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.SessionState(nil), r.states...)
}

func (r *recorder) Successes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successN
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const (
	testMobile   = "5551234567"
	otherMobile  = "5559876543"
	waitFor      = time.Second
	pollEvery    = 2 * time.Millisecond
	displayDelay = 10 * time.Millisecond
)
