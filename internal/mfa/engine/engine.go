// Package engine implements the push-MFA handshake: starting a biometric
// verification request and polling the authority until it settles.
//
// Live and demo behaviour are two Strategy implementations selected once per
// call, so the timeout, backoff and reconciliation policy of the live path
// stay free of demo branches.
package engine

import (
	"context"
	"errors"
	"sync"

	"pushauth/internal/mfa/latch"
	"pushauth/internal/mfa/models"
)

var (
	// ErrGatewayUnreachable is the only error a live Start surfaces for
	// transport or authority failures; the underlying cause is logged.
	ErrGatewayUnreachable = errors.New(models.MessageGatewayUnreachable)

	ErrInvalidMobile = models.ErrInvalidMobile
)

// CancelFunc stops a polling loop. It is idempotent and safe to call after
// the loop terminated on its own. Once it returns no further update is
// delivered, including the result of a poll that was already in flight.
type CancelFunc func()

// UpdateFunc receives every status that passed the loop's latch. It is
// called from the loop goroutine and must not call the loop's CancelFunc.
type UpdateFunc func(models.AuthStatus)

// Strategy is one way of running the handshake.
type Strategy interface {
	Start(ctx context.Context, mobile string) (string, error)
	Poll(requestID, mobile string, onUpdate UpdateFunc) CancelFunc
}

// Client is the consumer-facing entry point.
type Client struct {
	live Strategy
	demo Strategy
}

// NewClient wires both strategies. A nil live strategy makes every live call
// fail with ErrGatewayUnreachable.
func NewClient(live, demo Strategy) *Client {
	if live == nil {
		live = unavailable{}
	}
	if demo == nil {
		demo = NewDemoStrategy(DefaultOptions())
	}
	return &Client{live: live, demo: demo}
}

// Strategy returns the implementation for the requested mode.
func (c *Client) Strategy(demoMode bool) Strategy {
	if demoMode {
		return c.demo
	}
	return c.live
}

// StartAuthentication sends a biometric push to mobile and returns the
// request id that correlates every later status.
func (c *Client) StartAuthentication(ctx context.Context, mobile string, demoMode bool) (string, error) {
	return c.Strategy(demoMode).Start(ctx, mobile)
}

// PollStatus watches requestID until it succeeds, fails, times out or the
// returned CancelFunc is called.
func (c *Client) PollStatus(requestID, mobile string, onUpdate UpdateFunc, demoMode bool) CancelFunc {
	return c.Strategy(demoMode).Poll(requestID, mobile, onUpdate)
}

func newCancelFunc(cancel context.CancelFunc, l *latch.Latch) CancelFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.Close()
			cancel()
		})
	}
}

type unavailable struct{}

func (unavailable) Start(context.Context, string) (string, error) {
	return "", ErrGatewayUnreachable
}

func (unavailable) Poll(requestID, _ string, onUpdate UpdateFunc) CancelFunc {
	l := latch.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if ctx.Err() == nil {
			l.Deliver(latch.Network(models.Failure(models.MessageGatewayUnreachable, requestID)), onUpdate)
		}
	}()
	return newCancelFunc(cancel, l)
}
