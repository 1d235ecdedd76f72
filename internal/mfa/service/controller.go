package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pushauth/internal/mfa/engine"
	"pushauth/internal/mfa/latch"
	"pushauth/internal/mfa/models"
)

// Handshake is the subset of engine.Client a controller drives.
type Handshake interface {
	StartAuthentication(ctx context.Context, mobile string, demoMode bool) (string, error)
	PollStatus(requestID, mobile string, onUpdate engine.UpdateFunc, demoMode bool) engine.CancelFunc
}

// Callbacks are invoked from the controller's delivery path. OnUpdate and
// OnStateChange run while the session latch is held, so they must not call
// Cancel or Start synchronously.
type Callbacks struct {
	OnUpdate      func(models.AuthStatus)
	OnStateChange func(models.SessionState)
	// OnSuccess fires once, SuccessDisplayDelay after the success status.
	OnSuccess func(models.AuthStatus)
}

type ControllerConfig struct {
	SuccessDisplayDelay       time.Duration
	SimulatedProgressInterval time.Duration
}

// Controller orchestrates a single authentication attempt:
// idle -> initiating -> polling -> success|error, with cancelled reachable
// from any non-final state. A controller is single use.
type Controller struct {
	handshake Handshake
	cfg       ControllerConfig
	callbacks Callbacks
	logger    *slog.Logger
	latch     *latch.Latch

	mu        sync.Mutex
	state     models.SessionState
	requestID string
	last      models.AuthStatus
	stopPoll  engine.CancelFunc
	stopSim   context.CancelFunc
	abortInit context.CancelFunc
	notified  bool
}

var ErrAlreadyStarted = errors.New("controller already started")

func NewController(handshake Handshake, cfg ControllerConfig, callbacks Callbacks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		handshake: handshake,
		cfg:       cfg,
		callbacks: callbacks,
		logger:    logger,
		latch:     latch.New(),
		state:     models.SessionIdle,
	}
}

// Start initiates the request and, on success, starts polling. It blocks
// only for the initiation call. An initiation failure is delivered as a
// step-0 error status and also returned. Start on a controller that was
// cancelled first returns context.Canceled.
func (c *Controller) Start(ctx context.Context, mobile string, demoMode bool) error {
	initCtx, abortInit := context.WithCancel(ctx)
	defer abortInit()
	simCtx, stopSim := context.WithCancel(context.Background())

	began := false
	c.latch.Do(func() {
		c.mu.Lock()
		if c.state != models.SessionIdle {
			c.mu.Unlock()
			return
		}
		c.state = models.SessionInitiating
		c.abortInit = abortInit
		c.stopSim = stopSim
		c.mu.Unlock()
		began = true
		c.notifyState(models.SessionInitiating)
	})
	if !began {
		stopSim()
		if c.State() == models.SessionCancelled {
			return context.Canceled
		}
		return ErrAlreadyStarted
	}

	if c.cfg.SimulatedProgressInterval > 0 {
		sim := engine.NewProgressSimulator(c.cfg.SimulatedProgressInterval)
		go sim.Run(simCtx, "", func(status models.AuthStatus) {
			c.offer(latch.Simulated(status))
		})
	}

	requestID, err := c.handshake.StartAuthentication(initCtx, mobile, demoMode)
	if err != nil {
		stopSim()
		if c.latch.Cancelled() {
			return context.Canceled
		}
		message := models.MessageGatewayUnreachable
		if errors.Is(err, models.ErrInvalidMobile) {
			message = err.Error()
		}
		c.offer(latch.Network(models.Failure(message, "")))
		return err
	}

	polling := false
	c.latch.Do(func() {
		c.mu.Lock()
		if c.state != models.SessionInitiating {
			c.mu.Unlock()
			return
		}
		c.requestID = requestID
		c.state = models.SessionPolling
		c.abortInit = nil
		c.mu.Unlock()
		polling = true
		c.notifyState(models.SessionPolling)
	})
	if !polling {
		return context.Canceled
	}

	stopPoll := c.handshake.PollStatus(requestID, mobile, func(status models.AuthStatus) {
		c.offer(latch.Network(status))
	}, demoMode)

	c.mu.Lock()
	if c.state == models.SessionCancelled {
		c.mu.Unlock()
		stopPoll()
		return context.Canceled
	}
	c.stopPoll = stopPoll
	c.mu.Unlock()
	return nil
}

// offer is the merge point of both producers.
func (c *Controller) offer(u latch.Update) {
	c.latch.Deliver(u, c.apply)
}

// apply runs with the latch held, so calls are serialized and never happen
// after Cancel has closed the latch.
func (c *Controller) apply(status models.AuthStatus) {
	c.mu.Lock()
	if status.RequestID == "" {
		status.RequestID = c.requestID
	}
	c.last = status

	var next models.SessionState
	switch status.Status {
	case models.StatusSuccess:
		next = models.SessionSucceeded
	case models.StatusError:
		next = models.SessionFailed
	}
	changed := next != "" && c.state.CanTransitionTo(next)
	if changed {
		c.state = next
	}
	stopSim := c.stopSim
	if next == models.SessionSucceeded && changed {
		time.AfterFunc(c.cfg.SuccessDisplayDelay, c.fireSuccess)
	}
	c.mu.Unlock()

	if status.IsTerminal() && stopSim != nil {
		stopSim()
	}
	if c.callbacks.OnUpdate != nil {
		c.callbacks.OnUpdate(status)
	}
	if changed {
		c.notifyState(next)
	}
}

func (c *Controller) fireSuccess() {
	c.mu.Lock()
	if c.state != models.SessionSucceeded || c.notified {
		c.mu.Unlock()
		return
	}
	c.notified = true
	last := c.last
	c.mu.Unlock()

	if c.callbacks.OnSuccess != nil {
		c.callbacks.OnSuccess(last)
	}
}

// Cancel tears the session down. The cancelled state is recorded and
// announced while the latch is held, so it is ordered after every earlier
// state change and once Cancel returns no callback is running or will run.
// It reports whether the session was live; cancelling a finished session is
// a no-op.
func (c *Controller) Cancel() bool {
	live := false
	var stopPoll engine.CancelFunc
	var stopSim, abortInit context.CancelFunc
	c.latch.CloseWith(func() {
		c.mu.Lock()
		if c.state.IsFinal() {
			c.mu.Unlock()
			return
		}
		c.state = models.SessionCancelled
		stopPoll, stopSim, abortInit = c.stopPoll, c.stopSim, c.abortInit
		c.mu.Unlock()
		live = true
		c.notifyState(models.SessionCancelled)
	})
	if !live {
		return false
	}

	if stopPoll != nil {
		stopPoll()
	}
	if stopSim != nil {
		stopSim()
	}
	if abortInit != nil {
		abortInit()
	}
	return true
}

func (c *Controller) notifyState(state models.SessionState) {
	c.logger.Debug("mfa session state changed", "state", state, "request_id", c.RequestID())
	if c.callbacks.OnStateChange != nil {
		c.callbacks.OnStateChange(state)
	}
}

func (c *Controller) State() models.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Last() models.AuthStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Controller) RequestID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestID
}
