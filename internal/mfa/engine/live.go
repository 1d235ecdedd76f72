package engine

import (
	"context"
	"log/slog"
	"time"

	"pushauth/internal/mfa/authority"
	"pushauth/internal/mfa/latch"
	"pushauth/internal/mfa/metrics"
	"pushauth/internal/mfa/models"
)

// LiveStrategy runs the handshake against the remote authority.
type LiveStrategy struct {
	authority authority.Authority
	opts      Options
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type LiveOption func(*LiveStrategy)

func WithLogger(logger *slog.Logger) LiveOption {
	return func(s *LiveStrategy) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) LiveOption {
	return func(s *LiveStrategy) {
		s.metrics = m
	}
}

func NewLiveStrategy(auth authority.Authority, opts Options, liveOpts ...LiveOption) *LiveStrategy {
	s := &LiveStrategy{
		authority: auth,
		opts:      opts.withDefaults(),
		logger:    slog.Default(),
	}
	for _, opt := range liveOpts {
		opt(s)
	}
	return s
}

// Start normalizes mobile and issues one start-auth call. Failures are
// logged with their cause and collapsed into ErrGatewayUnreachable.
func (s *LiveStrategy) Start(ctx context.Context, mobile string) (string, error) {
	normalized, err := models.NormalizeMobile(mobile, s.opts.CountryCode)
	if err != nil {
		return "", err
	}

	start := time.Now()
	requestID, err := s.authority.Start(ctx, normalized)
	s.metrics.ObserveInitiation(time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "authority start-auth failed",
			"mobile", models.MaskMobile(normalized),
			"category", authority.CategoryOf(err),
			"error", err,
		)
		return "", ErrGatewayUnreachable
	}
	return requestID, nil
}

// Poll starts the polling loop in its own goroutine and returns at once.
func (s *LiveStrategy) Poll(requestID, mobile string, onUpdate UpdateFunc) CancelFunc {
	l := latch.New()
	ctx, cancel := context.WithCancel(context.Background())
	go s.run(ctx, l, requestID, mobile, onUpdate)
	return newCancelFunc(cancel, l)
}

type pollResult struct {
	resp     *authority.ValidateResponse
	err      error
	duration time.Duration
}

func (s *LiveStrategy) run(ctx context.Context, l *latch.Latch, requestID, mobile string, onUpdate UpdateFunc) {
	normalized, err := models.NormalizeMobile(mobile, s.opts.CountryCode)
	if err != nil {
		l.Deliver(latch.Network(models.Failure(err.Error(), requestID)), onUpdate)
		return
	}

	deadline := time.NewTimer(s.opts.Timeout)
	defer deadline.Stop()
	next := time.NewTimer(s.opts.InitialDelay)
	defer next.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.expire(ctx, l, requestID, onUpdate)
			return
		case <-next.C:
		}

		results := make(chan pollResult, 1)
		go func() {
			start := time.Now()
			resp, err := s.authority.Validate(ctx, normalized, requestID)
			results <- pollResult{resp: resp, err: err, duration: time.Since(start)}
		}()

		var res pollResult
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.expire(ctx, l, requestID, onUpdate)
			return
		case res = <-results:
		}
		s.metrics.ObserveValidate(res.duration)

		if res.err != nil {
			if ctx.Err() != nil {
				return
			}
			if !authority.IsRetryable(res.err) {
				s.logger.WarnContext(ctx, "validate failed permanently",
					"request_id", requestID,
					"category", authority.CategoryOf(res.err),
					"error", res.err,
				)
				l.Deliver(latch.Network(models.Failure(models.MessageGatewayUnreachable, requestID)), onUpdate)
				return
			}
			s.metrics.IncPollTransient()
			s.logger.DebugContext(ctx, "validate failed, retrying",
				"request_id", requestID,
				"category", authority.CategoryOf(res.err),
				"retry_in", s.opts.RetryBackoff,
				"error", res.err,
			)
			next.Reset(s.opts.RetryBackoff)
			continue
		}

		if s.opts.Policy.IsAmbiguous(res.resp.StatusCode) {
			s.metrics.IncPollAmbiguous()
		}
		status, done := s.opts.Policy.Reconcile(res.resp, requestID)
		if !l.Deliver(latch.Network(status), onUpdate) || done {
			return
		}
		next.Reset(s.opts.PollInterval)
	}
}

func (s *LiveStrategy) expire(ctx context.Context, l *latch.Latch, requestID string, onUpdate UpdateFunc) {
	if l.Deliver(latch.Network(models.Expired(requestID)), onUpdate) {
		s.logger.InfoContext(ctx, "mfa polling timed out",
			"request_id", requestID,
			"timeout", s.opts.Timeout,
		)
	}
}
