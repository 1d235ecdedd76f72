package service

import (
	"context"
	"log/slog"
	"time"

	"pushauth/internal/ratelimit/metrics"
	"pushauth/internal/ratelimit/models"
)

// BucketStore is a sliding window counter.
type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

// Service enforces per-scope limits on session starts. While the primary
// store keeps failing it switches to the fallback store; isolated failures
// let the request through.
type Service struct {
	primary  BucketStore
	fallback BucketStore
	limits   map[models.Scope]models.Limit
	breaker  *circuitBreaker
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithFallback sets the store used while the circuit is open.
func WithFallback(store BucketStore) Option {
	return func(s *Service) {
		s.fallback = store
	}
}

// WithBreakerThresholds sets how many consecutive failures open the circuit
// and how many consecutive successes close it again.
func WithBreakerThresholds(failures, successes int) Option {
	return func(s *Service) {
		s.breaker = newCircuitBreaker(failures, successes)
	}
}

func New(primary BucketStore, limits map[models.Scope]models.Limit, opts ...Option) *Service {
	s := &Service{
		primary: primary,
		limits:  limits,
		breaker: newCircuitBreaker(0, 0),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check counts one hit for identifier under scope. Disabled scopes always
// allow and report a zero limit.
func (s *Service) Check(ctx context.Context, scope models.Scope, identifier string) (*models.RateLimitResult, error) {
	limit, ok := s.limits[scope]
	if !ok || !limit.Enabled() {
		return &models.RateLimitResult{Allowed: true}, nil
	}
	key := models.NewKey(scope, identifier)

	result, err := s.primary.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		s.metrics.IncStoreFailures()
		open := s.breaker.RecordFailure()
		s.metrics.SetDegraded(open)
		if !open || s.fallback == nil {
			s.logger.WarnContext(ctx, "rate limit check failed, allowing request",
				"scope", scope,
				"error", err,
			)
			return &models.RateLimitResult{Allowed: true, Limit: limit.Requests, Remaining: limit.Requests}, nil
		}
		s.logger.WarnContext(ctx, "rate limit store unavailable, using in-memory fallback",
			"scope", scope,
			"error", err,
		)
		return s.checkFallback(ctx, scope, key, limit)
	}

	if closed := s.breaker.RecordSuccess(); !closed && s.fallback != nil {
		return s.checkFallback(ctx, scope, key, limit)
	}
	s.metrics.SetDegraded(false)
	s.count(scope, result)
	return result, nil
}

type sweeper interface {
	Sweep() int
}

// Sweep drops idle in-memory buckets from whichever stores keep them.
func (s *Service) Sweep() int {
	removed := 0
	for _, st := range []BucketStore{s.primary, s.fallback} {
		if sw, ok := st.(sweeper); ok {
			removed += sw.Sweep()
		}
		if s.fallback == s.primary {
			break
		}
	}
	return removed
}

// RunJanitor sweeps idle buckets every interval until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.DebugContext(ctx, "swept idle rate limit buckets", "count", n)
			}
		}
	}
}

// Degraded reports whether checks currently run on the fallback store.
func (s *Service) Degraded() bool {
	return s.breaker.IsOpen()
}

func (s *Service) checkFallback(ctx context.Context, scope models.Scope, key string, limit models.Limit) (*models.RateLimitResult, error) {
	result, err := s.fallback.Allow(ctx, key, limit.Requests, limit.Window)
	if err != nil {
		return nil, err
	}
	s.count(scope, result)
	return result, nil
}

func (s *Service) count(scope models.Scope, result *models.RateLimitResult) {
	if !result.Allowed {
		s.metrics.IncRejected(string(scope))
	}
}
