package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"pushauth/internal/ratelimit/models"
	"pushauth/pkg/platform/httputil"
	"pushauth/pkg/requestcontext"
)

// Checker is the part of the rate limit service the middleware needs.
type Checker interface {
	Check(ctx context.Context, scope models.Scope, identifier string) (*models.RateLimitResult, error)
	Degraded() bool
}

type Middleware struct {
	checker  Checker
	logger   *slog.Logger
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func New(checker Checker, logger *slog.Logger, opts ...Option) *Middleware {
	m := &Middleware{
		checker: checker,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// PerIP limits requests by the client address resolved earlier in the chain.
func (m *Middleware) PerIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.ClientIP(ctx)
		result, err := m.checker.Check(ctx, models.ScopeIP, ip)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check IP rate limit",
				"request_id", requestcontext.RequestID(ctx),
				"error", err,
			)
			next.ServeHTTP(w, r)
			return
		}

		if m.checker.Degraded() {
			w.Header().Set("X-RateLimit-Status", "degraded")
		}
		AddHeaders(w, result)
		if !result.Allowed {
			m.logger.WarnContext(ctx, "session start rate limited",
				"request_id", requestcontext.RequestID(ctx),
				"scope", models.ScopeIP,
			)
			WriteExceeded(w, result, "Too many authentication requests from this address. Please try again later.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AddHeaders sets the X-RateLimit-* headers for an enforced limit.
func AddHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil || result.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// WriteExceeded renders a 429 with a Retry-After hint.
func WriteExceeded(w http.ResponseWriter, result *models.RateLimitResult, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.RateLimitExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    message,
		RetryAfter: result.RetryAfter,
	})
}
