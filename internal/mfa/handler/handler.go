package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"pushauth/internal/mfa/models"
	"pushauth/internal/platform/metrics"
	"pushauth/internal/platform/middleware"
	dErrors "pushauth/pkg/domain-errors"
	"pushauth/pkg/platform/httputil"
)

const (
	maxBodyBytes = 1 << 20
	writeWait    = 10 * time.Second
	pingPeriod   = 30 * time.Second
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

// Service defines the interface for MFA session operations.
type Service interface {
	Start(ctx context.Context, req models.StartSessionRequest) (*models.SessionSnapshot, error)
	Get(ctx context.Context, id string) (*models.SessionSnapshot, error)
	Cancel(ctx context.Context, id string) error
	Subscribe(id string) (<-chan models.SessionSnapshot, func(), error)
}

// Handler handles MFA session endpoints.
type Handler struct {
	logger         *slog.Logger
	sessions       Service
	metrics        *metrics.Metrics
	tokenValidator middleware.TokenValidator
	requestTimeout time.Duration
	startLimit     func(http.Handler) http.Handler
	upgrader       websocket.Upgrader
}

type Option func(*Handler)

// WithRequestTimeout bounds every non-streaming route.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		h.requestTimeout = d
	}
}

// WithStartRateLimit guards session creation with the given middleware.
func WithStartRateLimit(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.startLimit = mw
	}
}

// WithCheckOrigin overrides the same-origin check applied to event streams.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Handler) {
		h.upgrader.CheckOrigin = fn
	}
}

// New creates a new MFA Handler.
func New(
	sessions Service,
	logger *slog.Logger,
	metrics *metrics.Metrics,
	tokenValidator middleware.TokenValidator,
	opts ...Option) *Handler {
	h := &Handler{
		logger:         logger,
		sessions:       sessions,
		metrics:        metrics,
		tokenValidator: tokenValidator,
		requestTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register registers the MFA routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recovery(h.logger))
		r.Use(middleware.RequestID)
		r.Use(middleware.ClientMetadata)
		r.Use(middleware.Logger(h.logger))
		r.Use(middleware.Latency(h.metrics))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(h.requestTimeout))
			r.Use(middleware.ContentTypeJSON)
			if h.startLimit != nil {
				r.With(h.startLimit).Post("/mfa/sessions", h.handleStart)
			} else {
				r.Post("/mfa/sessions", h.handleStart)
			}
			r.Get("/mfa/sessions/{id}", h.handleGet)
			r.Delete("/mfa/sessions/{id}", h.handleCancel)

			if h.tokenValidator != nil {
				r.With(middleware.RequireAuth(h.tokenValidator, h.logger)).Get("/mfa/token", h.handleIntrospect)
			}
		})

		r.Get("/mfa/sessions/{id}/events", h.handleEvents)
	})
}

// handleStart initiates a handshake and returns the session as accepted.
func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req models.StartSessionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid start session request",
			"request_id", requestID,
			"error", err.Error(),
		)
		h.writeError(ctx, w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	snapshot, err := h.sessions.Start(ctx, req)
	if snapshot != nil {
		w.Header().Set("Location", "/mfa/sessions/"+snapshot.ID)
	}
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}

	h.logger.InfoContext(ctx, "mfa session started",
		"request_id", requestID,
		"session_id", snapshot.ID,
		"mobile", snapshot.MaskedMobile,
		"demo_mode", snapshot.DemoMode,
	)
	httputil.WriteJSON(w, http.StatusAccepted, snapshot)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	snapshot, err := h.sessions.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snapshot)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.sessions.Cancel(ctx, chi.URLParam(r, "id")); err != nil {
		h.writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenResponse struct {
	SessionID string `json:"session_id"`
	RequestID string `json:"request_id"`
	Mobile    string `json:"mobile"`
	Method    string `json:"amr"`
	ExpiresAt int64  `json:"expires_at"`
}

// handleIntrospect echoes the claims of a valid session token.
func (h *Handler) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := middleware.GetClaims(ctx)
	if claims == nil {
		h.logger.ErrorContext(ctx, "claims missing from context despite auth middleware",
			"request_id", middleware.GetRequestID(ctx),
		)
		h.writeError(ctx, w, dErrors.New(dErrors.CodeInternal, "authentication context error"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tokenResponse{
		SessionID: claims.SessionID,
		RequestID: claims.RequestID,
		Mobile:    claims.Mobile,
		Method:    claims.Method,
		ExpiresAt: claims.ExpiresAt,
	})
}

// handleEvents streams snapshots over a websocket until the session settles
// or the client goes away. Disconnecting does not cancel the session.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	sessionID := chi.URLParam(r, "id")

	events, unsubscribe, err := h.sessions.Subscribe(sessionID)
	if err != nil {
		h.writeError(ctx, w, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket upgrade failed",
			"request_id", requestID,
			"session_id", sessionID,
			"error", err,
		)
		return
	}
	defer conn.Close()

	// Reads only detect the peer going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case snapshot, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session settled"),
					time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				h.logger.DebugContext(ctx, "event stream write failed",
					"request_id", requestID,
					"session_id", sessionID,
					"error", err,
				)
				return
			}
		}
	}
}

// writeError logs at a level matching the response class, then renders the
// JSON error envelope.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := httputil.CodeOf(err)
	attrs := []any{
		"request_id", middleware.GetRequestID(ctx),
		"code", code,
		"error", err.Error(),
	}
	if code.HTTPStatus() >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "mfa request failed", attrs...)
	} else {
		h.logger.WarnContext(ctx, "mfa request rejected", attrs...)
	}
	httputil.WriteError(w, err)
}
