package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pushauth/internal/mfa/metrics"
	"pushauth/internal/mfa/models"
	"pushauth/internal/mfa/store"
	ratelimit "pushauth/internal/ratelimit/models"
	dErrors "pushauth/pkg/domain-errors"
	"pushauth/pkg/platform/audit"
	"pushauth/pkg/platform/sentinel"
	"pushauth/pkg/requestcontext"
)

const (
	DefaultSuccessDisplayDelay = 1500 * time.Millisecond
	DefaultSessionTTL          = 15 * time.Minute

	subscriberBuffer = 16
)

// TokenIssuer mints the session token handed out after a successful handshake.
type TokenIssuer interface {
	GenerateSessionToken(sessionID, requestID, mobile string) (string, error)
}

// RateLimiter budgets push requests per mobile number so a caller cannot
// flood a device with prompts.
type RateLimiter interface {
	Check(ctx context.Context, scope ratelimit.Scope, identifier string) (*ratelimit.RateLimitResult, error)
}

// AuditPublisher records lifecycle events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Config struct {
	DefaultDemoMode           bool
	CountryCode               string
	SuccessDisplayDelay       time.Duration
	SimulatedProgressInterval time.Duration
	// SessionTTL bounds how long a finished snapshot stays readable.
	SessionTTL time.Duration
}

type session struct {
	snapshot   models.SessionSnapshot
	mobileKey  string
	requestID  string
	controller *Controller
	finishedAt time.Time

	subscribers  map[int]chan models.SessionSnapshot
	nextSub      int
	streamClosed bool

	persistMu sync.Mutex
}

// Manager runs many handshakes concurrently, one live session per mobile
// number. Starting a new session for a number cancels the previous one.
type Manager struct {
	handshake Handshake
	store     store.Store
	cfg       Config
	tokens    TokenIssuer
	auditor   AuditPublisher
	limiter   RateLimiter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	byMobile map[string]*session
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithTokenIssuer(tokens TokenIssuer) Option {
	return func(m *Manager) {
		m.tokens = tokens
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(m *Manager) {
		m.auditor = p
	}
}

func WithRateLimiter(l RateLimiter) Option {
	return func(m *Manager) {
		m.limiter = l
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(handshake Handshake, st store.Store, cfg Config, opts ...Option) *Manager {
	if cfg.SuccessDisplayDelay <= 0 {
		cfg.SuccessDisplayDelay = DefaultSuccessDisplayDelay
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	m := &Manager{
		handshake: handshake,
		store:     st,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		sessions:  make(map[string]*session),
		byMobile:  make(map[string]*session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Start opens a session and blocks until the authority accepts or rejects
// the request. A rejected initiation still yields a snapshot in the error
// state alongside a bad gateway error.
func (m *Manager) Start(ctx context.Context, req models.StartSessionRequest) (*models.SessionSnapshot, error) {
	normalized, err := models.NormalizeMobile(req.Mobile, m.cfg.CountryCode)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	demoMode := m.cfg.DefaultDemoMode
	if req.DemoMode != nil {
		demoMode = *req.DemoMode
	}
	if err := m.checkRateLimit(ctx, normalized, demoMode); err != nil {
		return nil, err
	}

	now := m.now()
	sess := &session{
		snapshot: models.SessionSnapshot{
			ID:           uuid.NewString(),
			MaskedMobile: models.MaskMobile(normalized),
			DemoMode:     demoMode,
			State:        models.SessionIdle,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
		mobileKey:   normalized,
		requestID:   requestcontext.RequestID(ctx),
		subscribers: make(map[int]chan models.SessionSnapshot),
	}
	sess.controller = NewController(m.handshake, ControllerConfig{
		SuccessDisplayDelay:       m.cfg.SuccessDisplayDelay,
		SimulatedProgressInterval: m.cfg.SimulatedProgressInterval,
	}, Callbacks{
		OnUpdate:      func(status models.AuthStatus) { m.onUpdate(sess, status) },
		OnStateChange: func(state models.SessionState) { m.onStateChange(sess, state) },
		OnSuccess:     func(status models.AuthStatus) { m.onSuccess(sess, status) },
	}, m.logger.With("session_id", sess.snapshot.ID))

	m.mu.Lock()
	prev := m.byMobile[normalized]
	m.sessions[sess.snapshot.ID] = sess
	m.byMobile[normalized] = sess
	m.mu.Unlock()

	if prev != nil && prev.controller.Cancel() {
		m.logger.InfoContext(ctx, "superseded previous mfa session",
			"session_id", prev.snapshot.ID,
			"mobile", sess.snapshot.MaskedMobile,
		)
	}

	m.persist(sess)
	m.metrics.IncSessionsStarted(demoMode)
	m.emit(ctx, sess, audit.EventMFAStarted, "", "")

	err = sess.controller.Start(ctx, req.Mobile, demoMode)
	snapshot := m.snapshotOf(sess)
	switch {
	case err == nil, errors.Is(err, context.Canceled) && snapshot.State == models.SessionCancelled:
		return &snapshot, nil
	case errors.Is(err, models.ErrInvalidMobile):
		return &snapshot, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	default:
		return &snapshot, dErrors.Wrap(err, dErrors.CodeBadGateway, models.MessageGatewayUnreachable)
	}
}

// Get returns the latest snapshot, falling back to the store for sessions
// this instance no longer tracks.
func (m *Manager) Get(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		snapshot := sess.snapshot
		m.mu.Unlock()
		return &snapshot, nil
	}
	m.mu.Unlock()

	snapshot, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// Cancel aborts a live session. Cancelling a finished session is a no-op.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()

	if !ok {
		if _, err := m.store.Get(ctx, id); err != nil {
			return err
		}
		return nil
	}
	if sess.controller.Cancel() {
		m.logger.InfoContext(ctx, "mfa session cancelled", "session_id", id)
	}
	return nil
}

// Subscribe streams snapshots for a session, starting with the current one.
// The channel is closed once the session settles: on error or cancel
// immediately, on success after the session token is issued. The returned
// func releases the subscription early.
func (m *Manager) Subscribe(id string) (<-chan models.SessionSnapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}

	ch := make(chan models.SessionSnapshot, subscriberBuffer)
	ch <- sess.snapshot
	if sess.streamClosed {
		close(ch)
		return ch, func() {}, nil
	}

	key := sess.nextSub
	sess.nextSub++
	sess.subscribers[key] = ch

	unsubscribe := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := sess.subscribers[key]; ok {
			delete(sess.subscribers, key)
			close(c)
		}
	}
	return ch, unsubscribe, nil
}

// ReapExpired forgets finished sessions older than the session TTL and
// reports how many were dropped.
func (m *Manager) ReapExpired(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.SessionTTL)

	m.mu.Lock()
	var expired []string
	for id, sess := range m.sessions {
		if !sess.finishedAt.IsZero() && !sess.finishedAt.After(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.store.Delete(ctx, id); err != nil {
			m.logger.WarnContext(ctx, "failed to delete expired mfa session", "session_id", id, "error", err)
		}
	}
	if sweeper, ok := m.store.(interface{ Sweep() int }); ok {
		sweeper.Sweep()
	}
	return len(expired)
}

// RunReaper calls ReapExpired every interval until ctx ends.
func (m *Manager) RunReaper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := m.ReapExpired(ctx); n > 0 {
				m.logger.DebugContext(ctx, "reaped mfa sessions", "count", n)
			}
		}
	}
}

// Shutdown cancels every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	live := make([]*Controller, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if !sess.snapshot.State.IsFinal() {
			live = append(live, sess.controller)
		}
	}
	m.mu.Unlock()

	for _, c := range live {
		c.Cancel()
	}
}

func (m *Manager) onUpdate(sess *session, status models.AuthStatus) {
	m.mu.Lock()
	sess.snapshot.Status = status
	sess.snapshot.UpdatedAt = m.now()
	m.broadcastLocked(sess)
	m.mu.Unlock()

	m.persist(sess)
}

func (m *Manager) onStateChange(sess *session, state models.SessionState) {
	m.mu.Lock()
	if from := sess.snapshot.State; !from.CanTransitionTo(state) {
		m.mu.Unlock()
		m.logger.Warn("ignored out of order mfa state change",
			"session_id", sess.snapshot.ID,
			"from", from,
			"to", state,
		)
		return
	}
	sess.snapshot.State = state
	sess.snapshot.UpdatedAt = m.now()
	if state.IsFinal() {
		sess.finishedAt = sess.snapshot.UpdatedAt
		if m.byMobile[sess.mobileKey] == sess {
			delete(m.byMobile, sess.mobileKey)
		}
	}
	m.broadcastLocked(sess)
	if state == models.SessionFailed || state == models.SessionCancelled {
		m.closeSubscribersLocked(sess)
	}
	status := sess.snapshot.Status
	m.mu.Unlock()

	m.persist(sess)

	ctx := context.Background()
	switch state {
	case models.SessionSucceeded:
		m.metrics.IncSessionsFinished("success")
		m.emit(ctx, sess, audit.EventMFASucceeded, "approved", "")
	case models.SessionFailed:
		if status.Message == models.MessageUplinkExpired {
			m.metrics.IncSessionsFinished("timeout")
			m.emit(ctx, sess, audit.EventMFATimedOut, "expired", status.Message)
		} else {
			m.metrics.IncSessionsFinished("error")
			m.emit(ctx, sess, audit.EventMFAFailed, "rejected", status.Message)
		}
	case models.SessionCancelled:
		m.metrics.IncSessionsFinished("cancelled")
		m.emit(ctx, sess, audit.EventMFACancelled, "cancelled", "")
	}
}

func (m *Manager) onSuccess(sess *session, status models.AuthStatus) {
	var token string
	if m.tokens != nil {
		var err error
		token, err = m.tokens.GenerateSessionToken(sess.snapshot.ID, status.RequestID, sess.snapshot.MaskedMobile)
		if err != nil {
			m.logger.Error("failed to issue session token", "session_id", sess.snapshot.ID, "error", err)
		}
	}

	m.mu.Lock()
	sess.snapshot.SessionToken = token
	sess.snapshot.UpdatedAt = m.now()
	m.broadcastLocked(sess)
	m.closeSubscribersLocked(sess)
	m.mu.Unlock()

	m.persist(sess)
	if token != "" {
		m.emit(context.Background(), sess, audit.EventTokenIssued, "issued", "")
	}
}

// broadcastLocked offers the current snapshot to every subscriber. A slow
// subscriber loses its oldest buffered snapshot rather than blocking delivery.
func (m *Manager) broadcastLocked(sess *session) {
	snapshot := sess.snapshot
	for _, ch := range sess.subscribers {
		select {
		case ch <- snapshot:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snapshot:
		default:
		}
	}
}

func (m *Manager) closeSubscribersLocked(sess *session) {
	for key, ch := range sess.subscribers {
		delete(sess.subscribers, key)
		close(ch)
	}
	sess.streamClosed = true
}

// persist writes the latest snapshot. The per-session lock keeps a stale
// snapshot from overwriting a newer one.
func (m *Manager) persist(sess *session) {
	sess.persistMu.Lock()
	defer sess.persistMu.Unlock()

	snapshot := m.snapshotOf(sess)
	if err := m.store.Save(context.Background(), snapshot, m.cfg.SessionTTL); err != nil {
		m.logger.Warn("failed to persist mfa session", "session_id", snapshot.ID, "error", err)
	}
}

func (m *Manager) snapshotOf(sess *session) models.SessionSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sess.snapshot
}

// checkRateLimit fails open when the limiter itself errors.
func (m *Manager) checkRateLimit(ctx context.Context, mobile string, demoMode bool) error {
	if m.limiter == nil {
		return nil
	}
	result, err := m.limiter.Check(ctx, ratelimit.ScopeMobile, mobile)
	if err != nil {
		m.logger.WarnContext(ctx, "mobile rate limit check failed", "error", err)
		return nil
	}
	if result.Allowed {
		return nil
	}
	masked := models.MaskMobile(mobile)
	m.logger.WarnContext(ctx, "mfa push rate limited",
		"mobile", masked,
		"retry_after", result.RetryAfter,
	)
	m.emit(ctx, &session{
		snapshot:  models.SessionSnapshot{MaskedMobile: masked, DemoMode: demoMode},
		requestID: requestcontext.RequestID(ctx),
	}, audit.EventRateLimited, "denied", fmt.Sprintf("retry after %ds", result.RetryAfter))
	return dErrors.New(dErrors.CodeRateLimited,
		fmt.Sprintf("too many authentication requests for this number, retry in %d seconds", result.RetryAfter))
}

func (m *Manager) emit(ctx context.Context, sess *session, action audit.AuditEvent, decision, reason string) {
	if m.auditor == nil {
		return
	}
	mode := "live"
	if sess.snapshot.DemoMode {
		mode = "demo"
	}
	event := audit.Event{
		SessionID: sess.snapshot.ID,
		Subject:   sess.snapshot.MaskedMobile,
		Action:    string(action),
		Decision:  decision,
		Reason:    reason,
		Mode:      mode,
		RequestID: sess.requestID,
		Timestamp: m.now(),
	}
	if err := m.auditor.Emit(ctx, event); err != nil {
		m.logger.Warn("failed to emit audit event", "action", action, "session_id", sess.snapshot.ID, "error", err)
	}
}
