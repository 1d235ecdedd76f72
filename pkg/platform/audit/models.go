package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so stores
// can apply different retention.
type EventCategory string

const (
	// CategorySecurity covers outcomes relevant to fraud monitoring:
	// rejected biometrics, expired uplinks, throttled push requests.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine session lifecycle events.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the session manager to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	SessionID string
	// Subject is the masked mobile number; raw numbers are never audited.
	Subject   string
	Action    string
	Decision  string
	Reason    string
	Mode      string
	RequestID string
}

type AuditEvent string

const (
	EventMFAStarted   AuditEvent = "mfa_started"
	EventMFASucceeded AuditEvent = "mfa_succeeded"
	EventMFAFailed    AuditEvent = "mfa_failed"
	EventMFATimedOut  AuditEvent = "mfa_timed_out"
	EventMFACancelled AuditEvent = "mfa_cancelled"
	EventTokenIssued  AuditEvent = "session_token_issued"
	EventRateLimited  AuditEvent = "mfa_rate_limited"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventMFAFailed:   CategorySecurity,
	EventMFATimedOut: CategorySecurity,
	EventRateLimited: CategorySecurity,

	EventMFAStarted:   CategoryOperations,
	EventMFASucceeded: CategoryOperations,
	EventMFACancelled: CategoryOperations,
	EventTokenIssued:  CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySession(ctx context.Context, sessionID string) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}
