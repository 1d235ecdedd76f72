package models

import (
	"strings"
	"time"
)

// Scope names what a bucket counts.
type Scope string

const (
	// ScopeIP counts session starts per client address.
	ScopeIP Scope = "ip"
	// ScopeMobile counts push requests per normalized mobile number.
	ScopeMobile Scope = "mobile"
)

// Limit is a sliding window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

// Enabled reports whether the limit should be enforced at all.
func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// RateLimitResult represents the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}

// RateLimitExceededResponse is the API response when a limit is exceeded.
type RateLimitExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"`
}

// NewKey builds a bucket key. Colons in the identifier are escaped so a
// crafted identifier cannot land in another scope's bucket.
func NewKey(scope Scope, identifier string) string {
	return "rl:" + string(scope) + ":" + sanitizeKeySegment(identifier)
}

func sanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// RetryAfterSeconds rounds the wait until resetAt up to whole seconds.
func RetryAfterSeconds(now, resetAt time.Time) int {
	d := resetAt.Sub(now)
	if d <= 0 {
		return 1
	}
	secs := int(d / time.Second)
	if d%time.Second != 0 {
		secs++
	}
	return secs
}
