package engine

import (
	"net/http"
	"slices"
	"time"

	"pushauth/internal/mfa/authority"
	"pushauth/internal/mfa/models"
)

const (
	DefaultInitialDelay     = 1 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultRetryBackoff     = 3 * time.Second
	DefaultTimeout          = 8 * time.Minute
	DefaultDemoStepInterval = 1500 * time.Millisecond
	DefaultCountryCode      = "+1"
)

// Options holds the polling cadence. Tests shrink every interval to
// milliseconds; production uses the defaults.
type Options struct {
	InitialDelay     time.Duration
	PollInterval     time.Duration
	RetryBackoff     time.Duration
	Timeout          time.Duration
	DemoStepInterval time.Duration
	CountryCode      string
	Policy           Policy
}

func DefaultOptions() Options {
	return Options{
		InitialDelay:     DefaultInitialDelay,
		PollInterval:     DefaultPollInterval,
		RetryBackoff:     DefaultRetryBackoff,
		Timeout:          DefaultTimeout,
		DemoStepInterval: DefaultDemoStepInterval,
		CountryCode:      DefaultCountryCode,
		Policy:           DefaultPolicy(),
	}
}

// withDefaults fills zero fields so a partially built Options is usable.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitialDelay <= 0 {
		o.InitialDelay = d.InitialDelay
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = d.RetryBackoff
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.DemoStepInterval <= 0 {
		o.DemoStepInterval = d.DemoStepInterval
	}
	if o.CountryCode == "" {
		o.CountryCode = d.CountryCode
	}
	if o.Policy.AmbiguousStatusCodes == nil {
		o.Policy = d.Policy
	}
	return o
}

// Policy holds the reconciliation rules that depend on backend behaviour.
//
// Some authority deployments answer validate with an access-denied code while
// the push is delivered but the biometric scan has not happened yet. Codes in
// AmbiguousStatusCodes are read as "still pending" instead of a failure. The
// default (403) matches the deployment this gateway was built against and
// has not been confirmed as a documented contract.
type Policy struct {
	AmbiguousStatusCodes []int
}

func DefaultPolicy() Policy {
	return Policy{AmbiguousStatusCodes: []int{http.StatusForbidden}}
}

func (p Policy) IsAmbiguous(statusCode int) bool {
	return slices.Contains(p.AmbiguousStatusCodes, statusCode)
}

// Reconcile maps one validate response onto the status shown to the user
// and reports whether polling must stop. Rules in priority order: success,
// application error, ambiguous pending, default pending. An application
// error is an error outcome or a 4xx code not designated ambiguous.
func (p Policy) Reconcile(resp *authority.ValidateResponse, requestID string) (models.AuthStatus, bool) {
	ambiguous := p.IsAmbiguous(resp.StatusCode)

	if resp.Outcome == authority.OutcomeSuccess && resp.StatusCode < http.StatusBadRequest {
		return models.Success(requestID), true
	}
	if !ambiguous && (resp.Outcome == authority.OutcomeError || resp.StatusCode >= http.StatusBadRequest) {
		return models.Failure(resp.Message, requestID), true
	}
	if ambiguous {
		return models.Pending(models.StepBiometricPending, models.MessageBiometricPending, requestID), false
	}
	return models.Pending(models.StepAwaitingBiometric, models.MessageAwaitingBiometric, requestID), false
}
