package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeMobile(t *testing.T) {
	tests := []struct {
		name        string
		mobile      string
		countryCode string
		want        string
		wantErr     bool
	}{
		{name: "default country code", mobile: "5551234567", want: "+15551234567"},
		{name: "explicit plus prefix", mobile: "5551234567", countryCode: "+44", want: "+445551234567"},
		{name: "bare country code", mobile: " 5551234567 ", countryCode: "91", want: "+915551234567"},
		{name: "formatted input", mobile: "555-123-4567", wantErr: true},
		{name: "too short", mobile: "555123", wantErr: true},
		{name: "already prefixed", mobile: "+15551234567", wantErr: true},
		{name: "empty", mobile: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMobile(tt.mobile, tt.countryCode)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidMobile)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaskMobile(t *testing.T) {
	assert.Equal(t, "********4567", MaskMobile("+15551234567"))
	assert.Equal(t, "***", MaskMobile("123"))
}

func TestAuthStatusValidate(t *testing.T) {
	assert.NoError(t, Success("r").Validate())
	assert.NoError(t, Failure("", "r").Validate())
	assert.NoError(t, Pending(StepBiometricPending, MessageBiometricPending, "r").Validate())

	assert.Error(t, AuthStatus{Step: StepVerifying, Message: "x", Status: StatusSuccess}.Validate(), "success requires step 7")
	assert.Error(t, AuthStatus{Step: StepComplete, Message: "x", Status: StatusPending}.Validate())
	assert.Error(t, AuthStatus{Step: 9, Message: "x", Status: StatusPending}.Validate())
	assert.Error(t, AuthStatus{Step: StepConnecting, Status: StatusPending}.Validate())
	assert.Error(t, AuthStatus{Step: StepConnecting, Message: "x", Status: "done"}.Validate())
}

func TestFailureDefaults(t *testing.T) {
	f := Failure("", "req")
	assert.Equal(t, MessageRejected, f.Message)
	assert.Equal(t, StepConnectionFailed, f.Step)
	assert.True(t, f.IsTerminal())

	e := Expired("req")
	assert.Equal(t, MessageUplinkExpired, e.Message)
	assert.Equal(t, StatusError, e.Status)
}

func TestSessionStateTransitions(t *testing.T) {
	assert.True(t, SessionIdle.CanTransitionTo(SessionInitiating))
	assert.True(t, SessionInitiating.CanTransitionTo(SessionPolling))
	assert.True(t, SessionInitiating.CanTransitionTo(SessionFailed))
	assert.True(t, SessionPolling.CanTransitionTo(SessionSucceeded))
	assert.True(t, SessionPolling.CanTransitionTo(SessionCancelled))
	assert.True(t, SessionIdle.CanTransitionTo(SessionCancelled))

	assert.False(t, SessionIdle.CanTransitionTo(SessionPolling))
	assert.False(t, SessionInitiating.CanTransitionTo(SessionSucceeded))
	assert.False(t, SessionSucceeded.CanTransitionTo(SessionCancelled))
	assert.False(t, SessionCancelled.CanTransitionTo(SessionPolling))
	assert.False(t, SessionFailed.CanTransitionTo(SessionFailed))
}

func TestStepString(t *testing.T) {
	assert.Equal(t, "biometric_pending", StepBiometricPending.String())
	assert.Equal(t, "step(12)", Step(12).String())
}
