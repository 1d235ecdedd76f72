package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"pushauth/internal/mfa/authority"
	"pushauth/internal/mfa/authority/mocks"
	"pushauth/internal/mfa/models"
)

var errOffline = errors.New("dial tcp: network is unreachable")

type LiveStrategySuite struct {
	suite.Suite
	logger *slog.Logger
}

func TestLiveStrategySuite(t *testing.T) {
	suite.Run(t, new(LiveStrategySuite))
}

func (s *LiveStrategySuite) SetupSuite() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *LiveStrategySuite) newStrategy(auth authority.Authority, opts Options) *LiveStrategy {
	return NewLiveStrategy(auth, opts, WithLogger(s.logger))
}

func (s *LiveStrategySuite) TestStart() {
	ctx := context.Background()

	s.Run("normalizes the number before calling the authority", func() {
		ctrl := gomock.NewController(s.T())
		auth := mocks.NewMockAuthority(ctrl)
		auth.EXPECT().Start(gomock.Any(), "+15551234567").Return("req-1", nil)

		requestID, err := s.newStrategy(auth, fastOptions()).Start(ctx, testMobile)
		s.Require().NoError(err)
		s.Equal("req-1", requestID)
	})

	s.Run("authority failure collapses into gateway unreachable", func() {
		ctrl := gomock.NewController(s.T())
		auth := mocks.NewMockAuthority(ctrl)
		auth.EXPECT().Start(gomock.Any(), gomock.Any()).Return("", &authority.AuthorityError{Category: authority.ErrorTransport, Op: authority.ActionStart, Underlying: errOffline})

		_, err := s.newStrategy(auth, fastOptions()).Start(ctx, testMobile)
		s.Require().ErrorIs(err, ErrGatewayUnreachable)
		s.NotErrorIs(err, errOffline, "raw transport error must not leak")
	})

	s.Run("malformed number never reaches the authority", func() {
		ctrl := gomock.NewController(s.T())
		auth := mocks.NewMockAuthority(ctrl)

		_, err := s.newStrategy(auth, fastOptions()).Start(ctx, "555-123-4567")
		s.Require().ErrorIs(err, ErrInvalidMobile)
	})
}

func (s *LiveStrategySuite) TestAmbiguousThenSuccess() {
	auth := newScriptedAuthority(
		respond(http.StatusForbidden, authority.OutcomeError, "not verified"),
		respond(http.StatusForbidden, authority.OutcomeError, "not verified"),
		respond(http.StatusForbidden, authority.OutcomeError, "not verified"),
		respond(http.StatusOK, authority.OutcomeSuccess, ""),
	)
	rec := &updateRecorder{}
	cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)
	defer cancel()

	s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
	time.Sleep(settleWindow)

	updates := rec.Updates()
	s.Require().Len(updates, 4)
	for _, u := range updates[:3] {
		s.Equal(models.StatusPending, u.Status)
		s.Equal(models.StepBiometricPending, u.Step)
	}
	s.Equal(models.Success("req-live"), updates[3])
	s.Equal(4, auth.Calls(), "polling stops after success")
}

func (s *LiveStrategySuite) TestTransientFailuresAreSilent() {
	auth := newScriptedAuthority(
		fail(errOffline),
		fail(errOffline),
		respond(http.StatusOK, authority.OutcomeSuccess, ""),
	)
	rec := &updateRecorder{}
	cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)
	defer cancel()

	s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
	s.Equal([]models.AuthStatus{models.Success("req-live")}, rec.Updates())
	s.Equal(3, auth.Calls())
}

func (s *LiveStrategySuite) TestPermanentValidateFailureEndsSession() {
	auth := newScriptedAuthority(
		fail(&authority.AuthorityError{Category: authority.ErrorBadData, Op: authority.ActionValidate, Message: "encode request"}),
		respond(http.StatusOK, authority.OutcomeSuccess, ""),
	)
	rec := &updateRecorder{}
	cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)
	defer cancel()

	s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
	time.Sleep(settleWindow)

	s.Equal([]models.AuthStatus{models.Failure(models.MessageGatewayUnreachable, "req-live")}, rec.Updates())
	s.Equal(1, auth.Calls(), "a request that can never succeed is not retried")
}

func (s *LiveStrategySuite) TestApplicationErrorIsTerminal() {
	auth := newScriptedAuthority(
		respond(http.StatusOK, authority.OutcomePending, ""),
		respond(http.StatusOK, authority.OutcomeError, "Biometric mismatch"),
	)
	rec := &updateRecorder{}
	cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)
	defer cancel()

	s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
	time.Sleep(settleWindow)

	updates := rec.Updates()
	s.Require().Len(updates, 2)
	s.Equal(models.StepAwaitingBiometric, updates[0].Step)
	s.Equal(models.AuthStatus{Step: models.StepConnectionFailed, Message: "Biometric mismatch", Status: models.StatusError, RequestID: "req-live"}, updates[1])
	s.Equal(2, auth.Calls())
}

func (s *LiveStrategySuite) TestStepsNeverRegress() {
	auth := newScriptedAuthority(
		respond(http.StatusForbidden, authority.OutcomeUnknown, ""),
		respond(http.StatusOK, authority.OutcomePending, ""),
		respond(http.StatusOK, authority.OutcomeSuccess, ""),
	)
	rec := &updateRecorder{}
	cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)
	defer cancel()

	s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
	var last models.Step
	for _, u := range rec.Updates() {
		s.GreaterOrEqual(u.Step, last)
		last = u.Step
	}
	s.Equal(models.StepBiometricPending, rec.Updates()[1].Step)
}

func (s *LiveStrategySuite) TestTimeout() {
	s.Run("never settling response expires exactly once", func() {
		opts := fastOptions()
		opts.Timeout = 60 * time.Millisecond
		auth := newScriptedAuthority(respond(http.StatusOK, authority.OutcomePending, ""))
		rec := &updateRecorder{}
		cancel := s.newStrategy(auth, opts).Poll("req-live", testMobile, rec.OnUpdate)
		defer cancel()

		s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
		callsAtExpiry := auth.Calls()
		time.Sleep(settleWindow)

		updates := rec.Updates()
		s.Equal(models.Expired("req-live"), updates[len(updates)-1])
		s.Equal(1, rec.Terminal())
		s.Equal(callsAtExpiry, auth.Calls(), "no polling after timeout")
	})

	s.Run("expires while a poll is in flight", func() {
		opts := fastOptions()
		opts.Timeout = 30 * time.Millisecond
		hold := make(chan struct{})
		defer close(hold)
		auth := newScriptedAuthority(scriptStep{resp: &authority.ValidateResponse{StatusCode: http.StatusOK, Outcome: authority.OutcomeSuccess}, hold: hold})
		rec := &updateRecorder{}
		cancel := s.newStrategy(auth, opts).Poll("req-live", testMobile, rec.OnUpdate)
		defer cancel()

		s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
		s.Equal([]models.AuthStatus{models.Expired("req-live")}, rec.Updates())
	})
}

func (s *LiveStrategySuite) TestCancellation() {
	s.Run("cancel before the first poll prevents every update", func() {
		opts := fastOptions()
		opts.InitialDelay = 50 * time.Millisecond
		auth := newScriptedAuthority(respond(http.StatusOK, authority.OutcomeSuccess, ""))
		rec := &updateRecorder{}
		cancel := s.newStrategy(auth, opts).Poll("req-live", testMobile, rec.OnUpdate)
		cancel()

		time.Sleep(3 * opts.InitialDelay)
		s.Zero(rec.Len())
		s.Zero(auth.Calls())
	})

	s.Run("in-flight result is discarded after cancel", func() {
		hold := make(chan struct{})
		auth := newScriptedAuthority(scriptStep{resp: &authority.ValidateResponse{StatusCode: http.StatusOK, Outcome: authority.OutcomeSuccess}, hold: hold})
		rec := &updateRecorder{}
		cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)

		select {
		case <-auth.started:
		case <-time.After(waitFor):
			s.FailNow("validate was never issued")
		}
		cancel()
		close(hold)

		time.Sleep(settleWindow)
		s.Zero(rec.Len())
		s.Equal(1, auth.Calls())
	})

	s.Run("cancel is idempotent and safe after termination", func() {
		auth := newScriptedAuthority(respond(http.StatusOK, authority.OutcomeSuccess, ""))
		rec := &updateRecorder{}
		cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", testMobile, rec.OnUpdate)

		s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
		s.NotPanics(func() {
			cancel()
			cancel()
		})
		s.Equal(1, rec.Len())
	})
}

func (s *LiveStrategySuite) TestInvalidMobileFailsPoll() {
	auth := newScriptedAuthority(respond(http.StatusOK, authority.OutcomeSuccess, ""))
	rec := &updateRecorder{}
	cancel := s.newStrategy(auth, fastOptions()).Poll("req-live", "12345", rec.OnUpdate)
	defer cancel()

	s.Require().Eventually(func() bool { return rec.Terminal() == 1 }, waitFor, pollEvery)
	s.Equal(models.StatusError, rec.Updates()[0].Status)
	s.Zero(auth.Calls())
}

func TestPolicyReconcile(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		resp     authority.ValidateResponse
		want     models.AuthStatus
		wantDone bool
	}{
		{
			name:     "success",
			policy:   DefaultPolicy(),
			resp:     authority.ValidateResponse{StatusCode: http.StatusOK, Outcome: authority.OutcomeSuccess},
			want:     models.Success("r"),
			wantDone: true,
		},
		{
			name:     "error with server reason",
			policy:   DefaultPolicy(),
			resp:     authority.ValidateResponse{StatusCode: http.StatusOK, Outcome: authority.OutcomeError, Message: "Request expired"},
			want:     models.Failure("Request expired", "r"),
			wantDone: true,
		},
		{
			name:     "error without reason uses generic message",
			policy:   DefaultPolicy(),
			resp:     authority.ValidateResponse{StatusCode: http.StatusBadRequest, Outcome: authority.OutcomeUnknown},
			want:     models.Failure(models.MessageRejected, "r"),
			wantDone: true,
		},
		{
			name:   "forbidden is ambiguous pending",
			policy: DefaultPolicy(),
			resp:   authority.ValidateResponse{StatusCode: http.StatusForbidden, Outcome: authority.OutcomeError, Message: "denied"},
			want:   models.Pending(models.StepBiometricPending, models.MessageBiometricPending, "r"),
		},
		{
			name:     "forbidden is an error when not configured as ambiguous",
			policy:   Policy{AmbiguousStatusCodes: []int{http.StatusUnauthorized}},
			resp:     authority.ValidateResponse{StatusCode: http.StatusForbidden, Outcome: authority.OutcomeError, Message: "denied"},
			want:     models.Failure("denied", "r"),
			wantDone: true,
		},
		{
			name:   "anything else is default pending",
			policy: DefaultPolicy(),
			resp:   authority.ValidateResponse{StatusCode: http.StatusOK, Outcome: authority.OutcomeUnknown},
			want:   models.Pending(models.StepAwaitingBiometric, models.MessageAwaitingBiometric, "r"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, done := tt.policy.Reconcile(&tt.resp, "r")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDone, done)
			require.NoError(t, got.Validate())
		})
	}
}
