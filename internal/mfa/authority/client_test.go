package authority

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedCall struct {
	Body   map[string]string
	Header http.Header
}

func newAuthorityServer(t *testing.T, status int, body string, calls *[]recordedCall) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var decoded map[string]string
		require.NoError(t, json.Unmarshal(raw, &decoded))
		if calls != nil {
			*calls = append(*calls, recordedCall{Body: decoded, Header: r.Header.Clone()})
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewHTTPClient_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTPClient("  ")
	require.Error(t, err)
}

func TestStart(t *testing.T) {
	ctx := context.Background()

	t.Run("sends start-auth with mobile and api key", func(t *testing.T) {
		var calls []recordedCall
		srv := newAuthorityServer(t, http.StatusOK, `{"request_id":"req-123"}`, &calls)
		client, err := NewHTTPClient(srv.URL, WithAPIKey("secret"))
		require.NoError(t, err)

		requestID, err := client.Start(ctx, "+15551234567")
		require.NoError(t, err)
		assert.Equal(t, "req-123", requestID)
		require.Len(t, calls, 1)
		assert.Equal(t, ActionStart, calls[0].Body["action"])
		assert.Equal(t, "+15551234567", calls[0].Body["mobile"])
		assert.Equal(t, "Bearer secret", calls[0].Header.Get("Authorization"))
	})

	t.Run("reads nested request id", func(t *testing.T) {
		srv := newAuthorityServer(t, http.StatusOK, `{"data":{"requestId":"nested-1"}}`, nil)
		client, err := NewHTTPClient(srv.URL)
		require.NoError(t, err)

		requestID, err := client.Start(ctx, "+15551234567")
		require.NoError(t, err)
		assert.Equal(t, "nested-1", requestID)
	})

	t.Run("missing request id is bad data", func(t *testing.T) {
		srv := newAuthorityServer(t, http.StatusOK, `{"ok":true}`, nil)
		client, err := NewHTTPClient(srv.URL)
		require.NoError(t, err)

		_, err = client.Start(ctx, "+15551234567")
		require.Error(t, err)
		assert.Equal(t, ErrorBadData, CategoryOf(err))
		assert.False(t, IsRetryable(err))
	})

	t.Run("error body on 200 is rejected", func(t *testing.T) {
		srv := newAuthorityServer(t, http.StatusOK, `{"error":"unknown subscriber"}`, nil)
		client, err := NewHTTPClient(srv.URL)
		require.NoError(t, err)

		_, err = client.Start(ctx, "+15551234567")
		require.Error(t, err)
		assert.Equal(t, ErrorRejected, CategoryOf(err))
		assert.Contains(t, err.Error(), "unknown subscriber")
	})

	t.Run("5xx is a retryable server error", func(t *testing.T) {
		srv := newAuthorityServer(t, http.StatusBadGateway, `{}`, nil)
		client, err := NewHTTPClient(srv.URL)
		require.NoError(t, err)

		_, err = client.Start(ctx, "+15551234567")
		require.Error(t, err)
		assert.Equal(t, ErrorServer, CategoryOf(err))
		assert.True(t, IsRetryable(err))
	})

	t.Run("unreachable endpoint is a transport error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		client, err := NewHTTPClient(url, WithTimeout(time.Second))
		require.NoError(t, err)

		_, err = client.Start(ctx, "+15551234567")
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
	})
}

func TestValidate(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		status      int
		body        string
		wantOutcome Outcome
		wantMessage string
	}{
		{"success status", http.StatusOK, `{"status":"success","message":"ok"}`, OutcomeSuccess, "ok"},
		{"nested approved", http.StatusOK, `{"data":{"status":"approved"}}`, OutcomeSuccess, ""},
		{"boolean success", http.StatusOK, `{"success":true}`, OutcomeSuccess, ""},
		{"explicit failure", http.StatusOK, `{"status":"denied","message":"Biometric mismatch"}`, OutcomeError, "Biometric mismatch"},
		{"error object", http.StatusBadRequest, `{"error":{"detail":"Request expired"}}`, OutcomeError, "Request expired"},
		{"pending", http.StatusOK, `{"status":"pending"}`, OutcomePending, ""},
		{"ambiguous forbidden", http.StatusForbidden, `{"error":{"detail":"Biometric authentication not completed"}}`, OutcomeError, "Biometric authentication not completed"},
		{"non json body", http.StatusOK, `not json`, OutcomeUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls []recordedCall
			srv := newAuthorityServer(t, tt.status, tt.body, &calls)
			client, err := NewHTTPClient(srv.URL)
			require.NoError(t, err)

			resp, err := client.Validate(ctx, "+15551234567", "req-9")
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.wantOutcome, resp.Outcome)
			assert.Equal(t, tt.wantMessage, resp.Message)
			require.Len(t, calls, 1)
			assert.Equal(t, ActionValidate, calls[0].Body["action"])
			assert.Equal(t, "req-9", calls[0].Body["request_id"])
		})
	}

	t.Run("5xx surfaces as retryable error", func(t *testing.T) {
		srv := newAuthorityServer(t, http.StatusServiceUnavailable, `{}`, nil)
		client, err := NewHTTPClient(srv.URL)
		require.NoError(t, err)

		_, err = client.Validate(ctx, "+15551234567", "req-9")
		require.Error(t, err)
		assert.True(t, IsRetryable(err))
	})
}

func TestAuthorityError(t *testing.T) {
	err := newError(ErrorRejected, ActionStart, http.StatusUnauthorized, "bad key", assert.AnError)
	assert.Contains(t, err.Error(), "status 401")
	assert.ErrorIs(t, err, assert.AnError)
	assert.False(t, err.Retryable)
	assert.Equal(t, ErrorTransport, CategoryOf(assert.AnError))
	assert.True(t, IsRetryable(assert.AnError), "foreign errors are treated as transport failures")
	assert.False(t, IsRetryable(nil))
}
