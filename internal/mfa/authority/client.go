// Package authority talks to the remote iVALT verification authority.
//
// The authority exposes one JSON endpoint that multiplexes two actions:
// "start-auth" sends a biometric push to a phone and returns a request id,
// "validate" reports the state of that request. Response shapes vary between
// deployments, so fields are read leniently with gjson.
package authority

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	ActionStart    = "start-auth"
	ActionValidate = "validate"

	tracerName      = "pushauth/internal/mfa/authority"
	maxResponseSize = 1 << 20
)

// Outcome is the status indicator read from a validate response body.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomePending Outcome = "pending"
	OutcomeUnknown Outcome = "unknown"
)

// ValidateResponse is the raw validate answer. Any response with a status
// code below 500 is returned here, leaving classification to the caller.
type ValidateResponse struct {
	StatusCode int
	Outcome    Outcome
	Message    string
	Body       []byte
}

//go:generate mockgen -source=client.go -destination=mocks/mocks.go -package=mocks Authority

// Authority is the opaque RPC surface the handshake engine depends on.
type Authority interface {
	Start(ctx context.Context, mobile string) (string, error)
	Validate(ctx context.Context, mobile, requestID string) (*ValidateResponse, error)
}

// HTTPClient is the production Authority.
type HTTPClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	tracer     trace.Tracer
}

type Option func(*HTTPClient)

func WithAPIKey(key string) Option {
	return func(c *HTTPClient) {
		c.apiKey = key
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *HTTPClient) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

func NewHTTPClient(endpoint string, opts ...Option) (*HTTPClient, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("authority endpoint is required")
	}
	c := &HTTPClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start asks the authority to push a biometric challenge to mobile.
func (c *HTTPClient) Start(ctx context.Context, mobile string) (string, error) {
	ctx, span := c.tracer.Start(ctx, "authority.start", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := buildBody("action", ActionStart, "mobile", mobile)
	if err != nil {
		return "", c.fail(span, newError(ErrorBadData, ActionStart, 0, "encode request", err))
	}

	status, payload, err := c.post(ctx, ActionStart, body)
	if err != nil {
		return "", c.fail(span, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if status < 200 || status >= 300 {
		category := ErrorRejected
		if status >= 500 {
			category = ErrorServer
		}
		return "", c.fail(span, newError(category, ActionStart, status, messageOf(payload), nil))
	}
	if outcomeOf(payload) == OutcomeError {
		return "", c.fail(span, newError(ErrorRejected, ActionStart, status, messageOf(payload), nil))
	}

	requestID := firstString(payload, "request_id", "requestId", "data.request_id", "data.requestId", "id")
	if requestID == "" {
		return "", c.fail(span, newError(ErrorBadData, ActionStart, status, "response carries no request id", nil))
	}
	return requestID, nil
}

// Validate queries the state of requestID. Transport failures and 5xx
// responses come back as retryable *AuthorityError values.
func (c *HTTPClient) Validate(ctx context.Context, mobile, requestID string) (*ValidateResponse, error) {
	ctx, span := c.tracer.Start(ctx, "authority.validate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("mfa.request_id", requestID)),
	)
	defer span.End()

	body, err := buildBody("action", ActionValidate, "mobile", mobile, "request_id", requestID)
	if err != nil {
		return nil, c.fail(span, newError(ErrorBadData, ActionValidate, 0, "encode request", err))
	}

	status, payload, err := c.post(ctx, ActionValidate, body)
	if err != nil {
		return nil, c.fail(span, err)
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if status >= 500 {
		return nil, c.fail(span, newError(ErrorServer, ActionValidate, status, messageOf(payload), nil))
	}
	resp := &ValidateResponse{
		StatusCode: status,
		Outcome:    outcomeOf(payload),
		Message:    messageOf(payload),
		Body:       payload,
	}
	span.SetAttributes(attribute.String("mfa.outcome", string(resp.Outcome)))
	return resp, nil
}

func (c *HTTPClient) post(ctx context.Context, op string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, newError(ErrorBadData, op, 0, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return 0, nil, newError(ErrorTimeout, op, 0, "", err)
		}
		return 0, nil, newError(ErrorTransport, op, 0, "", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, newError(ErrorTransport, op, resp.StatusCode, "read response", err)
	}
	return resp.StatusCode, payload, nil
}

func (c *HTTPClient) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(CategoryOf(err)))
	return err
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// buildBody encodes alternating key/value pairs as a flat JSON object,
// keeping the given key order.
func buildBody(kv ...string) ([]byte, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("odd number of body fields")
	}
	body := []byte(`{}`)
	for i := 0; i < len(kv); i += 2 {
		var err error
		if body, err = sjson.SetBytes(body, kv[i], kv[i+1]); err != nil {
			return nil, err
		}
	}
	return body, nil
}

func outcomeOf(payload []byte) Outcome {
	if !gjson.ValidBytes(payload) {
		return OutcomeUnknown
	}
	status := strings.ToLower(firstString(payload, "status", "data.status", "result.status"))
	switch status {
	case "success", "approved", "verified", "authenticated", "completed":
		return OutcomeSuccess
	case "error", "failed", "failure", "rejected", "denied", "expired", "cancelled", "canceled":
		return OutcomeError
	case "pending", "waiting", "in_progress", "processing":
		return OutcomePending
	}
	if ok := gjson.GetBytes(payload, "success"); ok.Exists() && ok.Type == gjson.True {
		return OutcomeSuccess
	}
	if e := gjson.GetBytes(payload, "error"); e.Exists() && e.Type != gjson.Null && e.Type != gjson.False {
		return OutcomeError
	}
	return OutcomeUnknown
}

func messageOf(payload []byte) string {
	if !gjson.ValidBytes(payload) {
		return ""
	}
	return firstString(payload,
		"message", "data.message", "error.detail", "error.message", "error", "detail",
	)
}

func firstString(payload []byte, paths ...string) string {
	for _, path := range paths {
		r := gjson.GetBytes(payload, path)
		if r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return strings.TrimSpace(r.Str)
		}
	}
	return ""
}
