package authority

import (
	"errors"
	"fmt"
)

// ErrorCategory is the normalized failure taxonomy for authority calls.
type ErrorCategory string

const (
	// ErrorTransport covers dial failures, resets and other I/O errors.
	ErrorTransport ErrorCategory = "transport"

	// ErrorTimeout indicates the authority took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorServer indicates a 5xx response from the authority.
	ErrorServer ErrorCategory = "server"

	// ErrorRejected indicates the authority refused the request.
	ErrorRejected ErrorCategory = "rejected"

	// ErrorBadData indicates an unreadable or incomplete response body.
	ErrorBadData ErrorCategory = "bad_data"
)

// AuthorityError wraps authority failures with a normalized category.
type AuthorityError struct {
	Category   ErrorCategory
	Op         string
	StatusCode int
	Message    string
	Underlying error
	Retryable  bool
}

func (e *AuthorityError) Error() string {
	msg := fmt.Sprintf("authority %s [%s]", e.Op, e.Category)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Underlying != nil {
		msg += ": " + e.Underlying.Error()
	}
	return msg
}

func (e *AuthorityError) Unwrap() error {
	return e.Underlying
}

func newError(category ErrorCategory, op string, statusCode int, message string, underlying error) *AuthorityError {
	return &AuthorityError{
		Category:   category,
		Op:         op,
		StatusCode: statusCode,
		Message:    message,
		Underlying: underlying,
		Retryable:  category == ErrorTransport || category == ErrorTimeout || category == ErrorServer,
	}
}

// IsRetryable reports whether err is a transient authority failure. Foreign
// errors count as transport failures, matching CategoryOf.
func IsRetryable(err error) bool {
	var ae *AuthorityError
	if errors.As(err, &ae) {
		return ae.Retryable
	}
	return err != nil
}

// CategoryOf extracts the category, defaulting to transport for foreign errors.
func CategoryOf(err error) ErrorCategory {
	var ae *AuthorityError
	if errors.As(err, &ae) {
		return ae.Category
	}
	return ErrorTransport
}
