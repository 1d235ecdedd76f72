package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) and the HTTP layer maps them onto status codes:
// - ErrNotFound: session does not exist or has been reaped
// - ErrExpired: snapshot TTL elapsed
// - ErrInvalidState: session in wrong state for the requested operation
// - ErrUnavailable: store or upstream temporarily unavailable
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrExpired      = errors.New("expired")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
