// Package store keeps session snapshots so GET and the event stream can be
// served after a handshake settles, and across instances when Redis backs it.
package store

import (
	"context"
	"time"

	"pushauth/internal/mfa/models"
)

// Store persists session snapshots with a TTL. Get returns
// sentinel.ErrNotFound for unknown or expired sessions.
type Store interface {
	Save(ctx context.Context, snapshot models.SessionSnapshot, ttl time.Duration) error
	Get(ctx context.Context, id string) (*models.SessionSnapshot, error)
	Delete(ctx context.Context, id string) error
}
