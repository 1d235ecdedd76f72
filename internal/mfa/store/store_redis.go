package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"pushauth/internal/mfa/models"
	"pushauth/pkg/platform/sentinel"
)

var storeDurationMs = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "pushauth_session_store_duration_ms",
	Help:    "Latency of Redis session snapshot operations in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
}, []string{"op"})

const sessionKeyPrefix = "mfa:session:"

// RedisStore shares snapshots between instances. Expiry is delegated to
// Redis key TTLs.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, snapshot models.SessionSnapshot, ttl time.Duration) error {
	defer observe("save", time.Now())

	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", snapshot.ID, err)
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+snapshot.ID, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save session %s: %w", snapshot.ID, errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.SessionSnapshot, error) {
	defer observe("get", time.Now())

	payload, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %s: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, errors.Join(sentinel.ErrUnavailable, err))
	}

	var snapshot models.SessionSnapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &snapshot, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	defer observe("delete", time.Now())
	return s.client.Del(ctx, sessionKeyPrefix+id).Err()
}

func observe(op string, start time.Time) {
	storeDurationMs.WithLabelValues(op).Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
