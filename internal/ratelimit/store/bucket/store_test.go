package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"pushauth/internal/ratelimit/models"
	"pushauth/pkg/platform/sentinel"
	"pushauth/pkg/testutil"
)

const (
	testLimit  = 3
	testWindow = time.Minute
)

type bucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
	Reset(ctx context.Context, key string) error
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type BucketStoreSuite struct {
	suite.Suite
	ctx   context.Context
	clock *manualClock
}

func TestBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(BucketStoreSuite))
}

func (s *BucketStoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &manualClock{now: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (s *BucketStoreSuite) exercise(st bucketStore) {
	s.Run("requests up to the limit are allowed", func() {
		var result *models.RateLimitResult
		var err error
		for i := range testLimit {
			result, err = st.Allow(s.ctx, "k:limit", testLimit, testWindow)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.Equal(testLimit-i-1, result.Remaining)
		}
		s.Equal(testLimit, result.Limit)
	})

	s.Run("request over the limit is denied with a retry hint", func() {
		result, err := st.Allow(s.ctx, "k:limit", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Equal(int(testWindow/time.Second), result.RetryAfter)
	})

	s.Run("denied hits do not extend the window", func() {
		s.clock.Advance(testWindow + time.Second)
		result, err := st.Allow(s.ctx, "k:limit", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("keys are independent", func() {
		result, err := st.Allow(s.ctx, "k:other", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})

	s.Run("reset clears the window", func() {
		for range testLimit {
			_, err := st.Allow(s.ctx, "k:reset", testLimit, testWindow)
			s.Require().NoError(err)
		}
		s.Require().NoError(st.Reset(s.ctx, "k:reset"))
		result, err := st.Allow(s.ctx, "k:reset", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

func (s *BucketStoreSuite) TestInMemory() {
	s.exercise(NewInMemoryBucketStore(WithClock(s.clock.Now)))
}

func (s *BucketStoreSuite) TestInMemory_Sweep() {
	st := NewInMemoryBucketStore(WithClock(s.clock.Now))
	_, err := st.Allow(s.ctx, "k:sweep", testLimit, testWindow)
	s.Require().NoError(err)

	s.Equal(0, st.Sweep(), "live bucket survives")
	s.clock.Advance(testWindow + time.Second)
	s.Equal(1, st.Sweep())
}

func (s *BucketStoreSuite) TestRedis() {
	_, client := testutil.NewRedis(s.T())
	s.exercise(NewRedisBucketStore(client, WithRedisClock(s.clock.Now)))
}

func (s *BucketStoreSuite) TestRedis_Unavailable() {
	mr, client := testutil.NewRedis(s.T())
	st := NewRedisBucketStore(client, WithRedisClock(s.clock.Now))
	mr.Close()

	_, err := st.Allow(s.ctx, "k:down", testLimit, testWindow)
	s.ErrorIs(err, sentinel.ErrUnavailable)
}
