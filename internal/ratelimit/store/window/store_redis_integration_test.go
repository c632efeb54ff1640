//go:build integration

package window

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/testutil/containers"
)

// Runs the check script on a real Redis so key expiry and script atomicity
// are the server's, not miniredis's.
type WindowRedisIntegrationSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *RedisStore
	ctx   context.Context
}

func TestWindowRedisIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(WindowRedisIntegrationSuite))
}

func (s *WindowRedisIntegrationSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = NewRedis(s.redis.Client.Client)
}

func (s *WindowRedisIntegrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *WindowRedisIntegrationSuite) TestConcurrentChecksAreExact() {
	c := identifierCheck("id_real", 25, defaultTiers, 1)
	var allowed, banned atomic.Int32
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Check(s.ctx, c)
			if err != nil {
				return
			}
			switch res.Outcome {
			case models.RateLimitAllowed:
				allowed.Add(1)
			case models.RateLimitBanned:
				banned.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(25), allowed.Load())
	s.Positive(banned.Load(), "requests after the first violation hit the ban")

	state, err := s.store.Inspect(s.ctx, models.ScopeIdentifier, "id_real", []time.Duration{time.Minute})
	s.Require().NoError(err)
	s.True(state.Banned)
	s.Equal(1, state.ViolationCount)
}

func (s *WindowRedisIntegrationSuite) TestWindowKeysExpire() {
	s.Require().Equal(models.RateLimitAllowed, mustCheck(s, identifierCheck("id_ttl", 5, nil, 0)).Outcome)

	ttl, err := s.redis.Client.PTTL(s.ctx, models.WindowKey(models.ScopeIdentifier, "id_ttl", time.Minute)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 50*time.Second)
	s.LessOrEqual(ttl, time.Minute)
}

func mustCheck(s *WindowRedisIntegrationSuite, c models.WindowCheck) *models.RateLimitResult {
	res, err := s.store.Check(s.ctx, c)
	s.Require().NoError(err)
	return res
}
