package window

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
)

// =============================================================================
// Window Store Test Suite
// =============================================================================
// Justification for unit tests: the check script owns counting, boundary
// comparison and ban escalation. miniredis executes the script and lets the
// tests move store time forward deterministically.

type WindowStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *RedisStore
	ctx    context.Context
}

func TestWindowStoreSuite(t *testing.T) {
	suite.Run(t, new(WindowStoreSuite))
}

func (s *WindowStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = NewRedis(s.client)
	s.ctx = context.Background()
}

func (s *WindowStoreSuite) TearDownTest() {
	_ = s.client.Close()
}

var defaultTiers = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}

func identifierCheck(id string, perMinute int, tiers []time.Duration, banAfter int) models.WindowCheck {
	return models.WindowCheck{
		Scope:      models.ScopeIdentifier,
		Identifier: id,
		Limits: []models.WindowLimit{
			{Window: time.Minute, Limit: perMinute},
			{Window: time.Hour, Limit: 10_000},
		},
		BanTiers: tiers,
		BanAfter: banAfter,
		Cooldown: 24 * time.Hour,
	}
}

func (s *WindowStoreSuite) check(c models.WindowCheck) *models.RateLimitResult {
	res, err := s.store.Check(s.ctx, c)
	s.Require().NoError(err)
	return res
}

func (s *WindowStoreSuite) TestLimitBoundary() {
	c := identifierCheck("id_a", 60, defaultTiers, 1)

	for i := 1; i <= 60; i++ {
		res := s.check(c)
		s.Require().Equal(models.RateLimitAllowed, res.Outcome, "request %d", i)
		s.Equal(60-i, res.Remaining)
	}

	res := s.check(c)
	s.Equal(models.RateLimitLimited, res.Outcome, "request 61 exceeds the window")
	s.True(res.BanApplied)
	s.Equal(60*time.Second, res.RetryAfter)
	s.Equal(1, res.ViolationCount)
}

func (s *WindowStoreSuite) TestProgressiveBans() {
	c := identifierCheck("id_b", 1, defaultTiers, 1)

	for i, want := range []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second, 900 * time.Second} {
		s.Require().Equal(models.RateLimitAllowed, s.check(c).Outcome, "round %d first request", i)

		res := s.check(c)
		s.Require().Equal(models.RateLimitLimited, res.Outcome)
		s.Equal(want, res.RetryAfter, "violation %d", i+1)
		s.Equal(i+1, res.ViolationCount)

		banned := s.check(c)
		s.Equal(models.RateLimitBanned, banned.Outcome)
		s.Equal(i+1, banned.ViolationCount)
		s.LessOrEqual(banned.RetryAfter, want)

		s.mr.FastForward(want + time.Second)
	}
}

func (s *WindowStoreSuite) TestBanDoesNotTouchCounters() {
	c := identifierCheck("id_c", 1, defaultTiers, 1)
	s.check(c)
	s.check(c)
	before := s.mr.Exists(models.WindowKey(models.ScopeIdentifier, "id_c", time.Hour))
	s.Require().True(before)
	count, err := s.mr.Get(models.WindowKey(models.ScopeIdentifier, "id_c", time.Hour))
	s.Require().NoError(err)

	for range 5 {
		s.Equal(models.RateLimitBanned, s.check(c).Outcome)
	}

	after, err := s.mr.Get(models.WindowKey(models.ScopeIdentifier, "id_c", time.Hour))
	s.Require().NoError(err)
	s.Equal(count, after)
}

func (s *WindowStoreSuite) TestViolationsResetAfterCooldown() {
	c := identifierCheck("id_d", 1, defaultTiers, 1)
	c.Cooldown = 30 * time.Minute

	s.check(c)
	s.Equal(60*time.Second, s.check(c).RetryAfter)
	s.mr.FastForward(61 * time.Second)
	s.check(c)
	s.Equal(300*time.Second, s.check(c).RetryAfter)

	s.mr.FastForward(36 * time.Minute)

	s.Equal(models.RateLimitAllowed, s.check(c).Outcome)
	res := s.check(c)
	s.Equal(60*time.Second, res.RetryAfter, "quiet period longer than the ban plus cooldown restarts at the first tier")
	s.Equal(1, res.ViolationCount)
}

func (s *WindowStoreSuite) TestViolationsOutliveBansLongerThanCooldown() {
	c := identifierCheck("id_dd", 1, defaultTiers, 1)
	c.Cooldown = 2 * time.Minute

	for i, want := range []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute} {
		s.Require().Equal(models.RateLimitAllowed, s.check(c).Outcome, "round %d first request", i)
		res := s.check(c)
		s.Require().True(res.BanApplied)
		s.Equal(want, res.RetryAfter, "violation %d", i+1)
		s.Equal(i+1, res.ViolationCount)

		ttl := s.mr.TTL(models.ViolationKey(models.ScopeIdentifier, "id_dd"))
		s.Equal(want+c.Cooldown, ttl)

		s.mr.FastForward(want + time.Second)
	}
}

func (s *WindowStoreSuite) TestBanThreshold() {
	c := identifierCheck("id_e", 1, defaultTiers, 3)
	s.check(c)

	for i := 1; i <= 2; i++ {
		res := s.check(c)
		s.Equal(models.RateLimitLimited, res.Outcome)
		s.False(res.BanApplied, "violation %d is below the ban threshold", i)
		s.Greater(res.RetryAfter, time.Duration(0))
		s.LessOrEqual(res.RetryAfter, time.Minute)
	}

	res := s.check(c)
	s.True(res.BanApplied)
	s.Equal(60*time.Second, res.RetryAfter)
	s.Equal(models.RateLimitBanned, s.check(c).Outcome)
}

func (s *WindowStoreSuite) TestScopeWithoutTiersNeverBans() {
	c := models.WindowCheck{
		Scope:      models.ScopeGlobal,
		Identifier: models.GlobalIdentifier,
		Limits:     []models.WindowLimit{{Window: time.Minute, Limit: 2}},
	}
	s.check(c)
	s.check(c)
	for range 3 {
		res := s.check(c)
		s.Equal(models.RateLimitLimited, res.Outcome)
		s.False(res.BanApplied)
		s.Zero(res.ViolationCount)
	}
	s.False(s.mr.Exists(models.BanKey(models.ScopeGlobal, models.GlobalIdentifier)))
}

func (s *WindowStoreSuite) TestWindowExpiry() {
	c := identifierCheck("id_f", 2, nil, 0)
	s.check(c)
	s.check(c)
	s.Equal(models.RateLimitLimited, s.check(c).Outcome)

	s.mr.FastForward(61 * time.Second)
	res := s.check(c)
	s.Equal(models.RateLimitAllowed, res.Outcome)
	s.Equal(1, res.Remaining)
}

func (s *WindowStoreSuite) TestConcurrentChecksAreExact() {
	c := identifierCheck("id_g", 10, nil, 0)
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.store.Check(s.ctx, c)
			if err == nil && res.Allowed() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(10), allowed.Load())
}

func (s *WindowStoreSuite) TestInspectAndClearBan() {
	c := identifierCheck("id_h", 1, defaultTiers, 1)
	s.check(c)
	s.check(c)

	state, err := s.store.Inspect(s.ctx, models.ScopeIdentifier, "id_h", []time.Duration{time.Minute, time.Hour})
	s.Require().NoError(err)
	s.True(state.Banned)
	s.Equal(1, state.ViolationCount)
	s.Equal(2, state.Counts[time.Minute.String()])

	cleared, err := s.store.ClearBan(s.ctx, models.ScopeIdentifier, "id_h")
	s.Require().NoError(err)
	s.True(cleared)

	state, err = s.store.Inspect(s.ctx, models.ScopeIdentifier, "id_h", []time.Duration{time.Minute})
	s.Require().NoError(err)
	s.False(state.Banned)
	s.Zero(state.ViolationCount)

	cleared, err = s.store.ClearBan(s.ctx, models.ScopeIdentifier, "id_h")
	s.Require().NoError(err)
	s.False(cleared)
}

func (s *WindowStoreSuite) TestStoreUnavailable() {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()

	_, err := NewRedis(client).Check(s.ctx, identifierCheck("id_i", 1, nil, 0))
	s.Require().Error(err)
	s.ErrorIs(err, sentinel.ErrUnavailable)
}
