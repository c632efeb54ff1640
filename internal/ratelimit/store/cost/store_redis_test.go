package cost

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"chatguard/internal/ratelimit/models"
)

// =============================================================================
// Cost Store Test Suite
// =============================================================================
// Justification for unit tests: the check-and-record script is the only place
// that guarantees totals never pass their limits under concurrency.

type CostStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *RedisStore
	ctx    context.Context
	now    time.Time
}

func TestCostStoreSuite(t *testing.T) {
	suite.Run(t, new(CostStoreSuite))
}

func (s *CostStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = NewRedis(s.client)
	s.ctx = context.Background()
	s.now = time.Date(2026, 5, 4, 10, 15, 0, 0, time.UTC)
}

func (s *CostStoreSuite) TearDownTest() {
	_ = s.client.Close()
}

func money(raw string) models.Money {
	m, err := models.ParseMoney(raw)
	if err != nil {
		panic(err)
	}
	return m
}

func (s *CostStoreSuite) check(identifier, cost string) models.CostCheck {
	return models.CostCheck{
		Identifier:       identifier,
		Cost:             money(cost),
		Lookback:         10 * time.Minute,
		Threshold:        money("1.00"),
		ThrottleDuration: 15 * time.Minute,
		DailyLimit:       money("10.00"),
		HourlyLimit:      money("5.00"),
		Now:              s.now,
	}
}

func (s *CostStoreSuite) run(c models.CostCheck) *models.CostResult {
	res, err := s.store.CheckAndRecord(s.ctx, c)
	s.Require().NoError(err)
	return res
}

func (s *CostStoreSuite) advance(d time.Duration) {
	s.now = s.now.Add(d)
	s.mr.FastForward(d)
}

func (s *CostStoreSuite) TestGlobalDailyLimitRejectsWithoutRecording() {
	dailyKey := models.CostDailyKey(s.now)
	s.Require().NoError(s.mr.Set(dailyKey, "9500000"))
	c := s.check("id_a", "0.60")
	c.HourlyLimit = money("100.00")

	res := s.run(c)
	s.Equal(models.CostGlobalLimitExceeded, res.Outcome)
	s.Equal(models.LimitScopeDaily, res.Scope)
	s.Equal(13*time.Hour+45*time.Minute, res.RetryAfter)

	total, err := s.mr.Get(dailyKey)
	s.Require().NoError(err)
	s.Equal("9500000", total, "rejected cost is not recorded")
	s.False(s.mr.Exists(models.CostThrottleKey("id_a")), "global rejection sets no throttle marker")
	s.False(s.mr.Exists(models.CostRecentKey("id_a")))
}

func (s *CostStoreSuite) TestExactlyAtLimitIsAllowed() {
	s.Require().NoError(s.mr.Set(models.CostDailyKey(s.now), "9400000"))
	c := s.check("id_a", "0.60")
	c.HourlyLimit = money("100.00")

	res := s.run(c)
	s.Equal(models.CostAllowed, res.Outcome)

	daily, _, err := s.store.GlobalTotals(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(money("10.00"), daily)
}

func (s *CostStoreSuite) TestHourlyLimit() {
	s.Require().NoError(s.mr.Set(models.CostHourlyKey(s.now), "4990000"))
	res := s.run(s.check("id_a", "0.02"))
	s.Equal(models.CostGlobalLimitExceeded, res.Outcome)
	s.Equal(models.LimitScopeHourly, res.Scope)
	s.Equal(45*time.Minute, res.RetryAfter)
}

func (s *CostStoreSuite) TestHighCostThrottle() {
	s.Equal(models.CostAllowed, s.run(s.check("id_a", "0.40")).Outcome)
	res := s.run(s.check("id_a", "0.60"))
	s.Equal(models.CostAllowed, res.Outcome, "recent sum equal to the threshold is allowed")
	s.Equal(money("1.00"), res.RecentCost)

	res = s.run(s.check("id_a", "0.01"))
	s.Equal(models.CostThrottled, res.Outcome)
	s.True(res.ThrottleApplied)
	s.Equal(15*time.Minute, res.RetryAfter)

	s.advance(5 * time.Minute)
	res = s.run(s.check("id_a", "0.01"))
	s.Equal(models.CostThrottled, res.Outcome)
	s.False(res.ThrottleApplied, "an existing marker is reported, not reapplied")
	s.Equal(10*time.Minute, res.RetryAfter)

	s.run(s.check("id_b", "0.50"))
	daily, _, err := s.store.GlobalTotals(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(money("1.50"), daily, "throttled requests are not recorded")

	s.advance(10*time.Minute + time.Second)
	s.Equal(models.CostAllowed, s.run(s.check("id_a", "0.01")).Outcome, "marker expiry is the only way out")
}

func (s *CostStoreSuite) TestRecentWindowSlides() {
	s.run(s.check("id_a", "0.90"))
	s.advance(6 * time.Minute)
	s.Equal(models.CostThrottled, s.run(s.check("id_a", "0.20")).Outcome)

	s.advance(15*time.Minute + time.Second)
	res := s.run(s.check("id_a", "0.20"))
	s.Equal(models.CostAllowed, res.Outcome, "entries older than the lookback no longer count")
	s.Equal(money("0.20"), res.RecentCost)
}

func (s *CostStoreSuite) TestConcurrentCallsNeverExceedDailyLimit() {
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := s.check(fmt.Sprintf("id_%d", i), "0.10")
			c.DailyLimit = money("5.00")
			c.HourlyLimit = money("100.00")
			res, err := s.store.CheckAndRecord(s.ctx, c)
			if err == nil && res.Allowed() {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(50), allowed.Load())
	daily, hourly, err := s.store.GlobalTotals(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(money("5.00"), daily)
	s.Equal(money("5.00"), hourly)
}

func (s *CostStoreSuite) TestConcurrentCallsFromOneCallerStopAtThreshold() {
	var allowed, throttled atomic.Int32
	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := s.check("id_burst", "0.10")
			c.DailyLimit = money("100.00")
			c.HourlyLimit = money("100.00")
			res, err := s.store.CheckAndRecord(s.ctx, c)
			if err != nil {
				return
			}
			switch res.Outcome {
			case models.CostAllowed:
				allowed.Add(1)
			case models.CostThrottled:
				throttled.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(10), allowed.Load())
	s.Equal(int32(90), throttled.Load())
	state, err := s.store.Inspect(s.ctx, "id_burst", 10*time.Minute, s.now)
	s.Require().NoError(err)
	s.Equal(money("1.00"), state.RecentCost)
	s.True(state.Throttled)
	daily, _, err := s.store.GlobalTotals(s.ctx, s.now)
	s.Require().NoError(err)
	s.Equal(money("1.00"), daily)
}

func (s *CostStoreSuite) TestCalendarRollover() {
	s.now = time.Date(2026, 5, 4, 23, 59, 30, 0, time.UTC)
	s.Require().NoError(s.mr.Set(models.CostDailyKey(s.now), "10000000"))
	c := s.check("id_a", "0.01")
	res := s.run(c)
	s.Equal(models.CostGlobalLimitExceeded, res.Outcome)
	s.Equal(30*time.Second, res.RetryAfter)

	s.advance(31 * time.Second)
	s.Equal(models.CostAllowed, s.run(s.check("id_a", "0.01")).Outcome, "a new UTC day starts a new accumulator")
}

func (s *CostStoreSuite) TestInspect() {
	s.run(s.check("id_a", "0.30"))
	s.run(s.check("id_a", "0.25"))
	s.run(s.check("id_a", "0.50"))

	state, err := s.store.Inspect(s.ctx, "id_a", 10*time.Minute, s.now)
	s.Require().NoError(err)
	s.True(state.Throttled)
	s.Equal(15*time.Minute, state.ThrottleRemaining)
	s.Equal(money("0.55"), state.RecentCost)
}
