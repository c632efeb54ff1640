package challenge

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"chatguard/internal/ratelimit/models"
)

// =============================================================================
// Challenge Store Test Suite
// =============================================================================
// Justification for unit tests: capacity accounting and single-use consumption
// live entirely in the scripts.

type ChallengeStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	store  *RedisStore
	ctx    context.Context
}

func TestChallengeStoreSuite(t *testing.T) {
	suite.Run(t, new(ChallengeStoreSuite))
}

func (s *ChallengeStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = NewRedis(s.client)
	s.ctx = context.Background()
}

func (s *ChallengeStoreSuite) TearDownTest() {
	_ = s.client.Close()
}

func record(identifier string) models.ChallengeRecord {
	return models.ChallengeRecord{TokenID: uuid.NewString(), Identifier: identifier}
}

func (s *ChallengeStoreSuite) TestCapacity() {
	for i := 1; i <= 15; i++ {
		issued, active, err := s.store.Issue(s.ctx, record("id_a"), 5*time.Minute, 15)
		s.Require().NoError(err)
		s.Require().True(issued, "challenge %d", i)
		s.Equal(i, active)
	}

	issued, active, err := s.store.Issue(s.ctx, record("id_a"), 5*time.Minute, 15)
	s.Require().NoError(err)
	s.False(issued, "16th live challenge is rejected")
	s.Equal(15, active)

	other, _, err := s.store.Issue(s.ctx, record("id_b"), 5*time.Minute, 15)
	s.Require().NoError(err)
	s.True(other, "capacity is per identifier")
}

func (s *ChallengeStoreSuite) TestExpiredChallengesFreeCapacity() {
	for range 3 {
		_, _, err := s.store.Issue(s.ctx, record("id_a"), time.Minute, 3)
		s.Require().NoError(err)
	}
	issued, _, err := s.store.Issue(s.ctx, record("id_a"), time.Minute, 3)
	s.Require().NoError(err)
	s.False(issued)

	s.mr.FastForward(61 * time.Second)

	issued, active, err := s.store.Issue(s.ctx, record("id_a"), time.Minute, 3)
	s.Require().NoError(err)
	s.True(issued)
	s.Equal(1, active)
}

func (s *ChallengeStoreSuite) TestConsumedChallengesFreeCapacity() {
	rec := record("id_a")
	_, _, err := s.store.Issue(s.ctx, rec, time.Minute, 1)
	s.Require().NoError(err)

	owner, found, err := s.store.Consume(s.ctx, rec.TokenID, "id_a")
	s.Require().NoError(err)
	s.True(found)
	s.Equal("id_a", owner)

	count, err := s.store.ActiveCount(s.ctx, "id_a")
	s.Require().NoError(err)
	s.Zero(count)

	issued, _, err := s.store.Issue(s.ctx, record("id_a"), time.Minute, 1)
	s.Require().NoError(err)
	s.True(issued)
}

func (s *ChallengeStoreSuite) TestConsumeIsSingleUse() {
	rec := record("id_a")
	_, _, err := s.store.Issue(s.ctx, rec, time.Minute, 5)
	s.Require().NoError(err)

	var valid atomic.Int32
	var wg sync.WaitGroup
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, found, err := s.store.Consume(s.ctx, rec.TokenID, "id_a")
			if err == nil && found {
				valid.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), valid.Load())
}

func (s *ChallengeStoreSuite) TestConsumeUnknownAndExpired() {
	_, found, err := s.store.Consume(s.ctx, uuid.NewString(), "id_a")
	s.Require().NoError(err)
	s.False(found)

	rec := record("id_a")
	_, _, err = s.store.Issue(s.ctx, rec, time.Minute, 5)
	s.Require().NoError(err)
	s.mr.FastForward(61 * time.Second)

	_, found, err = s.store.Consume(s.ctx, rec.TokenID, "id_a")
	s.Require().NoError(err)
	s.False(found)
}

func (s *ChallengeStoreSuite) TestActiveCountIgnoresExpired() {
	for i := range 4 {
		ttl := time.Duration(4-i) * time.Minute
		_, _, err := s.store.Issue(s.ctx, models.ChallengeRecord{TokenID: fmt.Sprintf("tok-%d", i), Identifier: "id_a"}, ttl, 10)
		s.Require().NoError(err)
	}
	s.mr.FastForward(150 * time.Second)

	count, err := s.store.ActiveCount(s.ctx, "id_a")
	s.Require().NoError(err)
	s.Equal(2, count)
}
