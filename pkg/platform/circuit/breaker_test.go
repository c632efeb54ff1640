package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type BreakerSuite struct {
	suite.Suite
	now     time.Time
	breaker *Breaker
}

func TestBreakerSuite(t *testing.T) {
	suite.Run(t, new(BreakerSuite))
}

func (s *BreakerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	s.breaker = New("window",
		WithFailureThreshold(3),
		WithSuccessThreshold(2),
		WithCooldown(5*time.Second),
		WithClock(func() time.Time { return s.now }),
	)
}

func (s *BreakerSuite) open() {
	for range 3 {
		s.breaker.RecordFailure()
	}
	s.Require().True(s.breaker.IsOpen())
}

func (s *BreakerSuite) TestStartsClosed() {
	s.Equal("window", s.breaker.Name())
	s.Equal(StateClosed, s.breaker.State())
	s.Equal("closed", s.breaker.State().String())
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestOpensOnConsecutiveFailures() {
	for i := 1; i < 3; i++ {
		useFallback, change := s.breaker.RecordFailure()
		s.False(useFallback, "failure %d", i)
		s.False(change.Opened)
	}

	useFallback, change := s.breaker.RecordFailure()
	s.True(useFallback)
	s.True(change.Opened)
	s.Equal("open", s.breaker.State().String())

	useFallback, change = s.breaker.RecordFailure()
	s.True(useFallback, "stays open")
	s.False(change.Opened, "opens once")
}

func (s *BreakerSuite) TestSuccessClearsFailureStreak() {
	s.breaker.RecordFailure()
	s.breaker.RecordFailure()
	usePrimary, _ := s.breaker.RecordSuccess()
	s.True(usePrimary)

	s.breaker.RecordFailure()
	s.breaker.RecordFailure()
	s.False(s.breaker.IsOpen(), "streak restarted after the success")
}

func (s *BreakerSuite) TestOpenBreakerAllowsOneTrialPerCooldown() {
	s.open()
	s.False(s.breaker.Allow(), "no trial before the cooldown")

	s.now = s.now.Add(5 * time.Second)
	s.True(s.breaker.Allow())
	s.False(s.breaker.Allow(), "second caller in the same period is refused")

	s.now = s.now.Add(5 * time.Second)
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestClosesAfterTrialSuccesses() {
	s.open()

	usePrimary, change := s.breaker.RecordSuccess()
	s.False(usePrimary)
	s.False(change.Closed)

	usePrimary, change = s.breaker.RecordSuccess()
	s.True(usePrimary)
	s.True(change.Closed)
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestFailedTrialResetsSuccessCount() {
	s.open()
	s.breaker.RecordSuccess()
	s.breaker.RecordFailure()
	s.breaker.RecordSuccess()
	s.True(s.breaker.IsOpen(), "needs two successes in a row")
}

func (s *BreakerSuite) TestReset() {
	s.open()
	s.breaker.Reset()
	s.False(s.breaker.IsOpen())
	s.True(s.breaker.Allow())
}

func (s *BreakerSuite) TestIgnoresNonPositiveOptions() {
	b := New("defaults", WithFailureThreshold(0), WithSuccessThreshold(-1), WithCooldown(0), WithClock(nil))
	for range 4 {
		b.RecordFailure()
	}
	s.False(b.IsOpen(), "default threshold is five")
	b.RecordFailure()
	s.True(b.IsOpen())
}
