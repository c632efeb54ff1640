//go:build integration

package allowlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
	"chatguard/pkg/requestcontext"
	"chatguard/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *PostgresStore
	now      time.Time
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = NewPostgres(s.postgres.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "rate_limit_allowlist"))
	s.now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *PostgresStoreSuite) entry(ip string, expiresAt *time.Time) *models.AllowlistEntry {
	e, err := models.NewAllowlistEntry(ip, "load test", "ops", expiresAt, s.now)
	s.Require().NoError(err)
	return e
}

func (s *PostgresStoreSuite) TestAddAndLookup() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry("203.0.113.7", nil)))

	ok, err := s.store.IsAllowlisted(s.ctx, "203.0.113.7")
	s.Require().NoError(err)
	s.True(ok)

	ok, err = s.store.IsAllowlisted(s.ctx, "203.0.113.8")
	s.Require().NoError(err)
	s.False(ok)
}

func (s *PostgresStoreSuite) TestAddReplacesExistingAddress() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry("203.0.113.7", nil)))
	replacement := s.entry("203.0.113.7", nil)
	replacement.Reason = "partner integration"
	s.Require().NoError(s.store.Add(s.ctx, replacement))

	entries, err := s.store.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal("partner integration", entries[0].Reason)
}

func (s *PostgresStoreSuite) TestExpiredEntriesAreIgnoredAndCleaned() {
	soon := s.now.Add(time.Minute)
	s.Require().NoError(s.store.Add(s.ctx, s.entry("198.51.100.1", &soon)))
	s.Require().NoError(s.store.Add(s.ctx, s.entry("198.51.100.2", nil)))

	later := requestcontext.WithTime(context.Background(), s.now.Add(2*time.Minute))
	ok, err := s.store.IsAllowlisted(later, "198.51.100.1")
	s.Require().NoError(err)
	s.False(ok)

	entries, err := s.store.List(later)
	s.Require().NoError(err)
	s.Len(entries, 1)

	removed, err := s.store.RemoveExpiredAt(s.ctx, s.now.Add(2*time.Minute))
	s.Require().NoError(err)
	s.Equal(int64(1), removed)
}

func (s *PostgresStoreSuite) TestRemove() {
	s.Require().NoError(s.store.Add(s.ctx, s.entry("203.0.113.9", nil)))
	s.Require().NoError(s.store.Remove(s.ctx, "203.0.113.9"))
	s.ErrorIs(s.store.Remove(s.ctx, "203.0.113.9"), sentinel.ErrNotFound)
}
