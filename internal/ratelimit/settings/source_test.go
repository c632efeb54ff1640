package settings_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"chatguard/internal/ratelimit/metrics"
	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/settings"
	settingsstore "chatguard/internal/ratelimit/store/settings"
	dErrors "chatguard/pkg/domain-errors"
)

// =============================================================================
// Settings Source Test Suite
// =============================================================================
// Justification for unit tests: layer precedence, fallback on malformed
// values and cache invalidation decide which thresholds every gate enforces.
// miniredis runs the real hash and pub/sub commands.

type SourceSuite struct {
	suite.Suite
	mr      *miniredis.Miniredis
	client  *redis.Client
	store   *settingsstore.RedisStore
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func TestSourceSuite(t *testing.T) {
	suite.Run(t, new(SourceSuite))
}

func (s *SourceSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.store = settingsstore.NewRedis(s.client)
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
}

func (s *SourceSuite) TearDownTest() {
	_ = s.client.Close()
}

func (s *SourceSuite) newSource(opts ...settings.SourceOption) *settings.Source {
	base := []settings.SourceOption{settings.WithLogger(s.logger), settings.WithMetrics(s.metrics)}
	src, err := settings.New(s.store, append(base, opts...)...)
	s.Require().NoError(err)
	return src
}

func (s *SourceSuite) TestNew() {
	s.Run("nil store returns error", func() {
		_, err := settings.New(nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "settings store is required")
	})
}

func (s *SourceSuite) TestPrecedence() {
	ctx := context.Background()
	static := settings.NewStaticValues(map[string]string{
		settings.RateLimitPerMinute: "120",
		settings.ChallengeTTL:       "2m",
	})
	src := s.newSource(settings.WithStatic(static))

	s.Run("defaults apply with empty layers", func() {
		v := src.Snapshot(ctx)
		s.Equal(600, v.RateLimitPerHour)
		s.Equal([]time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour}, v.BanTiers)
		s.Equal(models.Money(50_000_000), v.CostDailyLimit)
	})

	s.Run("static overrides default", func() {
		v := src.Snapshot(ctx)
		s.Equal(120, v.RateLimitPerMinute)
		s.Equal(2*time.Minute, v.ChallengeTTL)
	})

	s.Run("dynamic overrides static", func() {
		s.mr.HSet(models.KeySettings, settings.RateLimitPerMinute, "30")
		v := src.Snapshot(ctx)
		s.Equal(30, v.RateLimitPerMinute)
		s.Equal(2*time.Minute, v.ChallengeTTL)
	})

	s.Run("entries report the winning layer", func() {
		entries, err := src.Entries(ctx)
		s.Require().NoError(err)
		byName := map[string]settings.Entry{}
		for _, e := range entries {
			byName[e.Name] = e
		}
		s.Len(entries, len(settings.Options()))
		s.Equal(settings.SourceDynamic, byName[settings.RateLimitPerMinute].Source)
		s.Equal("30", byName[settings.RateLimitPerMinute].Value)
		s.Equal(settings.SourceStatic, byName[settings.ChallengeTTL].Source)
		s.Equal(settings.SourceDefault, byName[settings.CostDailyLimit].Source)
		s.Equal("50.00", byName[settings.CostDailyLimit].Value)
	})
}

func (s *SourceSuite) TestMalformedValuesFallBack() {
	ctx := context.Background()
	static := settings.NewStaticValues(map[string]string{settings.RateLimitPerMinute: "90"})
	src := s.newSource(settings.WithStatic(static))

	s.mr.HSet(models.KeySettings, settings.RateLimitPerMinute, "lots")
	s.mr.HSet(models.KeySettings, settings.BanTiers, "15m,1m")

	v := src.Snapshot(ctx)
	s.Equal(90, v.RateLimitPerMinute, "static layer used when dynamic value is malformed")
	s.Equal(time.Minute, v.BanTiers[0], "default used when no other layer is valid")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SettingsInvalid.WithLabelValues(settings.RateLimitPerMinute, "dynamic")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SettingsInvalid.WithLabelValues(settings.BanTiers, "dynamic")))
}

func (s *SourceSuite) TestSet() {
	ctx := context.Background()
	src := s.newSource(settings.WithCacheTTL(time.Hour))

	s.Run("valid update is visible immediately despite cache", func() {
		s.Equal(60, src.Snapshot(ctx).RateLimitPerMinute)
		_, err := src.Set(ctx, map[string]string{settings.RateLimitPerMinute: " 75 "})
		s.Require().NoError(err)
		s.Equal(75, src.Snapshot(ctx).RateLimitPerMinute)
		s.Equal("75", s.mr.HGet(models.KeySettings, settings.RateLimitPerMinute))
	})

	s.Run("invalid entry rejects the whole update", func() {
		_, err := src.Set(ctx, map[string]string{
			settings.RateLimitPerHour: "900",
			settings.ChallengeTTL:     "forever",
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("", s.mr.HGet(models.KeySettings, settings.RateLimitPerHour))
	})

	s.Run("unknown name is rejected", func() {
		_, err := src.Set(ctx, map[string]string{"max_tokens": "5"})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("money is stored canonically", func() {
		_, err := src.Set(ctx, map[string]string{settings.CostDailyLimit: "10"})
		s.Require().NoError(err)
		s.Equal("10.00", s.mr.HGet(models.KeySettings, settings.CostDailyLimit))
		s.Equal(models.Money(10_000_000), src.Snapshot(ctx).CostDailyLimit)
	})
}

func (s *SourceSuite) TestReset() {
	ctx := context.Background()
	src := s.newSource()
	_, err := src.Set(ctx, map[string]string{settings.ChallengeMaxActive: "3"})
	s.Require().NoError(err)

	removed, err := src.Reset(ctx, settings.ChallengeMaxActive)
	s.Require().NoError(err)
	s.Equal(1, removed)
	s.Equal(15, src.Snapshot(ctx).ChallengeMaxActive)

	_, err = src.Reset(ctx, "nope")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SourceSuite) TestStoreUnavailable() {
	ctx := context.Background()
	static := settings.NewStaticValues(map[string]string{settings.CostHourlyLimit: "7.50"})
	src := s.newSource(settings.WithStatic(static))
	s.mr.Close()

	v := src.Snapshot(ctx)
	s.Equal(models.Money(7_500_000), v.CostHourlyLimit)
	s.Equal(60, v.RateLimitPerMinute)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.SettingsStoreErrors))

	_, err := src.Entries(ctx)
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
}

func (s *SourceSuite) TestCacheTTL() {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	src := s.newSource(settings.WithCacheTTL(30*time.Second), settings.WithClock(clock))

	s.Equal(60, src.Snapshot(ctx).RateLimitPerMinute)
	s.mr.HSet(models.KeySettings, settings.RateLimitPerMinute, "5")
	s.Equal(60, src.Snapshot(ctx).RateLimitPerMinute, "cached value served within TTL")

	mu.Lock()
	now = now.Add(31 * time.Second)
	mu.Unlock()
	s.Equal(5, src.Snapshot(ctx).RateLimitPerMinute, "reloaded after TTL")
}

func (s *SourceSuite) TestRemoteInvalidation() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer := s.newSource()
	otherClient := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	defer otherClient.Close()
	reader, err := settings.New(settingsstore.NewRedis(otherClient),
		settings.WithLogger(s.logger),
		settings.WithCacheTTL(time.Hour),
	)
	s.Require().NoError(err)

	done := make(chan error, 1)
	go func() { done <- reader.Run(ctx) }()

	s.Equal(60, reader.Snapshot(ctx).RateLimitPerMinute)

	s.Require().Eventually(func() bool {
		_, err := writer.Set(ctx, map[string]string{settings.RateLimitPerMinute: "42"})
		return err == nil && reader.Snapshot(ctx).RateLimitPerMinute == 42
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("Run did not stop after cancel")
	}
}

type failingStore struct{}

func (failingStore) GetAll(context.Context) (map[string]string, error) {
	return nil, errors.New("connection refused")
}
func (failingStore) Set(context.Context, map[string]string) error {
	return errors.New("connection refused")
}
func (failingStore) Delete(context.Context, ...string) (int, error) {
	return 0, errors.New("connection refused")
}

func (s *SourceSuite) TestSetStoreFailure() {
	src, err := settings.New(failingStore{}, settings.WithLogger(s.logger))
	s.Require().NoError(err)
	_, err = src.Set(context.Background(), map[string]string{settings.RateLimitEnabled: "false"})
	s.True(dErrors.HasCode(err, dErrors.CodeUnavailable))
	s.True(src.Snapshot(context.Background()).RateLimitEnabled)
}
