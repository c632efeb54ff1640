package requestlimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatguard/internal/ratelimit/models"
	"chatguard/internal/ratelimit/settings"
	"chatguard/internal/ratelimit/store/window"
	"chatguard/pkg/platform/audit"
	auditpublisher "chatguard/pkg/platform/audit/publisher"
	auditmemory "chatguard/pkg/platform/audit/store/memory"
)

func newScenarioService(t *testing.T, v settings.Values) (*Service, *miniredis.Miniredis, *auditmemory.InMemoryStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	auditStore := auditmemory.NewInMemoryStore()
	svc, err := New(window.NewRedis(client), &staticSource{values: v},
		WithAuditPublisher(auditpublisher.NewPublisher(auditStore)),
	)
	require.NoError(t, err)
	return svc, mr, auditStore
}

func TestSixtyPerMinuteRejectsTheSixtyFirst(t *testing.T) {
	svc, _, _ := newScenarioService(t, settings.Defaults())
	ctx := context.Background()

	for i := 1; i <= 60; i++ {
		res, err := svc.Check(ctx, "X")
		require.NoError(t, err)
		require.True(t, res.Allowed(), "request %d should be allowed", i)
	}

	res, err := svc.Check(ctx, "X")
	require.NoError(t, err)
	assert.Equal(t, models.RateLimitLimited, res.Outcome)
	assert.Positive(t, res.RetryAfterSeconds())
}

func TestThirdConsecutiveViolationGetsLongestTier(t *testing.T) {
	v := settings.Defaults()
	v.RateLimitPerMinute = 1
	v.BanTiers = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	svc, mr, auditStore := newScenarioService(t, v)
	ctx := context.Background()

	var bans []time.Duration
	for range 3 {
		res, err := svc.Check(ctx, "X")
		require.NoError(t, err)
		require.True(t, res.Allowed())

		res, err = svc.Check(ctx, "X")
		require.NoError(t, err)
		require.True(t, res.BanApplied)
		bans = append(bans, res.RetryAfter)

		// Ban and minute window both lapse, the violation history does not.
		mr.FastForward(res.RetryAfter + time.Minute)
	}

	assert.Equal(t, []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}, bans)

	events, err := auditStore.ListBySubject(ctx, "X")
	require.NoError(t, err)
	applied := 0
	for _, e := range events {
		if e.Action == string(audit.EventBanApplied) {
			applied++
		}
	}
	assert.Equal(t, 3, applied)
}

func TestGlobalLimitAppliesAcrossIdentifiers(t *testing.T) {
	v := settings.Defaults()
	v.GlobalRateLimitPerMinute = 3
	svc, _, _ := newScenarioService(t, v)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		res, err := svc.Check(ctx, id)
		require.NoError(t, err)
		require.True(t, res.Allowed())
	}

	res, err := svc.Check(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, models.ScopeGlobal, res.Scope)
	assert.False(t, res.BanApplied, "the global scope never bans")
}
