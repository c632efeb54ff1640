package stats

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatguard/internal/ratelimit/models"
)

func TestRedisStore_IncrementAndRead(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	store := NewRedis(client)
	ctx := context.Background()

	yesterday := time.Date(2026, 2, 1, 23, 0, 0, 0, time.UTC)
	today := yesterday.Add(2 * time.Hour)

	require.NoError(t, store.Increment(ctx, models.GateRateLimit, "allowed", yesterday))
	require.NoError(t, store.Increment(ctx, models.GateRateLimit, "allowed", today))
	require.NoError(t, store.Increment(ctx, models.GateCost, "throttled", today))

	stats, err := store.Read(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"rate_limit:allowed": 2, "cost:throttled": 1}, stats.Total)
	assert.Equal(t, map[string]int64{"rate_limit:allowed": 1, "cost:throttled": 1}, stats.Today)

	assert.Greater(t, mr.TTL(models.StatsDayKey(today)), 7*24*time.Hour)
}
