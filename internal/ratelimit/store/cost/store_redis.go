// Package cost keeps the per-identifier recent-cost ledger, throttle markers
// and the global calendar accumulators in Redis.
package cost

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisutil "chatguard/internal/platform/redis"
	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
)

const (
	dailyRetention  = 48 * time.Hour
	hourlyRetention = 2 * time.Hour
)

// Checks run in a fixed order and nothing is written unless every check
// passes, so concurrent requests can never push a total past its limit.
//
// KEYS: recent zset, throttle marker, daily total, hourly total
// ARGV: now_ms, cost, lookback_ms, threshold, throttle_ms, daily_limit,
// hourly_limit, member, daily_retry_ms, hourly_retry_ms, daily_ttl_ms, hourly_ttl_ms
// Reply: outcome (0 allowed, 1 throttled, 2 global), retry_ms,
// flag (global: 1 daily, 2 hourly; throttled: 1 when the marker was just set),
// recent cost
var checkAndRecordScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])
local lookback = tonumber(ARGV[3])

local marker = redis.call('PTTL', KEYS[2])
if marker > 0 then
  return {1, marker, 0, 0}
end

redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - lookback)
local recent = 0
for _, m in ipairs(redis.call('ZRANGE', KEYS[1], 0, -1)) do
  local sep = string.find(m, ':', 1, true)
  if sep then
    recent = recent + (tonumber(string.sub(m, sep + 1)) or 0)
  end
end

if recent + cost > tonumber(ARGV[4]) then
  redis.call('SET', KEYS[2], '1', 'PX', ARGV[5])
  return {1, tonumber(ARGV[5]), 1, recent}
end

local daily = tonumber(redis.call('GET', KEYS[3]) or '0')
if daily + cost > tonumber(ARGV[6]) then
  return {2, tonumber(ARGV[9]), 1, recent}
end
local hourly = tonumber(redis.call('GET', KEYS[4]) or '0')
if hourly + cost > tonumber(ARGV[7]) then
  return {2, tonumber(ARGV[10]), 2, recent}
end

redis.call('ZADD', KEYS[1], now, ARGV[8])
redis.call('PEXPIRE', KEYS[1], lookback)
redis.call('INCRBY', KEYS[3], ARGV[2])
redis.call('PEXPIRE', KEYS[3], ARGV[11])
redis.call('INCRBY', KEYS[4], ARGV[2])
redis.call('PEXPIRE', KEYS[4], ARGV[12])
return {0, 0, 0, recent + cost}
`)

// RedisStore implements ports.CostStore.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CheckAndRecord(ctx context.Context, check models.CostCheck) (*models.CostResult, error) {
	if check.Cost < 0 {
		return nil, errors.New("cost cannot be negative")
	}
	now := check.Now.UTC()
	_, dayEnd := models.DayBounds(now)
	_, hourEnd := models.HourBounds(now)

	keys := []string{
		models.CostRecentKey(check.Identifier),
		models.CostThrottleKey(check.Identifier),
		models.CostDailyKey(now),
		models.CostHourlyKey(now),
	}
	member := uuid.NewString() + ":" + strconv.FormatInt(check.Cost.Micros(), 10)
	raw, err := checkAndRecordScript.Run(ctx, s.client, keys,
		now.UnixMilli(),
		check.Cost.Micros(),
		check.Lookback.Milliseconds(),
		check.Threshold.Micros(),
		check.ThrottleDuration.Milliseconds(),
		check.DailyLimit.Micros(),
		check.HourlyLimit.Micros(),
		member,
		dayEnd.Sub(now).Milliseconds(),
		hourEnd.Sub(now).Milliseconds(),
		dailyRetention.Milliseconds(),
		hourlyRetention.Milliseconds(),
	).Result()
	if err != nil {
		return nil, fmt.Errorf("cost check: %w: %w", sentinel.ErrUnavailable, err)
	}
	reply, err := redisutil.AsScriptReply(raw, 4)
	if err != nil {
		return nil, fmt.Errorf("cost check: %w", err)
	}

	result := &models.CostResult{
		RetryAfter: time.Duration(reply.Int(1)) * time.Millisecond,
		RecentCost: models.Money(reply.Int(3)),
	}
	switch reply.Int(0) {
	case 0:
		result.Outcome = models.CostAllowed
	case 1:
		result.Outcome = models.CostThrottled
		result.ThrottleApplied = reply.Int(2) == 1
	default:
		result.Outcome = models.CostGlobalLimitExceeded
		result.Scope = models.LimitScopeDaily
		if reply.Int(2) == 2 {
			result.Scope = models.LimitScopeHourly
		}
	}
	return result, nil
}

func (s *RedisStore) GlobalTotals(ctx context.Context, now time.Time) (models.Money, models.Money, error) {
	values, err := s.client.MGet(ctx, models.CostDailyKey(now), models.CostHourlyKey(now)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read cost totals: %w: %w", sentinel.ErrUnavailable, err)
	}
	return parseMicros(values[0]), parseMicros(values[1]), nil
}

func (s *RedisStore) Inspect(ctx context.Context, identifier string, lookback time.Duration, now time.Time) (*models.CostState, error) {
	pipe := s.client.Pipeline()
	marker := pipe.PTTL(ctx, models.CostThrottleKey(identifier))
	entries := pipe.ZRangeByScore(ctx, models.CostRecentKey(identifier), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.Add(-lookback).UnixMilli(), 10),
		Max: "+inf",
	})
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("inspect cost state: %w: %w", sentinel.ErrUnavailable, err)
	}

	state := &models.CostState{}
	if ttl := marker.Val(); ttl > 0 {
		state.Throttled = true
		state.ThrottleRemaining = ttl
	}
	for _, m := range entries.Val() {
		if _, micros, ok := strings.Cut(m, ":"); ok {
			n, _ := strconv.ParseInt(micros, 10, 64)
			state.RecentCost += models.Money(n)
		}
	}
	return state, nil
}

func parseMicros(v any) models.Money {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return models.Money(n)
}
