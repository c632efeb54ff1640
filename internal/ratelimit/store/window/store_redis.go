// Package window keeps fixed-window request counters, violation counters and
// ban markers in Redis. Every check is one Lua script so that concurrent
// requests from any number of processes serialize on the store.
package window

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	redisutil "chatguard/internal/platform/redis"
	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
	"chatguard/pkg/requestcontext"
)

// KEYS: ban, violations, window_1..window_n
// ARGV: n, escalate, ban_after, cooldown_ms, tier_count, tier_ms..., (limit, window_ms)...
// A ban extends the violation TTL to ban + cooldown so the count survives
// bans longer than the cooldown.
// Reply: outcome (0 allowed, 1 limited, 2 banned), retry_ms, violations,
// ban_ms, limit, remaining, reset_ms
var checkScript = redis.NewScript(`
local n = tonumber(ARGV[1])
local escalate = tonumber(ARGV[2])
local ban_after = tonumber(ARGV[3])
local cooldown_ms = tonumber(ARGV[4])
local tier_count = tonumber(ARGV[5])
local base = 5 + tier_count

if escalate == 1 then
  local ban_ttl = redis.call('PTTL', KEYS[1])
  if ban_ttl > 0 then
    local violations = tonumber(redis.call('GET', KEYS[2]) or '0')
    return {2, ban_ttl, violations, 0, 0, 0, ban_ttl}
  end
end

local violated = false
local violated_ttl = 0
local violated_limit = 0
local best_remaining = -1
local best_limit = 0
local best_ttl = 0

for i = 1, n do
  local key = KEYS[2 + i]
  local limit = tonumber(ARGV[base + 2 * i - 1])
  local window_ms = tonumber(ARGV[base + 2 * i])
  local count = redis.call('INCR', key)
  if count == 1 then
    redis.call('PEXPIRE', key, window_ms)
  end
  local ttl = redis.call('PTTL', key)
  if ttl < 0 then
    redis.call('PEXPIRE', key, window_ms)
    ttl = window_ms
  end
  if count > limit then
    if (not violated) or ttl > violated_ttl then
      violated_ttl = ttl
      violated_limit = limit
    end
    violated = true
  end
  local remaining = limit - count
  if remaining < 0 then
    remaining = 0
  end
  if best_remaining < 0 or remaining < best_remaining then
    best_remaining = remaining
    best_limit = limit
    best_ttl = ttl
  end
end

if not violated then
  return {0, 0, 0, 0, best_limit, best_remaining, best_ttl}
end

local retry = violated_ttl
local violations = 0
local ban_ms = 0
if escalate == 1 then
  violations = redis.call('INCR', KEYS[2])
  redis.call('PEXPIRE', KEYS[2], cooldown_ms)
  if violations >= ban_after then
    local idx = violations - ban_after + 1
    if idx > tier_count then
      idx = tier_count
    end
    ban_ms = tonumber(ARGV[5 + idx])
    redis.call('SET', KEYS[1], ban_ms, 'PX', ban_ms)
    redis.call('PEXPIRE', KEYS[2], ban_ms + cooldown_ms)
    retry = ban_ms
  end
end
return {1, retry, violations, ban_ms, violated_limit, 0, violated_ttl}
`)

// RedisStore implements ports.WindowStore.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Check(ctx context.Context, check models.WindowCheck) (*models.RateLimitResult, error) {
	if len(check.Limits) == 0 {
		return nil, errors.New("at least one window limit is required")
	}

	keys := make([]string, 0, 2+len(check.Limits))
	keys = append(keys, models.BanKey(check.Scope, check.Identifier), models.ViolationKey(check.Scope, check.Identifier))
	for _, l := range check.Limits {
		keys = append(keys, models.WindowKey(check.Scope, check.Identifier, l.Window))
	}

	escalate := 0
	tiers := check.BanTiers
	if check.Escalates() {
		escalate = 1
	} else {
		tiers = nil
	}
	args := make([]any, 0, 5+len(tiers)+2*len(check.Limits))
	args = append(args, len(check.Limits), escalate, check.BanAfter, check.Cooldown.Milliseconds(), len(tiers))
	for _, t := range tiers {
		args = append(args, t.Milliseconds())
	}
	for _, l := range check.Limits {
		args = append(args, l.Limit, l.Window.Milliseconds())
	}

	raw, err := checkScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w: %w", sentinel.ErrUnavailable, err)
	}
	reply, err := redisutil.AsScriptReply(raw, 7)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}

	now := requestcontext.Now(ctx)
	reset := time.Duration(reply.Int(6)) * time.Millisecond
	result := &models.RateLimitResult{
		Scope:          check.Scope,
		Limit:          int(reply.Int(4)),
		Remaining:      int(reply.Int(5)),
		ResetAt:        now.Add(reset),
		RetryAfter:     time.Duration(reply.Int(1)) * time.Millisecond,
		ViolationCount: int(reply.Int(2)),
		BanApplied:     reply.Int(3) > 0,
	}
	switch reply.Int(0) {
	case 0:
		result.Outcome = models.RateLimitAllowed
	case 1:
		result.Outcome = models.RateLimitLimited
	default:
		result.Outcome = models.RateLimitBanned
	}
	return result, nil
}

func (s *RedisStore) Inspect(ctx context.Context, scope models.Scope, identifier string, windows []time.Duration) (*models.WindowState, error) {
	pipe := s.client.Pipeline()
	banTTL := pipe.PTTL(ctx, models.BanKey(scope, identifier))
	violations := pipe.Get(ctx, models.ViolationKey(scope, identifier))
	counts := make([]*redis.StringCmd, len(windows))
	for i, w := range windows {
		counts[i] = pipe.Get(ctx, models.WindowKey(scope, identifier, w))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("inspect rate limit state: %w: %w", sentinel.ErrUnavailable, err)
	}

	state := &models.WindowState{Counts: make(map[string]int, len(windows))}
	if ttl := banTTL.Val(); ttl > 0 {
		state.Banned = true
		state.BanRemaining = ttl
	}
	state.ViolationCount = atoi(violations.Val())
	for i, w := range windows {
		state.Counts[w.String()] = atoi(counts[i].Val())
	}
	return state, nil
}

func (s *RedisStore) ClearBan(ctx context.Context, scope models.Scope, identifier string) (bool, error) {
	n, err := s.client.Del(ctx, models.BanKey(scope, identifier), models.ViolationKey(scope, identifier)).Result()
	if err != nil {
		return false, fmt.Errorf("clear ban: %w: %w", sentinel.ErrUnavailable, err)
	}
	return n > 0, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
