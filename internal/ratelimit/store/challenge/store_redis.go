// Package challenge stores issued challenge records and each identifier's set
// of live challenges in Redis.
package challenge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	redisutil "chatguard/internal/platform/redis"
	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
)

// Expired or consumed members are pruned before the cardinality check so the
// set only ever counts live challenges.
//
// KEYS: active set, token record
// ARGV: token id, identifier, ttl_ms, max_active, token key prefix
// Reply: issued (0/1), active count after the attempt
var issueScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
for _, m in ipairs(members) do
  if redis.call('EXISTS', ARGV[5] .. m) == 0 then
    redis.call('SREM', KEYS[1], m)
  end
end
local active = redis.call('SCARD', KEYS[1])
if active >= tonumber(ARGV[4]) then
  return {0, active}
end
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
redis.call('SADD', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[3]) then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return {1, active + 1}
`)

// KEYS: token record, active set
// ARGV: token id
// Reply: found (0/1), owner
var consumeScript = redis.NewScript(`
local owner = redis.call('GET', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[1])
if not owner then
  return {0, ''}
end
redis.call('DEL', KEYS[1])
return {1, owner}
`)

// KEYS: active set
// ARGV: token key prefix
var countScript = redis.NewScript(`
local members = redis.call('SMEMBERS', KEYS[1])
local live = 0
for _, m in ipairs(members) do
  if redis.call('EXISTS', ARGV[1] .. m) == 1 then
    live = live + 1
  end
end
return live
`)

// RedisStore implements ports.ChallengeStore.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Issue(ctx context.Context, record models.ChallengeRecord, ttl time.Duration, maxActive int) (bool, int, error) {
	keys := []string{
		models.ChallengeActiveKey(record.Identifier),
		models.ChallengeTokenKey(record.TokenID),
	}
	raw, err := issueScript.Run(ctx, s.client, keys,
		record.TokenID,
		record.Identifier,
		ttl.Milliseconds(),
		maxActive,
		models.ChallengeTokenKeyPrefix(),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("issue challenge: %w: %w", sentinel.ErrUnavailable, err)
	}
	reply, err := redisutil.AsScriptReply(raw, 2)
	if err != nil {
		return false, 0, fmt.Errorf("issue challenge: %w", err)
	}
	return reply.Int(0) == 1, int(reply.Int(1)), nil
}

func (s *RedisStore) Consume(ctx context.Context, tokenID, issuedTo string) (string, bool, error) {
	keys := []string{
		models.ChallengeTokenKey(tokenID),
		models.ChallengeActiveKey(issuedTo),
	}
	raw, err := consumeScript.Run(ctx, s.client, keys, tokenID).Result()
	if err != nil {
		return "", false, fmt.Errorf("consume challenge: %w: %w", sentinel.ErrUnavailable, err)
	}
	reply, err := redisutil.AsScriptReply(raw, 2)
	if err != nil {
		return "", false, fmt.Errorf("consume challenge: %w", err)
	}
	if reply.Int(0) != 1 {
		return "", false, nil
	}
	return reply.String(1), true, nil
}

func (s *RedisStore) ActiveCount(ctx context.Context, identifier string) (int, error) {
	n, err := countScript.Run(ctx, s.client, []string{models.ChallengeActiveKey(identifier)}, models.ChallengeTokenKeyPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("count challenges: %w: %w", sentinel.ErrUnavailable, err)
	}
	return n, nil
}
