// Package stats aggregates gate decision counters in Redis hashes.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
)

const dayRetention = 8 * 24 * time.Hour

type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func field(gate models.Gate, outcome string) string {
	return string(gate) + ":" + outcome
}

func (s *RedisStore) Increment(ctx context.Context, gate models.Gate, outcome string, now time.Time) error {
	f := field(gate, outcome)
	dayKey := models.StatsDayKey(now)
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, models.StatsTotalKey(), f, 1)
		pipe.HIncrBy(ctx, dayKey, f, 1)
		pipe.Expire(ctx, dayKey, dayRetention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("increment stats: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context, now time.Time) (*models.Stats, error) {
	pipe := s.client.Pipeline()
	total := pipe.HGetAll(ctx, models.StatsTotalKey())
	today := pipe.HGetAll(ctx, models.StatsDayKey(now))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("read stats: %w: %w", sentinel.ErrUnavailable, err)
	}
	return &models.Stats{
		Total: toCounts(total.Val()),
		Today: toCounts(today.Val()),
	}, nil
}

func toCounts(raw map[string]string) map[string]int64 {
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out
}
