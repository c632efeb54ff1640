// Package settings stores dynamic setting overrides in a Redis hash and
// broadcasts cache invalidations over pub/sub.
package settings

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"chatguard/internal/ratelimit/models"
	"chatguard/pkg/platform/sentinel"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) GetAll(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, models.KeySettings).Result()
	if err != nil {
		return nil, fmt.Errorf("read settings: %w: %w", sentinel.ErrUnavailable, err)
	}
	return values, nil
}

// Set writes every value in one HSET so readers never observe a partial update.
func (s *RedisStore) Set(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for k, v := range values {
		fields[k] = v
	}
	if err := s.client.HSet(ctx, models.KeySettings, fields).Err(); err != nil {
		return fmt.Errorf("write settings: %w: %w", sentinel.ErrUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, names ...string) (int, error) {
	if len(names) == 0 {
		return 0, nil
	}
	n, err := s.client.HDel(ctx, models.KeySettings, names...).Result()
	if err != nil {
		return 0, fmt.Errorf("delete settings: %w: %w", sentinel.ErrUnavailable, err)
	}
	return int(n), nil
}

func (s *RedisStore) PublishInvalidation(ctx context.Context) error {
	if err := s.client.Publish(ctx, models.ChannelSettingsFlush, "flush").Err(); err != nil {
		return fmt.Errorf("publish settings invalidation: %w", err)
	}
	return nil
}

// SubscribeInvalidations calls onMessage for every invalidation broadcast
// until ctx is done.
func (s *RedisStore) SubscribeInvalidations(ctx context.Context, onMessage func()) error {
	sub := s.client.Subscribe(ctx, models.ChannelSettingsFlush)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe settings invalidations: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ch:
			if !ok {
				return nil
			}
			onMessage()
		}
	}
}
