//go:build integration

package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "chatguard/pkg/platform/audit"
	"chatguard/pkg/testutil/containers"
)

type KafkaStoreSuite struct {
	suite.Suite
	brokers []string
	store   *Store
	topic   string
}

func TestKafkaStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaStoreSuite))
}

func (s *KafkaStoreSuite) SetupSuite() {
	s.brokers = containers.GetManager().GetRedpanda(s.T()).Brokers
	s.topic = "chatguard.audit.test"

	store, err := New(s.brokers, s.topic)
	s.Require().NoError(err)
	s.store = store

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.Require().NoError(s.store.EnsureTopic(ctx, 1, 1))
	s.Require().NoError(s.store.EnsureTopic(ctx, 1, 1), "existing topic is not an error")
}

func (s *KafkaStoreSuite) TearDownSuite() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *KafkaStoreSuite) TestAppendKeysBySubject() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Require().NoError(s.store.Ping(ctx))
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Category:  audit.CategorySecurity,
		Timestamp: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC),
		Subject:   "id_a",
		Action:    string(audit.EventBanApplied),
		Reason:    "rate_limit_exceeded",
	}))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.brokers...),
		kgo.ConsumeTopics(s.topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var record *kgo.Record
	for record == nil {
		fetches := consumer.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "no record consumed before timeout")
		fetches.EachRecord(func(r *kgo.Record) {
			if record == nil && string(r.Key) == "id_a" {
				record = r
			}
		})
	}

	headers := map[string]string{}
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	s.Equal("security", headers["category"])
	s.Equal(string(audit.EventBanApplied), headers["action"])

	var event audit.Event
	s.Require().NoError(json.Unmarshal(record.Value, &event))
	s.Equal("rate_limit_exceeded", event.Reason)
}
