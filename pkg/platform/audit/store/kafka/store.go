// Package kafka forwards audit events to a Kafka topic as JSON records keyed by subject.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	audit "chatguard/pkg/platform/audit"
)

type Store struct {
	client *kgo.Client
	topic  string
}

// New connects a producer to brokers. The caller owns Close.
func New(brokers []string, topic string, opts ...kgo.Opt) (*Store, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka audit topic is required")
	}
	base := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	client, err := kgo.NewClient(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Store{client: client, topic: topic}, nil
}

// EnsureTopic creates the audit topic when it does not exist yet.
func (s *Store) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(s.client)
	resp, err := adm.CreateTopics(ctx, partitions, replication, nil, s.topic)
	if err != nil {
		return fmt.Errorf("create audit topic: %w", err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create audit topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Append produces one record and waits for the broker ack.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	record := &kgo.Record{
		Key:   []byte(event.Subject),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "category", Value: []byte(event.Category)},
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	if err := s.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Ping checks broker connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx)
}

func (s *Store) Close() {
	s.client.Close()
}
