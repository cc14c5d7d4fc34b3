package report

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaSink publishes each round as JSON, keyed by run ID so a run's rounds
// stay ordered within one partition.
type KafkaSink struct {
	producer Producer
	topic    string
}

func NewKafkaSink(producer Producer, topic string) *KafkaSink {
	return &KafkaSink{producer: producer, topic: topic}
}

func (s *KafkaSink) Report(ctx context.Context, r Round) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal usage report: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(r.RunID),
		Value: payload,
	}
	if err := s.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce usage report: %w", err)
	}
	return nil
}
