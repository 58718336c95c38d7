package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/example/dispatch-engine/internal/geo"
	"github.com/example/dispatch-engine/internal/models"
	"github.com/segmentio/kafka-go"
)

type KafkaProducer struct {
	writer  *kafka.Writer
	timeout time.Duration
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaProducer{writer: w, timeout: 2 * time.Second}
}

// Publish writes a trip event keyed by trip id, so one trip's events stay
// ordered within a partition.
func (k *KafkaProducer) Publish(ctx context.Context, e models.TripEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("ingest.Publish: %w", err)
	}
	return k.write(ctx, kafka.Message{Key: []byte(e.TripID), Value: b})
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, p geo.Position) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("ingest.PublishLocation: %w", err)
	}
	return k.write(ctx, kafka.Message{Key: []byte(p.DriverID), Value: b})
}

func (k *KafkaProducer) write(ctx context.Context, m kafka.Message) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, m)
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
