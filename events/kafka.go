package events

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBroadcaster publishes import events to a Kafka topic. Messages are
// keyed by import job id so consumers for one job see its events in order.
type KafkaBroadcaster struct {
	writer *kafka.Writer
	log    *zap.Logger
}

// NewKafkaBroadcaster creates a broadcaster writing to the given topic.
func NewKafkaBroadcaster(brokers []string, topic string, log *zap.Logger) *KafkaBroadcaster {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaBroadcaster{writer: writer, log: log}
}

type envelope struct {
	ID      string      `json:"id"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

func (b *KafkaBroadcaster) publish(ctx context.Context, key, event string, payload interface{}) error {
	data, err := json.Marshal(envelope{ID: uuid.NewString(), Event: event, Payload: payload})
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
	}
	if err := b.writer.WriteMessages(ctx, msg); err != nil {
		b.log.Warn("Failed to publish import event", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

// Progress publishes a progress event.
func (b *KafkaBroadcaster) Progress(ctx context.Context, event ProgressEvent) error {
	return b.publish(ctx, event.ImportDataID, EventProgress, event)
}

// Complete publishes a completion event.
func (b *KafkaBroadcaster) Complete(ctx context.Context, event CompleteEvent) error {
	return b.publish(ctx, event.ImportDataID, EventComplete, event)
}

// Close flushes and closes the underlying writer.
func (b *KafkaBroadcaster) Close() error {
	return b.writer.Close()
}
