package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaBus implements Bus on a Kafka topic, for deployments that already
// run a broker and want update history retained past delivery. Messages are
// keyed by order id so per-order ordering survives partitioning.
type KafkaBus struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *zap.Logger
}

var _ Bus = (*KafkaBus)(nil)

// NewKafkaBus creates a Kafka-backed bus over the given brokers and topic.
// Each subscribing process should use its own groupID so all of them see
// every update.
func NewKafkaBus(brokers []string, topic, groupID string, logger *zap.Logger) *KafkaBus {
	return &KafkaBus{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.Hash{},
		},
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		logger: logger,
	}
}

// Publish writes the update keyed by order id.
func (b *KafkaBus) Publish(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	if err := b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.OrderID),
		Value: data,
	}); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Subscribe consumes the topic and feeds decoded updates to the handler
// until ctx is cancelled.
func (b *KafkaBus) Subscribe(ctx context.Context, handler Handler) error {
	go func() {
		for {
			msg, err := b.reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() == nil {
					b.logger.Error("Kafka read failed", zap.Error(err))
				}
				return
			}
			var update Update
			if err := json.Unmarshal(msg.Value, &update); err != nil {
				b.logger.Error("Discarding undecodable update", zap.Error(err))
				continue
			}
			handler(update)
		}
	}()
	return nil
}

// Close shuts down the writer and reader.
func (b *KafkaBus) Close() error {
	werr := b.writer.Close()
	rerr := b.reader.Close()
	if werr != nil {
		return werr
	}
	return rerr
}
