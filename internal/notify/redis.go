package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// channelPrefix keys the Pub/Sub channel by order id so the transport fans
// out per order; subscribers watch the whole pattern and filter locally.
const channelPrefix = "order:updates:"

const channelPattern = channelPrefix + "*"

// RedisBus implements Bus on Redis Pub/Sub. This is the transport that lets
// the worker process reach registries in separate front-end processes.
type RedisBus struct {
	client redis.UniversalClient
	logger *zap.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus creates a Redis-backed bus. The client's lifecycle is owned by
// the caller.
func NewRedisBus(client redis.UniversalClient, logger *zap.Logger) *RedisBus {
	return &RedisBus{client: client, logger: logger}
}

// Publish fires the update at the order's channel. There is no buffering and
// no acknowledgment; processes without subscribers simply miss it.
func (b *RedisBus) Publish(ctx context.Context, update Update) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode update: %w", err)
	}
	if err := b.client.Publish(ctx, channelPrefix+update.OrderID, data).Err(); err != nil {
		return fmt.Errorf("failed to publish update: %w", err)
	}
	return nil
}

// Subscribe watches every order channel and feeds decoded updates to the
// handler until ctx is cancelled or the bus is closed.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	pubsub := b.client.PSubscribe(ctx, channelPattern)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, pubsub)
	b.mu.Unlock()

	ch := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var update Update
				if err := json.Unmarshal([]byte(msg.Payload), &update); err != nil {
					b.logger.Error("Discarding undecodable update", zap.Error(err))
					continue
				}
				handler(update)
			}
		}
	}()

	b.logger.Info("Subscribed to order updates", zap.String("pattern", channelPattern))
	return nil
}

// Close shuts down all subscriptions opened through this bus.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.Close()
	}
	b.subs = nil
	return nil
}
