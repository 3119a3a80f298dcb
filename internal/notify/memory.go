package notify

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-process deployments.
// Handlers run synchronously on the publisher's goroutine, so per-order
// update ordering follows publish ordering.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

var _ Bus = (*MemoryBus)(nil)

// NewMemoryBus creates an in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

// Publish delivers the update to every registered handler.
func (b *MemoryBus) Publish(ctx context.Context, update Update) error {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	closed := b.closed
	b.mu.RUnlock()

	if closed {
		return nil
	}
	for _, h := range handlers {
		h(update)
	}
	return nil
}

// Subscribe registers a handler for all subsequent updates.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.mu.Lock()
	b.handlers = append(b.handlers, handler)
	b.mu.Unlock()
	return nil
}

// Close drops all handlers.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()
	return nil
}
