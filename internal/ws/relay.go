package ws

import (
	"context"

	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/notify"
)

// Relay wires the notification bus to the local registry so transitions
// performed by the worker process reach sockets held by this process.
type Relay struct {
	registry *Registry
	bus      notify.Bus
	logger   *zap.Logger
}

// NewRelay creates a bus-to-registry relay.
func NewRelay(registry *Registry, bus notify.Bus, logger *zap.Logger) *Relay {
	return &Relay{registry: registry, bus: bus, logger: logger}
}

// Start subscribes the registry to the bus. Delivery stops when ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.bus.Subscribe(ctx, r.registry.Broadcast); err != nil {
		return err
	}
	r.logger.Info("Notification relay started")
	return nil
}
