// Package ws holds the per-process connection registry and the WebSocket
// endpoint that feeds it. The registry is a cache of the subscriptions local
// to this process; cross-process delivery happens on the notification bus.
package ws

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/pkg/metrics"
)

// Conn is the minimal connection surface the registry needs. A gorilla
// *websocket.Conn fits behind the safeConn wrapper; tests use fakes.
type Conn interface {
	WriteJSON(v interface{}) error
	Close() error
}

// Registry maps order ids to the live connections in this process watching
// them. It holds no ownership of the orders themselves.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]map[Conn]struct{}
	logger *zap.Logger
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		subs:   make(map[string]map[Conn]struct{}),
		logger: logger,
	}
}

// Subscribe registers a connection as an observer of the order.
func (r *Registry) Subscribe(orderID string, conn Conn) {
	r.mu.Lock()
	set, ok := r.subs[orderID]
	if !ok {
		set = make(map[Conn]struct{})
		r.subs[orderID] = set
	}
	set[conn] = struct{}{}
	count := len(set)
	r.mu.Unlock()

	metrics.WSSubscriptions.Inc()
	r.logger.Debug("Connection subscribed",
		zap.String("order_id", orderID),
		zap.Int("subscribers", count))
}

// Unsubscribe removes the registration, dropping the order's entry entirely
// when the last observer leaves.
func (r *Registry) Unsubscribe(orderID string, conn Conn) {
	r.mu.Lock()
	set, ok := r.subs[orderID]
	if ok {
		if _, present := set[conn]; present {
			delete(set, conn)
			metrics.WSSubscriptions.Dec()
		}
		if len(set) == 0 {
			delete(r.subs, orderID)
		}
	}
	r.mu.Unlock()

	if ok {
		r.logger.Debug("Connection unsubscribed", zap.String("order_id", orderID))
	}
}

// Broadcast pushes the update to every observer of its order. Delivery is
// fire and forget; a connection whose write fails is assumed dead and is
// unsubscribed as a side effect.
func (r *Registry) Broadcast(update notify.Update) {
	r.mu.RLock()
	set := r.subs[update.OrderID]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	if len(conns) == 0 {
		return
	}

	var dead []Conn
	sent := 0
	for _, c := range conns {
		if err := c.WriteJSON(update); err != nil {
			dead = append(dead, c)
			continue
		}
		sent++
	}
	for _, c := range dead {
		r.Unsubscribe(update.OrderID, c)
	}

	r.logger.Debug("Update broadcast",
		zap.String("order_id", update.OrderID),
		zap.String("status", update.Status),
		zap.Int("sent", sent),
		zap.Int("dropped", len(dead)))
}

// SubscriberCount reports the live observer count for an order.
func (r *Registry) SubscriberCount(orderID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[orderID])
}

// TotalSubscribers reports all live observers across orders.
func (r *Registry) TotalSubscribers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.subs {
		total += len(set)
	}
	return total
}
