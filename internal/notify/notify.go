// Package notify relays order status transitions from whichever process
// performed them to every process holding live subscribers. Delivery is
// best-effort, at-most-once and unbuffered: a missed update is recovered by
// the subscriber's next snapshot, never redelivered.
package notify

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/swapflow/internal/order"
)

// Data carries the optional transition fields attached to an update.
type Data struct {
	SelectedVenue string           `json:"selectedDex,omitempty"`
	TxHash        string           `json:"txHash,omitempty"`
	ExecutedPrice *decimal.Decimal `json:"executedPrice,omitempty"`
	AmountOut     *decimal.Decimal `json:"amountOut,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
}

// Update is one order status transition as seen by observers.
type Update struct {
	OrderID   string    `json:"orderId"`
	Status    string    `json:"status"`
	Data      *Data     `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewUpdate stamps a transition with the current time.
func NewUpdate(orderID, status string, data *Data) Update {
	return Update{OrderID: orderID, Status: status, Data: data, Timestamp: time.Now()}
}

// Snapshot builds an update reflecting an order's current persisted state,
// sent to late joiners immediately after they subscribe.
func Snapshot(o *order.Order) Update {
	return Update{
		OrderID: o.ID.String(),
		Status:  o.Status,
		Data: &Data{
			SelectedVenue: o.SelectedVenue,
			TxHash:        o.TxHash,
			ExecutedPrice: o.ExecutedPrice,
			AmountOut:     o.AmountOut,
			FailureReason: o.FailureReason,
		},
		Timestamp: time.Now(),
	}
}

// Handler consumes updates on the subscribing side.
type Handler func(Update)

// Bus is the process-spanning transport between the worker and the
// front-end connection registries.
type Bus interface {
	Publish(ctx context.Context, update Update) error
	Subscribe(ctx context.Context, handler Handler) error
	Close() error
}
