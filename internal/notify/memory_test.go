package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/internal/order"
)

func TestMemoryBusDeliversInPublishOrder(t *testing.T) {
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	var got []notify.Update
	require.NoError(t, bus.Subscribe(ctx, func(u notify.Update) {
		got = append(got, u)
	}))

	for _, status := range []string{order.StatusRouting, order.StatusBuilding, order.StatusConfirmed} {
		require.NoError(t, bus.Publish(ctx, notify.NewUpdate("order-1", status, nil)))
	}

	require.Len(t, got, 3)
	assert.Equal(t, order.StatusRouting, got[0].Status)
	assert.Equal(t, order.StatusBuilding, got[1].Status)
	assert.Equal(t, order.StatusConfirmed, got[2].Status)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp))
	}
}

func TestMemoryBusFansOutToAllSubscribers(t *testing.T) {
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	var a, b int
	require.NoError(t, bus.Subscribe(ctx, func(notify.Update) { a++ }))
	require.NoError(t, bus.Subscribe(ctx, func(notify.Update) { b++ }))

	require.NoError(t, bus.Publish(ctx, notify.NewUpdate("order-1", order.StatusRouting, nil)))
	assert.Equal(t, 1, a)
	assert.Equal(t, 1, b)
}

func TestMemoryBusCloseStopsDelivery(t *testing.T) {
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	var count int
	require.NoError(t, bus.Subscribe(ctx, func(notify.Update) { count++ }))
	require.NoError(t, bus.Close())

	require.NoError(t, bus.Publish(ctx, notify.NewUpdate("order-1", order.StatusRouting, nil)))
	assert.Equal(t, 0, count)
}

func TestNewUpdateStampsTimestamp(t *testing.T) {
	before := time.Now()
	u := notify.NewUpdate("order-1", order.StatusRouting, nil)
	assert.False(t, u.Timestamp.Before(before))
	assert.Equal(t, "order-1", u.OrderID)
}
