// Package worker consumes queue deliveries and drives each order through
// the execution state machine, persisting and publishing every transition.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/internal/order"
	"github.com/Aidin1998/swapflow/internal/queue"
	"github.com/Aidin1998/swapflow/internal/router"
	"github.com/Aidin1998/swapflow/pkg/metrics"
)

// Worker executes swap orders delivered by the job queue. The order store is
// the single source of truth: every step persists before it publishes, and a
// failed persist aborts the delivery so the queue re-runs the whole sequence.
type Worker struct {
	queue    queue.Queue
	orders   order.Repository
	router   *router.Router
	bus      notify.Bus
	logger   *zap.Logger
	slippage decimal.Decimal
}

// New wires the worker's dependencies. slippageTolerance is the fraction cut
// from the quoted output to form minAmountOut (0.02 for the fixed 2% band).
func New(q queue.Queue, orders order.Repository, r *router.Router, bus notify.Bus, slippageTolerance float64, logger *zap.Logger) *Worker {
	return &Worker{
		queue:    q,
		orders:   orders,
		router:   r,
		bus:      bus,
		logger:   logger,
		slippage: decimal.NewFromFloat(slippageTolerance),
	}
}

// Run registers the delivery handler and starts the queue's worker slots.
// It does not block; delivery stops when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.queue.Process(w.processJob)
	return w.queue.Start(ctx)
}

// processJob runs one delivery through the state machine:
// ROUTING -> BUILDING -> SUBMITTED -> CONFIRMED, or the failure path that
// either loops the order back to PENDING for a redelivery or parks it in
// FAILED once the attempt ceiling is reached.
func (w *Worker) processJob(ctx context.Context, job queue.Job) error {
	start := time.Now()
	defer func() {
		metrics.DeliveryLatency.Observe(time.Since(start).Seconds())
	}()

	p := job.Payload
	id, err := uuid.Parse(p.OrderID)
	if err != nil {
		return fmt.Errorf("malformed order id %q: %w", p.OrderID, err)
	}

	w.logger.Info("Processing order",
		zap.String("order_id", p.OrderID),
		zap.Int("attempt", job.Attempt),
		zap.String("token_in", p.TokenIn),
		zap.String("token_out", p.TokenOut),
		zap.String("amount_in", p.AmountIn.String()))

	if err := w.transition(ctx, id, order.StatusRouting, order.StatusFields{}, nil); err != nil {
		return err
	}

	best, err := w.router.BestQuote(ctx, p.TokenIn, p.TokenOut, p.AmountIn)
	if err != nil {
		return w.fail(ctx, id, job, err)
	}

	venueData := &notify.Data{SelectedVenue: best.Venue}
	if err := w.transition(ctx, id, order.StatusBuilding,
		order.StatusFields{SelectedVenue: best.Venue}, venueData); err != nil {
		return err
	}

	minAmountOut := best.EstimatedOut.Mul(decimal.NewFromInt(1).Sub(w.slippage))

	if err := w.transition(ctx, id, order.StatusSubmitted,
		order.StatusFields{SelectedVenue: best.Venue}, venueData); err != nil {
		return err
	}

	result, err := w.router.ExecuteSwap(ctx, best.Venue, p.TokenIn, p.TokenOut, p.AmountIn, minAmountOut)
	if err != nil {
		return w.fail(ctx, id, job, err)
	}

	if err := w.transition(ctx, id, order.StatusConfirmed,
		order.StatusFields{
			SelectedVenue: best.Venue,
			TxHash:        result.TxHash,
			ExecutedPrice: &result.ExecutedPrice,
			AmountOut:     &result.AmountOut,
		},
		&notify.Data{
			SelectedVenue: best.Venue,
			TxHash:        result.TxHash,
			ExecutedPrice: &result.ExecutedPrice,
			AmountOut:     &result.AmountOut,
		}); err != nil {
		return err
	}

	metrics.OrdersProcessed.WithLabelValues("confirmed").Inc()
	w.logger.Info("Order executed",
		zap.String("order_id", p.OrderID),
		zap.String("venue", best.Venue),
		zap.String("tx_hash", result.TxHash),
		zap.String("amount_out", result.AmountOut.String()))
	return nil
}

// fail handles a domain failure (quote, liquidity or slippage). At the
// attempt ceiling the order parks in FAILED and the delivery completes
// successfully from the queue's point of view. Below the ceiling the order
// loops back to PENDING with the attempt recorded, making "will retry"
// visible during the backoff window, and the cause is re-raised so the
// queue schedules the redelivery.
func (w *Worker) fail(ctx context.Context, id uuid.UUID, job queue.Job, cause error) error {
	reason := cause.Error()
	retry := job.Attempt

	if job.Attempt >= job.MaxAttempts {
		if err := w.transition(ctx, id, order.StatusFailed,
			order.StatusFields{FailureReason: reason, RetryCount: &retry},
			&notify.Data{FailureReason: reason}); err != nil {
			return err
		}
		metrics.OrdersProcessed.WithLabelValues("failed").Inc()
		w.logger.Error("Order failed after all retries",
			zap.String("order_id", id.String()),
			zap.Int("attempts", job.Attempt),
			zap.String("reason", reason))
		return nil
	}

	if _, err := w.orders.UpdateStatus(ctx, id, order.StatusPending,
		order.StatusFields{RetryCount: &retry}); err != nil {
		return fmt.Errorf("failed to persist retry state: %w", err)
	}
	metrics.OrdersProcessed.WithLabelValues("retried").Inc()
	w.logger.Info("Order will be retried",
		zap.String("order_id", id.String()),
		zap.Int("attempt", job.Attempt),
		zap.String("reason", reason))
	return cause
}

// transition persists a status change, then publishes it. Persistence errors
// abort the delivery; publish errors are logged and dropped, matching the
// bus's best-effort contract.
func (w *Worker) transition(ctx context.Context, id uuid.UUID, status string, fields order.StatusFields, data *notify.Data) error {
	if _, err := w.orders.UpdateStatus(ctx, id, status, fields); err != nil {
		return fmt.Errorf("failed to persist %s transition: %w", status, err)
	}
	if err := w.bus.Publish(ctx, notify.NewUpdate(id.String(), status, data)); err != nil {
		w.logger.Warn("Failed to publish transition",
			zap.Error(err),
			zap.String("order_id", id.String()),
			zap.String("status", status))
	}
	return nil
}
