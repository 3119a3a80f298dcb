package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/swapflow/internal/notify"
	"github.com/Aidin1998/swapflow/internal/order"
	"github.com/Aidin1998/swapflow/internal/queue"
	"github.com/Aidin1998/swapflow/internal/router"
	"github.com/Aidin1998/swapflow/internal/venue"
)

// stubVenue returns canned quotes and execution results.
type stubVenue struct {
	name      string
	estimated decimal.Decimal
	quoteErr  error
	execErr   error
	result    venue.SwapResult

	mu        sync.Mutex
	execCalls int
}

func (s *stubVenue) Name() string { return s.name }

func (s *stubVenue) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (venue.Quote, error) {
	if s.quoteErr != nil {
		return venue.Quote{}, s.quoteErr
	}
	return venue.Quote{
		Venue:        s.name,
		Price:        decimal.NewFromInt(1),
		Fee:          decimal.NewFromFloat(0.002),
		EstimatedOut: s.estimated,
	}, nil
}

func (s *stubVenue) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut decimal.Decimal) (venue.SwapResult, error) {
	s.mu.Lock()
	s.execCalls++
	s.mu.Unlock()
	if s.execErr != nil {
		return venue.SwapResult{}, s.execErr
	}
	return s.result, nil
}

func (s *stubVenue) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execCalls
}

// updateRecorder collects bus updates.
type updateRecorder struct {
	mu      sync.Mutex
	updates []notify.Update
}

func (r *updateRecorder) record(u notify.Update) {
	r.mu.Lock()
	r.updates = append(r.updates, u)
	r.mu.Unlock()
}

func (r *updateRecorder) all() []notify.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Update, len(r.updates))
	copy(out, r.updates)
	return out
}

func setupRepo(t *testing.T) order.Repository {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&order.Order{}))
	return order.NewGormRepository(db, zap.NewNop())
}

func createOrder(t *testing.T, repo order.Repository) *order.Order {
	o, err := repo.Create(context.Background(), order.CreateRequest{
		UserID:   "u1",
		Kind:     order.KindMarket,
		TokenIn:  "SOL",
		TokenOut: "USDC",
		AmountIn: decimal.NewFromInt(100),
	})
	require.NoError(t, err)
	return o
}

func jobFor(o *order.Order, attempt, maxAttempts int) queue.Job {
	return queue.Job{
		ID:  uuid.NewString(),
		Key: o.ID.String(),
		Payload: queue.Payload{
			OrderID:  o.ID.String(),
			UserID:   o.UserID,
			Kind:     o.Kind,
			TokenIn:  o.TokenIn,
			TokenOut: o.TokenOut,
			AmountIn: o.AmountIn,
		},
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now(),
	}
}

func TestDeliveryConfirmsOrder(t *testing.T) {
	repo := setupRepo(t)
	bus := notify.NewMemoryBus()
	ctx := context.Background()

	rec := &updateRecorder{}
	require.NoError(t, bus.Subscribe(ctx, rec.record))

	price := decimal.NewFromFloat(1.015)
	out := decimal.NewFromFloat(101.5)
	worse := &stubVenue{name: venue.Raydium, estimated: decimal.NewFromInt(100)}
	better := &stubVenue{
		name:      venue.Meteora,
		estimated: decimal.NewFromInt(102),
		result:    venue.SwapResult{TxHash: "abc123", ExecutedPrice: price, AmountOut: out},
	}

	w := New(nil, repo, router.New(zap.NewNop(), worse, better), bus, 0.02, zap.NewNop())
	o := createOrder(t, repo)

	require.NoError(t, w.processJob(ctx, jobFor(o, 1, 3)))

	final, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, final.Status)
	assert.Equal(t, venue.Meteora, final.SelectedVenue)
	assert.Equal(t, "abc123", final.TxHash)
	assert.Equal(t, 0, final.RetryCount)
	require.NotNil(t, final.AmountOut)
	// Within the 2% slippage band of the 102 estimate.
	minOut := decimal.NewFromInt(102).Mul(decimal.NewFromFloat(0.98))
	assert.True(t, final.AmountOut.GreaterThanOrEqual(minOut))
	require.NotNil(t, final.ExecutedPrice)
	assert.True(t, final.ExecutedPrice.Equal(price))

	updates := rec.all()
	require.Len(t, updates, 4)
	wantStatuses := []string{order.StatusRouting, order.StatusBuilding, order.StatusSubmitted, order.StatusConfirmed}
	for i, want := range wantStatuses {
		assert.Equal(t, want, updates[i].Status)
		assert.Equal(t, o.ID.String(), updates[i].OrderID)
	}
	for i := 1; i < len(updates); i++ {
		assert.False(t, updates[i].Timestamp.Before(updates[i-1].Timestamp))
	}
	require.NotNil(t, updates[1].Data)
	assert.Equal(t, venue.Meteora, updates[1].Data.SelectedVenue)
	require.NotNil(t, updates[3].Data)
	assert.Equal(t, "abc123", updates[3].Data.TxHash)
}

func TestDeliveryLoopsBackToPending(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	failing := &stubVenue{
		name:      venue.Raydium,
		estimated: decimal.NewFromInt(100),
		execErr:   venue.ErrInsufficientLiquidity,
	}
	w := New(nil, repo, router.New(zap.NewNop(), failing), notify.NewMemoryBus(), 0.02, zap.NewNop())
	o := createOrder(t, repo)

	err := w.processJob(ctx, jobFor(o, 1, 3))
	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrInsufficientLiquidity)

	// The loop-back transition is visible before the redelivery happens.
	mid, gerr := repo.GetByID(ctx, o.ID)
	require.NoError(t, gerr)
	assert.Equal(t, order.StatusPending, mid.Status)
	assert.Equal(t, 1, mid.RetryCount)
	assert.Empty(t, mid.FailureReason)
}

func TestDeliveryFailsAtAttemptCeiling(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	failing := &stubVenue{
		name:      venue.Raydium,
		estimated: decimal.NewFromInt(100),
		execErr:   venue.ErrInsufficientLiquidity,
	}
	w := New(nil, repo, router.New(zap.NewNop(), failing), notify.NewMemoryBus(), 0.02, zap.NewNop())
	o := createOrder(t, repo)

	// Final attempt: the delivery succeeds from the queue's point of view
	// even though the order fails.
	require.NoError(t, w.processJob(ctx, jobFor(o, 3, 3)))

	final, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, final.Status)
	assert.Equal(t, 3, final.RetryCount)
	assert.Contains(t, final.FailureReason, "insufficient liquidity")
	assert.Nil(t, final.AmountOut)
	assert.Empty(t, final.TxHash)
}

func TestQuoteFailureCountsTowardRetry(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	healthy := &stubVenue{name: venue.Raydium, estimated: decimal.NewFromInt(100)}
	broken := &stubVenue{name: venue.Meteora, quoteErr: errors.New("venue unreachable")}
	w := New(nil, repo, router.New(zap.NewNop(), healthy, broken), notify.NewMemoryBus(), 0.02, zap.NewNop())
	o := createOrder(t, repo)

	require.NoError(t, w.processJob(ctx, jobFor(o, 2, 2)))

	final, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusFailed, final.Status)
	assert.Contains(t, final.FailureReason, "venue unreachable")
	assert.Equal(t, 0, healthy.calls(), "no execution after a failed quote fan-out")
}

func TestEndToEndConfirmed(t *testing.T) {
	repo := setupRepo(t)
	bus := notify.NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemoryQueue(queue.Config{
		Concurrency: 2,
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
	}, zap.NewNop())

	worse := &stubVenue{name: venue.Raydium, estimated: decimal.NewFromInt(100)}
	better := &stubVenue{
		name:      venue.Meteora,
		estimated: decimal.NewFromInt(102),
		result: venue.SwapResult{
			TxHash:        "feedface",
			ExecutedPrice: decimal.NewFromFloat(1.01),
			AmountOut:     decimal.NewFromFloat(101.0),
		},
	}

	w := New(q, repo, router.New(zap.NewNop(), worse, better), bus, 0.02, zap.NewNop())
	require.NoError(t, w.Run(ctx))
	defer q.Close(context.Background())

	o := createOrder(t, repo)
	_, err := q.Enqueue(ctx, o.ID.String(), jobFor(o, 1, 3).Payload)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := repo.GetByID(ctx, o.ID)
		return err == nil && got.Status == order.StatusConfirmed
	}, 2*time.Second, 10*time.Millisecond)

	final, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, venue.Meteora, final.SelectedVenue)
	assert.Equal(t, "feedface", final.TxHash)
}

func TestEndToEndExhaustsRetries(t *testing.T) {
	repo := setupRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := queue.NewMemoryQueue(queue.Config{
		Concurrency: 2,
		MaxAttempts: 3,
		BackoffBase: 5 * time.Millisecond,
	}, zap.NewNop())

	failing := &stubVenue{
		name:      venue.Raydium,
		estimated: decimal.NewFromInt(100),
		execErr:   venue.ErrInsufficientLiquidity,
	}

	w := New(q, repo, router.New(zap.NewNop(), failing), notify.NewMemoryBus(), 0.02, zap.NewNop())
	require.NoError(t, w.Run(ctx))
	defer q.Close(context.Background())

	o := createOrder(t, repo)
	_, err := q.Enqueue(ctx, o.ID.String(), jobFor(o, 1, 3).Payload)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		got, err := repo.GetByID(ctx, o.ID)
		return err == nil && got.Status == order.StatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	final, err := repo.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, final.RetryCount)
	assert.NotEmpty(t, final.FailureReason)
	assert.Equal(t, 3, failing.calls(), "exactly maxAttempts deliveries")
}

// erroringRepo simulates a store that fails mid-transition.
type erroringRepo struct {
	order.Repository
}

func (e *erroringRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string, fields order.StatusFields) (*order.Order, error) {
	return nil, errors.New("connection reset")
}

func TestPersistenceFailurePropagates(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	healthy := &stubVenue{name: venue.Raydium, estimated: decimal.NewFromInt(100)}
	w := New(nil, &erroringRepo{Repository: repo}, router.New(zap.NewNop(), healthy), notify.NewMemoryBus(), 0.02, zap.NewNop())
	o := createOrder(t, repo)

	err := w.processJob(ctx, jobFor(o, 1, 3))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to persist")
	assert.Equal(t, 0, healthy.calls())
}
