package venue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/swapflow/internal/venue"
)

func newFastSim(name string, failureRate float64, seed int64) *venue.SimAdapter {
	params := venue.SimParams{
		Name:         name,
		Fee:          0.003,
		BaseOffset:   1.0,
		QuoteVarLow:  0.98,
		QuoteVarSpan: 0.04,
		ExecVarLow:   0.99,
		ExecVarSpan:  0.02,
		FailureRate:  failureRate,
		LiquidityMsg: "swap execution failed",
		Seed:         seed,
	}
	return venue.NewSimAdapter(params, zap.NewNop())
}

func TestQuoteAppliesFee(t *testing.T) {
	sim := newFastSim(venue.Raydium, 0, 1)
	amountIn := decimal.NewFromInt(100)

	q, err := sim.Quote(context.Background(), "SOL", "USDC", amountIn)
	require.NoError(t, err)

	assert.Equal(t, venue.Raydium, q.Venue)
	assert.True(t, q.EstimatedOut.GreaterThan(decimal.Zero))
	// Estimated output is amountIn * price less the fee.
	expected := amountIn.Mul(q.Price).Mul(decimal.NewFromInt(1).Sub(q.Fee))
	assert.True(t, q.EstimatedOut.Equal(expected))
}

func TestQuoteDeterministicWithSeed(t *testing.T) {
	a := newFastSim(venue.Raydium, 0, 42)
	b := newFastSim(venue.Raydium, 0, 42)

	qa, err := a.Quote(context.Background(), "SOL", "USDC", decimal.NewFromInt(100))
	require.NoError(t, err)
	qb, err := b.Quote(context.Background(), "SOL", "USDC", decimal.NewFromInt(100))
	require.NoError(t, err)

	assert.True(t, qa.EstimatedOut.Equal(qb.EstimatedOut))
}

func TestExecuteSwapLiquidityFailure(t *testing.T) {
	sim := newFastSim(venue.Raydium, 1.0, 1)

	_, err := sim.ExecuteSwap(context.Background(), "SOL", "USDC",
		decimal.NewFromInt(100), decimal.Zero)
	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrInsufficientLiquidity)
	assert.NotErrorIs(t, err, venue.ErrSlippageExceeded)
}

func TestExecuteSwapSlippageFailure(t *testing.T) {
	sim := newFastSim(venue.Raydium, 0, 1)

	// An absurd minimum output forces the slippage check to trip.
	_, err := sim.ExecuteSwap(context.Background(), "SOL", "USDC",
		decimal.NewFromInt(100), decimal.NewFromInt(1_000_000))
	require.Error(t, err)
	assert.ErrorIs(t, err, venue.ErrSlippageExceeded)
}

func TestExecuteSwapHonorsMinAmountOut(t *testing.T) {
	sim := newFastSim(venue.Raydium, 0, 7)
	amountIn := decimal.NewFromInt(100)

	res, err := sim.ExecuteSwap(context.Background(), "SOL", "USDC", amountIn, decimal.NewFromInt(1))
	require.NoError(t, err)

	assert.NotEmpty(t, res.TxHash)
	assert.Len(t, res.TxHash, 64)
	assert.True(t, res.AmountOut.GreaterThanOrEqual(decimal.NewFromInt(1)))
	assert.True(t, res.ExecutedPrice.GreaterThan(decimal.Zero))
}

func TestExecuteSwapRespectsContext(t *testing.T) {
	params := venue.SimParams{
		Name:      venue.Meteora,
		SwapDelay: 5 * time.Second,
		Seed:      1,
	}
	sim := venue.NewSimAdapter(params, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.ExecuteSwap(ctx, "SOL", "USDC", decimal.NewFromInt(1), decimal.Zero)
	assert.True(t, errors.Is(err, context.Canceled))
}
