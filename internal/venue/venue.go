// Package venue defines the liquidity venue adapter contract and the
// simulated adapters used for development.
package venue

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Known venue names. The router treats venues as an open set; these are the
// two simulated defaults.
const (
	Raydium = "raydium"
	Meteora = "meteora"
)

// Execution failure causes the state machine distinguishes for failureReason.
var (
	// ErrInsufficientLiquidity means the venue could not cover amountIn.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	// ErrSlippageExceeded means the realized output fell below minAmountOut.
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")
)

// Quote is a venue's non-binding estimate for a requested input amount.
// Quotes are produced fresh per routing decision and never persisted.
type Quote struct {
	Venue        string
	Price        decimal.Decimal
	Fee          decimal.Decimal
	EstimatedOut decimal.Decimal
}

// SwapResult is the outcome of a completed execution.
type SwapResult struct {
	TxHash        string
	ExecutedPrice decimal.Decimal
	AmountOut     decimal.Decimal
}

// Adapter is the capability set a venue exposes to the router. A production
// adapter replaces the body of both methods while keeping this contract.
type Adapter interface {
	Name() string
	Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (Quote, error)
	ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut decimal.Decimal) (SwapResult, error)
}
