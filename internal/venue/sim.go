package venue

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimParams tune a simulated venue. The mock venues differ only in these
// constants; the adapter logic is shared.
type SimParams struct {
	Name         string
	Fee          float64 // fee fraction, e.g. 0.003
	BaseOffset   float64 // added to the pair base price
	QuoteVarLow  float64 // lower bound of the quote price variance envelope
	QuoteVarSpan float64
	ExecVarLow   float64 // lower bound of the execution price variance envelope
	ExecVarSpan  float64
	QuoteDelay   time.Duration
	SwapDelay    time.Duration
	FailureRate  float64 // probability in [0,1] of a simulated liquidity failure
	LiquidityMsg string  // venue-flavored liquidity failure text
	Seed         int64   // 0 means seeded from the clock
}

// SimAdapter is a simulated venue adapter driven by SimParams.
type SimAdapter struct {
	params SimParams
	fee    decimal.Decimal
	logger *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimAdapter creates a simulated venue from explicit parameters.
func NewSimAdapter(params SimParams, logger *zap.Logger) *SimAdapter {
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimAdapter{
		params: params,
		fee:    decimal.NewFromFloat(params.Fee),
		logger: logger,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// NewSimRaydium creates the simulated raydium venue (0.3% fee, ±2% quote
// variance).
func NewSimRaydium(quoteDelay, swapDelay time.Duration, failureRate float64, logger *zap.Logger) *SimAdapter {
	return NewSimAdapter(SimParams{
		Name:         Raydium,
		Fee:          0.003,
		BaseOffset:   1.0,
		QuoteVarLow:  0.98,
		QuoteVarSpan: 0.04,
		ExecVarLow:   0.99,
		ExecVarSpan:  0.02,
		QuoteDelay:   quoteDelay,
		SwapDelay:    swapDelay,
		FailureRate:  failureRate,
		LiquidityMsg: "swap execution failed",
	}, logger)
}

// NewSimMeteora creates the simulated meteora venue (0.2% fee, ±2.5% quote
// variance, slightly better base price).
func NewSimMeteora(quoteDelay, swapDelay time.Duration, failureRate float64, logger *zap.Logger) *SimAdapter {
	return NewSimAdapter(SimParams{
		Name:         Meteora,
		Fee:          0.002,
		BaseOffset:   1.02,
		QuoteVarLow:  0.975,
		QuoteVarSpan: 0.05,
		ExecVarLow:   0.985,
		ExecVarSpan:  0.03,
		QuoteDelay:   quoteDelay,
		SwapDelay:    swapDelay,
		FailureRate:  failureRate,
		LiquidityMsg: "pool reserves depleted",
	}, logger)
}

// Name returns the venue identifier.
func (s *SimAdapter) Name() string { return s.params.Name }

// Quote returns a fresh estimate for amountIn after the simulated latency.
func (s *SimAdapter) Quote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (Quote, error) {
	if err := sleep(ctx, s.params.QuoteDelay); err != nil {
		return Quote{}, err
	}

	variance := s.params.QuoteVarLow + s.random()*s.params.QuoteVarSpan
	price := decimal.NewFromFloat(s.basePrice(tokenIn, tokenOut) * variance)
	estimated := amountIn.Mul(price).Mul(decimal.NewFromInt(1).Sub(s.fee))

	s.logger.Debug("Quote fetched",
		zap.String("venue", s.params.Name),
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.String("amount_in", amountIn.String()),
		zap.String("estimated_out", estimated.String()))

	return Quote{
		Venue:        s.params.Name,
		Price:        price,
		Fee:          s.fee,
		EstimatedOut: estimated,
	}, nil
}

// ExecuteSwap simulates a multi-second execution, failing with a liquidity
// error at the configured probability and with a slippage error when the
// realized output falls below minAmountOut.
func (s *SimAdapter) ExecuteSwap(ctx context.Context, tokenIn, tokenOut string, amountIn, minAmountOut decimal.Decimal) (SwapResult, error) {
	delay := s.params.SwapDelay + time.Duration(s.random()*float64(time.Second))
	if err := sleep(ctx, delay); err != nil {
		return SwapResult{}, err
	}

	if s.random() < s.params.FailureRate {
		return SwapResult{}, fmt.Errorf("%s: %s: %w", s.params.Name, s.params.LiquidityMsg, ErrInsufficientLiquidity)
	}

	variance := s.params.ExecVarLow + s.random()*s.params.ExecVarSpan
	executedPrice := decimal.NewFromFloat(s.basePrice(tokenIn, tokenOut) * variance)
	amountOut := amountIn.Mul(executedPrice).Mul(decimal.NewFromInt(1).Sub(s.fee))

	if amountOut.LessThan(minAmountOut) {
		return SwapResult{}, fmt.Errorf("%s: %w", s.params.Name, ErrSlippageExceeded)
	}

	result := SwapResult{
		TxHash:        s.txHash(),
		ExecutedPrice: executedPrice,
		AmountOut:     amountOut,
	}

	s.logger.Info("Swap executed",
		zap.String("venue", s.params.Name),
		zap.String("tx_hash", result.TxHash),
		zap.String("amount_out", amountOut.String()))

	return result, nil
}

// basePrice derives a stable pair price from the token identifiers, standing
// in for a real pool lookup.
func (s *SimAdapter) basePrice(tokenIn, tokenOut string) float64 {
	var sum int
	for _, c := range tokenIn + tokenOut {
		sum += int(c)
	}
	return s.params.BaseOffset + float64(sum%100)/100
}

func (s *SimAdapter) random() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

func (s *SimAdapter) txHash() string {
	buf := make([]byte, 32)
	s.mu.Lock()
	s.rng.Read(buf)
	s.mu.Unlock()
	return hex.EncodeToString(buf)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
