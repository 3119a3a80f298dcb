// Package router fans quote requests out to every configured venue adapter,
// selects the best quote and dispatches execution to the chosen venue.
package router

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/swapflow/internal/venue"
)

// Router routes swap orders over an ordered list of venue adapters. The
// registration order doubles as the tie-break priority.
type Router struct {
	adapters []venue.Adapter
	logger   *zap.Logger
}

// New creates a router over the given adapters. Adding a venue means
// appending to this list; the selection logic never changes.
func New(logger *zap.Logger, adapters ...venue.Adapter) *Router {
	return &Router{adapters: adapters, logger: logger}
}

// BestQuote queries every adapter concurrently and returns the quote with
// the greatest estimated output. The call is all-or-nothing: a failure from
// any adapter fails the whole call, there is no best-of-survivors mode.
// Exact ties resolve deterministically to the later venue in registration
// order.
func (r *Router) BestQuote(ctx context.Context, tokenIn, tokenOut string, amountIn decimal.Decimal) (venue.Quote, error) {
	if len(r.adapters) == 0 {
		return venue.Quote{}, fmt.Errorf("no venue adapters configured")
	}

	quotes := make([]venue.Quote, len(r.adapters))
	g, ctx := errgroup.WithContext(ctx)
	for i, adapter := range r.adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			q, err := adapter.Quote(ctx, tokenIn, tokenOut, amountIn)
			if err != nil {
				return fmt.Errorf("quote from %s failed: %w", adapter.Name(), err)
			}
			quotes[i] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return venue.Quote{}, err
	}

	best := quotes[0]
	for _, q := range quotes[1:] {
		if q.EstimatedOut.GreaterThanOrEqual(best.EstimatedOut) {
			best = q
		}
	}

	r.logger.Info("Best venue selected",
		zap.String("venue", best.Venue),
		zap.String("estimated_out", best.EstimatedOut.String()),
		zap.Int("venues_quoted", len(quotes)))

	return best, nil
}

// ExecuteSwap dispatches execution to the named venue. Liquidity and
// slippage failures from the adapter pass through unchanged so the caller
// can tell them apart.
func (r *Router) ExecuteSwap(ctx context.Context, venueName, tokenIn, tokenOut string, amountIn, minAmountOut decimal.Decimal) (venue.SwapResult, error) {
	adapter := r.adapter(venueName)
	if adapter == nil {
		return venue.SwapResult{}, fmt.Errorf("unknown venue %q", venueName)
	}

	r.logger.Info("Executing swap",
		zap.String("venue", venueName),
		zap.String("token_in", tokenIn),
		zap.String("token_out", tokenOut),
		zap.String("amount_in", amountIn.String()),
		zap.String("min_amount_out", minAmountOut.String()))

	result, err := adapter.ExecuteSwap(ctx, tokenIn, tokenOut, amountIn, minAmountOut)
	if err != nil {
		r.logger.Error("Swap execution failed",
			zap.Error(err),
			zap.String("venue", venueName))
		return venue.SwapResult{}, err
	}
	return result, nil
}

func (r *Router) adapter(name string) venue.Adapter {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	return nil
}
