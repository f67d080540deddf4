package engine

import (
	"context"
	"fmt"

	"CurveDesk/internal/ledger"
	fpmath "CurveDesk/internal/math"
	"CurveDesk/internal/state"
	"CurveDesk/internal/venue"

	"github.com/google/uuid"
)

// Quote is a read-only trade preview. The fee arithmetic runs in the same
// order as the real trade (fee first, then the venue simulation) so a
// caller can build a MinOutput bound that the real trade will honor.
type Quote struct {
	FeeRateBps         int64
	Fee                int64
	Net                int64 // what would cross the venue (buy) / token input (sell)
	EstimatedOutput    int64 // tokens out (buy) / post-fee payout (sell)
	EstimatedPostPrice int64
}

// QuoteBuy previews a buy of `input` funding base units.
func (e *Engine) QuoteBuy(ctx context.Context, input int64) (*Quote, error) {
	tok, ok := e.token.Get()
	if !ok {
		return nil, state.ErrNotInitialized
	}
	if input <= 0 {
		return nil, ErrAmountZero
	}
	if e.metrics != nil {
		e.metrics.QuoteRequests.WithLabelValues("buy").Inc()
	}

	cfg := e.feeCfg.Current()
	fee := fpmath.ApplyBPS(input, cfg.TotalFeeBps)
	net := input - fee
	if net <= 0 {
		return nil, fmt.Errorf("%w: nothing left after fee", ErrBelowMinimum)
	}

	sim, err := e.venue.QuoteSwap(ctx, tok.PoolID, venue.DirectionBuy, net, 0)
	if err != nil {
		return nil, fmt.Errorf("quote swap: %w", err)
	}

	return &Quote{
		FeeRateBps:         cfg.TotalFeeBps,
		Fee:                fee,
		Net:                net,
		EstimatedOutput:    sim.AmountOut,
		EstimatedPostPrice: sim.PostPrice,
	}, nil
}

// QuoteSell previews a sell of `amount` token base units. The fee applies
// to the simulated proceeds, mirroring the real sell.
func (e *Engine) QuoteSell(ctx context.Context, amount int64) (*Quote, error) {
	tok, ok := e.token.Get()
	if !ok {
		return nil, state.ErrNotInitialized
	}
	if amount <= 0 {
		return nil, ErrAmountZero
	}
	if e.metrics != nil {
		e.metrics.QuoteRequests.WithLabelValues("sell").Inc()
	}

	cfg := e.feeCfg.Current()
	sim, err := e.venue.QuoteSwap(ctx, tok.PoolID, venue.DirectionSell, amount, 0)
	if err != nil {
		return nil, fmt.Errorf("quote swap: %w", err)
	}

	fee := fpmath.ApplyBPS(sim.AmountOut, cfg.TotalFeeBps)
	return &Quote{
		FeeRateBps:         cfg.TotalFeeBps,
		Fee:                fee,
		Net:                amount,
		EstimatedOutput:    sim.AmountOut - fee,
		EstimatedPostPrice: sim.PostPrice,
	}, nil
}

// Balance reports a user's ledger balance for an asset symbol.
func (e *Engine) Balance(user uuid.UUID, symbol string) int64 {
	assetID, ok := ledger.GetAssetID(symbol)
	if !ok {
		return 0
	}
	return e.tracker.GetUserBalance(user, assetID)
}
