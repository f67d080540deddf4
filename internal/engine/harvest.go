package engine

import (
	"context"
	"fmt"

	"CurveDesk/internal/event"
	"CurveDesk/internal/fees"
	"CurveDesk/internal/ledger"
	"CurveDesk/internal/state"

	"github.com/google/uuid"
)

// HarvestOutcome reports one collection of organically accrued position
// revenue. A zero Accrued means there was nothing to collect.
type HarvestOutcome struct {
	HarvestID   uuid.UUID
	Sequence    int64
	Accrued     int64
	CreatorFee  int64
	ProtocolFee int64
}

// Harvest collects fee revenue the venue position accrued from third-party
// activity and splits it between creator and protocol. Idempotent at zero
// accrual. Plain buys and sells never trigger it.
func (e *Engine) Harvest(ctx context.Context) (*HarvestOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.harvest(ctx)
}

// BuyAndHarvest settles a buy then harvests, under one serialization unit.
// The fee outcomes match sequential Buy and Harvest calls exactly: both
// paths run the same two operations back to back.
func (e *Engine) BuyAndHarvest(ctx context.Context, req TradeRequest) (*Settlement, *HarvestOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.buy(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	h, err := e.harvest(ctx)
	if err != nil {
		return s, nil, fmt.Errorf("trade settled, harvest failed: %w", err)
	}
	return s, h, nil
}

// SellAndHarvest is the sell-side composition.
func (e *Engine) SellAndHarvest(ctx context.Context, req TradeRequest) (*Settlement, *HarvestOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, err := e.sell(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	h, err := e.harvest(ctx)
	if err != nil {
		return s, nil, fmt.Errorf("trade settled, harvest failed: %w", err)
	}
	return s, h, nil
}

func (e *Engine) harvest(ctx context.Context) (*HarvestOutcome, error) {
	tok, ok := e.token.Get()
	if !ok {
		return nil, state.ErrNotInitialized
	}

	// CollectFees zeroes the accrual at the venue, so the fee path must
	// not be able to abort after it runs.
	if !e.tracker.IsReachable(e.protocolKey) {
		return nil, fmt.Errorf("%w: %s", fees.ErrProtocolUnreachable, e.protocolKey.AccountPath())
	}

	accrued, err := e.venue.CollectFees(ctx, tok.PoolID)
	if err != nil {
		return nil, fmt.Errorf("collect fees: %w", err)
	}
	if accrued == 0 {
		return &HarvestOutcome{}, nil
	}

	shares := fees.SplitHarvest(accrued)
	now := e.now()
	harvestID := uuid.New()

	batch := e.newBatch(harvestID.String(), now)
	batch.Add(ledger.JournalTypeHarvest, e.escrowFunding, e.venueFunding, ledger.FundingAssetID, accrued)

	// Same fallback cascade as trading fees: an unreachable creator's
	// share is redirected into the protocol share, never dropped.
	res, err := e.dist.Distribute(batch, e.escrowFunding, shares, e.recipients(tok, nil), nil)
	if err != nil {
		return nil, fmt.Errorf("distribute harvest: %w", err)
	}

	ev := &event.Harvested{
		HarvestID:   harvestID,
		Symbol:      tok.Symbol,
		Accrued:     accrued,
		CreatorFee:  res.CreatorPaid,
		ProtocolFee: res.ProtocolPaid,
		Timestamp:   now,
	}
	env, err := e.recorder.Commit(ev, batch, now)
	if err != nil {
		return nil, fmt.Errorf("commit harvest: %w", err)
	}

	if e.metrics != nil {
		e.metrics.HarvestAccrued.Add(float64(accrued))
	}
	e.log.Info().Int64("accrued", accrued).
		Int64("creator", res.CreatorPaid).Int64("protocol", res.ProtocolPaid).
		Msg("harvest settled")

	return &HarvestOutcome{
		HarvestID:   harvestID,
		Sequence:    env.Sequence,
		Accrued:     accrued,
		CreatorFee:  res.CreatorPaid,
		ProtocolFee: res.ProtocolPaid,
	}, nil
}
