// Package accumulator buffers the burn share of trading fees and converts
// it, opportunistically and permissionlessly, into the target asset, which
// is sent to the burn sink and permanently destroyed.
package accumulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"CurveDesk/internal/event"
	"CurveDesk/internal/fees"
	"CurveDesk/internal/guard"
	"CurveDesk/internal/ledger"
	fpmath "CurveDesk/internal/math"
	"CurveDesk/internal/observability"
	"CurveDesk/internal/oracle"
	"CurveDesk/internal/record"
	"CurveDesk/internal/venue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrDisabled: the accumulator is not accepting deposits. Depositors
	// redirect the share to protocol; this never fails their trade.
	ErrDisabled = errors.New("burn accumulator disabled")

	// ErrSlippageFloor: the venue could not deliver the oracle-derived
	// minimum output. The pending balance stays for a future attempt.
	ErrSlippageFloor = errors.New("burn flush below slippage floor")
)

// Config binds the accumulator to its conversion route.
type Config struct {
	TargetSymbol string    // asset bought and destroyed
	PoolID       uuid.UUID // venue position for funding→target swaps
	Enabled      bool
}

// Accumulator holds the pending burn balance (a ledger system account, so
// deposits participate in trade batch atomicity) and drains it through its
// own settlement guard. A failing flush can never lose funds or block
// trading: the balance is simply left pending.
type Accumulator struct {
	mu sync.Mutex

	log      zerolog.Logger
	cfg      Config
	feeCfg   fees.Provider
	guard    *guard.Guard
	venue    venue.Venue
	tracker  *ledger.BalanceTracker
	recorder *record.Recorder
	quoter   oracle.PriceQuoter // optional
	metrics  *observability.Metrics
	now      func() time.Time

	targetAssetID ledger.AssetID
	pendingKey    ledger.AccountKey
	sinkKey       ledger.AccountKey
	venueFunding  ledger.AccountKey
	venueTarget   ledger.AccountKey

	lockCtx  context.Context
	inflight *venue.SwapResult
}

func New(
	cfg Config,
	feeCfg fees.Provider,
	vn venue.Venue,
	tracker *ledger.BalanceTracker,
	recorder *record.Recorder,
	quoter oracle.PriceQuoter,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Accumulator {
	targetAssetID := ledger.RegisterAsset(cfg.TargetSymbol)

	return &Accumulator{
		log:           log,
		cfg:           cfg,
		feeCfg:        feeCfg,
		guard:         guard.New(vn.ID()),
		venue:         vn,
		tracker:       tracker,
		recorder:      recorder,
		quoter:        quoter,
		metrics:       metrics,
		now:           time.Now,
		targetAssetID: targetAssetID,
		pendingKey:    ledger.NewSystemAccountKey("burn", ledger.SubTypeBurnPending, ledger.FundingAssetID),
		sinkKey:       ledger.NewExternalAccountKey(ledger.SubTypeExternalBurnSink, targetAssetID),
		venueFunding:  ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, ledger.FundingAssetID),
		venueTarget:   ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, targetAssetID),
	}
}

// SetEnabled toggles deposit acceptance. Disabling never touches the
// pending balance.
func (a *Accumulator) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.cfg.Enabled = enabled
	a.mu.Unlock()
}

// PendingBalance returns the funding base units awaiting conversion.
func (a *Accumulator) PendingBalance() int64 {
	return a.tracker.GetBalance(a.pendingKey)
}

// PendingAccount exposes the ledger key holding the pending balance.
func (a *Accumulator) PendingAccount() ledger.AccountKey {
	return a.pendingKey
}

// DepositJournal stages a burn-share deposit as a leg of the caller's
// settlement batch. The credit only lands if the caller's batch commits,
// so a failed trade rolls the deposit back with everything else.
func (a *Accumulator) DepositJournal(batch *ledger.Batch, from ledger.AccountKey, amount int64) error {
	a.mu.Lock()
	enabled := a.cfg.Enabled
	a.mu.Unlock()

	if !enabled {
		if a.metrics != nil {
			a.metrics.BurnDeposits.WithLabelValues("rejected").Inc()
		}
		return ErrDisabled
	}
	if amount <= 0 {
		return fmt.Errorf("non-positive deposit: %d", amount)
	}

	batch.Add(ledger.JournalTypeBurnCredit, a.pendingKey, from, ledger.FundingAssetID, amount)
	if a.metrics != nil {
		a.metrics.BurnDeposits.WithLabelValues("accepted").Inc()
	}
	return nil
}

type flushPayload struct {
	FlushID uuid.UUID `json:"flush_id"`
	Amount  int64     `json:"amount"`
}

// Flush drains the entire pending balance into the target asset and sends
// it to the burn sink. Permissionless. Zero pending or a disabled
// accumulator is a no-op. Any failure leaves the pending balance exactly
// unchanged and is reported to the direct caller; implicit triggers use
// TryFlush instead.
func (a *Accumulator) Flush(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.now()

	if !a.cfg.Enabled {
		return nil
	}

	pending := a.PendingBalance()
	if pending == 0 {
		return nil
	}

	minOut, err := a.slippageFloor(ctx, pending)
	if err != nil {
		a.countFlush("oracle_error")
		return fmt.Errorf("flush aborted, no usable quote: %w", err)
	}

	flushID := uuid.New()
	payload, _ := json.Marshal(flushPayload{FlushID: flushID, Amount: pending})

	if err := a.guard.Arm(guard.Context{
		Kind:   guard.OpFlush,
		Amount: pending,
		MinOut: minOut,
	}); err != nil {
		return err
	}
	// No stale context may survive this operation, callback or not.
	defer a.guard.Disarm()

	a.lockCtx = ctx
	a.inflight = nil
	err = a.venue.Lock(ctx, a, payload)
	a.lockCtx = nil

	if err != nil {
		a.countFlush("venue_error")
		a.log.Warn().Err(err).Int64("pending", pending).Msg("burn flush failed, balance stays pending")
		return fmt.Errorf("burn flush: %w", err)
	}

	fill := a.inflight
	a.inflight = nil
	if fill == nil {
		a.countFlush("no_callback")
		return fmt.Errorf("burn flush: %w: venue returned without callback", venue.ErrUnavailable)
	}

	now := a.now()
	batch := &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  flushID.String(),
		Sequence:  a.recorder.Sequence(),
		Timestamp: now.UnixMicro(),
	}
	batch.Add(ledger.JournalTypeBurnFlush, a.venueFunding, a.pendingKey, ledger.FundingAssetID, pending)
	batch.Add(ledger.JournalTypeBurnFlush, a.sinkKey, a.venueTarget, a.targetAssetID, fill.AmountOut)

	ev := &event.BurnFlushed{
		FlushID:     flushID,
		FundingIn:   pending,
		Burned:      fill.AmountOut,
		TargetAsset: a.cfg.TargetSymbol,
		MinOut:      minOut,
		Timestamp:   now,
	}

	if _, err := a.recorder.Commit(ev, batch, now); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}

	a.countFlush("success")
	if a.metrics != nil {
		a.metrics.BurnedTotal.Add(float64(fill.AmountOut))
		a.metrics.BurnPending.Set(float64(a.PendingBalance()))
		a.metrics.FlushDuration.Observe(time.Since(start).Seconds())
	}

	a.log.Info().
		Str("flush_id", flushID.String()).
		Int64("funding_in", pending).
		Int64("burned", fill.AmountOut).
		Msg("burn flush settled")

	return nil
}

// TryFlush is the best-effort variant used when a trade triggers a flush
// implicitly: failures are logged and swallowed so a user-facing trade is
// never blocked by the accumulator.
func (a *Accumulator) TryFlush(ctx context.Context) {
	if err := a.Flush(ctx); err != nil {
		a.log.Warn().Err(err).Msg("implicit burn flush skipped")
	}
}

// UnlockCallback is the venue's reentry point for flush settlements. Same
// guard discipline as the trade engine, on this subsystem's own guard.
func (a *Accumulator) UnlockCallback(caller uuid.UUID, payload []byte) error {
	gctx, err := a.guard.Consume(caller)
	if err != nil {
		if a.metrics != nil {
			a.metrics.GuardViolations.WithLabelValues("accumulator").Inc()
		}
		a.log.Error().Err(err).Str("caller", caller.String()).Msg("rejected flush callback")
		return err
	}
	if gctx.Kind != guard.OpFlush {
		return fmt.Errorf("%w: trade context on flush callback", guard.ErrViolation)
	}

	var pl flushPayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("flush payload: %w", err)
	}
	if pl.Amount != gctx.Amount {
		return fmt.Errorf("%w: payload amount %d != armed %d", guard.ErrViolation, pl.Amount, gctx.Amount)
	}

	fill, err := a.venue.Swap(a.lockCtx, a.cfg.PoolID, venue.DirectionBuy, gctx.Amount, 0)
	if err != nil {
		return fmt.Errorf("flush swap: %w", err)
	}
	if fill.AmountIn != gctx.Amount {
		return fmt.Errorf("%w: consumed %d of %d", venue.ErrUnavailable, fill.AmountIn, gctx.Amount)
	}
	// A zero-output fill has no sink leg to journal; reject it here so the
	// venue reverts and the balance stays pending.
	if fill.AmountOut == 0 {
		return fmt.Errorf("%w: flush produced no output", ErrSlippageFloor)
	}
	if gctx.MinOut > 0 && fill.AmountOut < gctx.MinOut {
		return fmt.Errorf("%w: out %d < floor %d", ErrSlippageFloor, fill.AmountOut, gctx.MinOut)
	}

	a.inflight = &fill
	return nil
}

// slippageFloor derives the minimum acceptable target-asset output from the
// oracle quote and the configured ceiling. Without a quoter there is no
// floor.
func (a *Accumulator) slippageFloor(ctx context.Context, pending int64) (int64, error) {
	if a.quoter == nil {
		return 0, nil
	}

	fundingSymbol, _ := ledger.GetAssetName(ledger.FundingAssetID)
	price, err := a.quoter.QuotePrice(ctx, fundingSymbol, a.cfg.TargetSymbol)
	if err != nil {
		return 0, err
	}

	expected := fpmath.MulDivFloor(pending, price, fpmath.PriceConfig.Scale)
	ceiling := a.feeCfg.Current().SlippageCeilingBps
	return fpmath.ApplyBPS(expected, fpmath.BPSDenominator-ceiling), nil
}

func (a *Accumulator) countFlush(result string) {
	if a.metrics != nil {
		a.metrics.FlushAttempts.WithLabelValues(result).Inc()
	}
}
