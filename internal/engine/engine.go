// Package engine orchestrates buy and sell settlements: input validation,
// live fee-config reads, the guarded venue interaction, exact fill
// validation, and the fee waterfall, all committed as one atomic journal
// batch.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"CurveDesk/internal/accumulator"
	"CurveDesk/internal/event"
	"CurveDesk/internal/fees"
	"CurveDesk/internal/guard"
	"CurveDesk/internal/ledger"
	fpmath "CurveDesk/internal/math"
	"CurveDesk/internal/observability"
	"CurveDesk/internal/record"
	"CurveDesk/internal/state"
	"CurveDesk/internal/venue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TradeRequest is one buy or sell submission. Amount is funding base units
// on a buy and token base units on a sell. MinOutput bounds tokens received
// on a buy; on a sell it bounds the post-fee payout. PriceLimit (price
// scaled, 0 = none) caps how far the pool price may move during the fill.
type TradeRequest struct {
	Trader     uuid.UUID
	Recipient  uuid.UUID
	Referrer   *uuid.UUID
	Amount     int64
	MinOutput  int64
	PriceLimit int64
}

// Settlement is the outcome of a settled trade.
type Settlement struct {
	TradeID    uuid.UUID
	Sequence   int64
	Sell       bool
	GrossInput int64
	Fee        int64
	NetInput   int64
	Output     int64

	Shares        fees.Shares
	Redirected    int64
	BurnDeposited bool

	PrePrice       int64
	PostPrice      int64
	EffectivePrice int64
}

// tradeOp is the in-flight settlement state bridging Lock and its callback.
type tradeOp struct {
	ctx       context.Context
	sell      bool
	poolID    uuid.UUID
	minOutput int64
	feeBps    int64

	fill   *venue.SwapResult
	fee    int64 // sell only: fee on proceeds, computed in the callback
	payout int64 // sell only: post-fee payout
}

type tradePayload struct {
	TradeID uuid.UUID `json:"trade_id"`
	Amount  int64     `json:"amount"`
}

// Engine settles trades for one deployed token instance. Operations are
// serialized by its mutex; the only suspension point inside an operation
// is the venue callback boundary.
type Engine struct {
	mu sync.Mutex

	log      zerolog.Logger
	token    *state.TokenManager
	feeCfg   fees.Provider
	guard    *guard.Guard
	venue    venue.Venue
	tracker  *ledger.BalanceTracker
	recorder *record.Recorder
	dist     *fees.Distributor
	burner   *accumulator.Accumulator // nil disables the burn path
	metrics  *observability.Metrics
	now      func() time.Time

	protocolKey    ledger.AccountKey
	venueFunding   ledger.AccountKey
	escrowFunding  ledger.AccountKey
	gatewayFunding ledger.AccountKey

	pending *tradeOp
}

func New(
	token *state.TokenManager,
	feeCfg fees.Provider,
	vn venue.Venue,
	tracker *ledger.BalanceTracker,
	recorder *record.Recorder,
	burner *accumulator.Accumulator,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Engine {
	return &Engine{
		log:            log,
		token:          token,
		feeCfg:         feeCfg,
		guard:          guard.New(vn.ID()),
		venue:          vn,
		tracker:        tracker,
		recorder:       recorder,
		dist:           fees.NewDistributor(tracker, log),
		burner:         burner,
		metrics:        metrics,
		now:            time.Now,
		protocolKey:    ledger.NewSystemAccountKey("protocol", ledger.SubTypeProtocolTreasury, ledger.FundingAssetID),
		venueFunding:   ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, ledger.FundingAssetID),
		escrowFunding:  ledger.NewSystemAccountKey("engine", ledger.SubTypeEscrow, ledger.FundingAssetID),
		gatewayFunding: ledger.NewExternalAccountKey(ledger.SubTypeExternalGateway, ledger.FundingAssetID),
	}
}

// Initialize performs the one-shot token creation: registers the asset,
// seeds the creator allocation and the venue liquidity, and commits the
// seed batch.
func (e *Engine) Initialize(p state.InitParams) (*state.TokenState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tok, err := e.token.Initialize(p)
	if err != nil {
		return nil, err
	}

	now := e.now()
	initID := uuid.New()
	batch := e.newBatch(initID.String(), now)

	gatewayToken := ledger.NewExternalAccountKey(ledger.SubTypeExternalGateway, tok.AssetID)
	venueToken := ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, tok.AssetID)

	if p.CreatorAllocation > 0 {
		creatorWallet := ledger.NewUserAccountKey(p.Creator, tok.AssetID)
		batch.Add(ledger.JournalTypeSeed, creatorWallet, gatewayToken, tok.AssetID, p.CreatorAllocation)
	}
	if p.LiquiditySeed > 0 {
		batch.Add(ledger.JournalTypeSeed, venueToken, gatewayToken, tok.AssetID, p.LiquiditySeed)
	}

	ev := &event.TokenInitialized{
		InitID:            initID,
		Symbol:            tok.Symbol,
		Creator:           tok.Creator,
		PoolID:            tok.PoolID,
		TotalSupply:       tok.TotalSupply,
		CreatorAllocation: tok.CreatorAllocation,
		LiquiditySeed:     tok.LiquiditySeed,
		Timestamp:         now,
	}
	if _, err := e.recorder.Commit(ev, batch, now); err != nil {
		return nil, fmt.Errorf("commit init: %w", err)
	}

	e.log.Info().Str("symbol", tok.Symbol).Int64("supply", tok.TotalSupply).Msg("token initialized")
	return tok, nil
}

// Deposit credits funds to a user wallet from outside the instance.
func (e *Engine) Deposit(user uuid.UUID, symbol string, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if amount <= 0 {
		return ErrAmountZero
	}
	if user == uuid.Nil {
		return ErrZeroRecipient
	}

	assetID := ledger.RegisterAsset(symbol)
	now := e.now()
	depositID := uuid.New()

	batch := e.newBatch(depositID.String(), now)
	batch.Add(ledger.JournalTypeAdjustment,
		ledger.NewUserAccountKey(user, assetID),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalGateway, assetID),
		assetID, amount)

	ev := &event.Deposited{
		DepositID: depositID,
		User:      user,
		Asset:     symbol,
		Amount:    amount,
		Timestamp: now,
	}
	if _, err := e.recorder.Commit(ev, batch, now); err != nil {
		return fmt.Errorf("commit deposit: %w", err)
	}
	return nil
}

// Buy converts funding into the traded asset. The full input is taken from
// the trader: fee legs plus a net-sized swap, all in one batch.
func (e *Engine) Buy(ctx context.Context, req TradeRequest) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buy(ctx, req)
}

// Sell converts the traded asset into funding. The fee applies to the
// proceeds, and MinOutput is checked against the post-fee payout.
func (e *Engine) Sell(ctx context.Context, req TradeRequest) (*Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sell(ctx, req)
}

func (e *Engine) buy(ctx context.Context, req TradeRequest) (*Settlement, error) {
	start := e.now()
	cfg := e.feeCfg.Current()

	tok, ok := e.token.Get()
	if !ok {
		return nil, state.ErrNotInitialized
	}

	if req.Amount <= 0 {
		return nil, e.reject("buy", "validation", ErrAmountZero)
	}
	if req.Amount < cfg.MinOrderSize {
		return nil, e.reject("buy", "validation",
			fmt.Errorf("%w: %d < %d", ErrBelowMinimum, req.Amount, cfg.MinOrderSize))
	}
	if req.Recipient == uuid.Nil {
		return nil, e.reject("buy", "validation", ErrZeroRecipient)
	}
	if err := e.tracker.ValidateSufficientBalance(req.Trader, ledger.FundingAssetID, req.Amount); err != nil {
		return nil, e.reject("buy", "balance", fmt.Errorf("%w: %v", ErrInsufficientBalance, err))
	}

	fee := fpmath.ApplyBPS(req.Amount, cfg.TotalFeeBps)
	net := req.Amount - fee
	if net <= 0 {
		return nil, e.reject("buy", "validation",
			fmt.Errorf("%w: nothing left after fee", ErrBelowMinimum))
	}

	// The fee waterfall's only abort is an unreachable protocol account.
	// Checked before the venue is touched: once the locked region commits
	// there is no way to hand the swap back.
	if !e.tracker.IsReachable(e.protocolKey) {
		return nil, e.reject("buy", "fee_path",
			fmt.Errorf("%w: %s", fees.ErrProtocolUnreachable, e.protocolKey.AccountPath()))
	}

	prePrice, err := e.venue.SpotPrice(ctx, tok.PoolID)
	if err != nil {
		return nil, e.reject("buy", "venue", fmt.Errorf("pre-trade price: %w", err))
	}

	tradeID := uuid.New()
	fill, err := e.lockAndSwap(ctx, tradeID, &tradeOp{
		sell:      false,
		poolID:    tok.PoolID,
		minOutput: req.MinOutput,
		feeBps:    cfg.TotalFeeBps,
	}, guard.Context{
		Kind:       guard.OpTrade,
		Amount:     net,
		PriceLimit: req.PriceLimit,
		Requester:  req.Trader,
	})
	if err != nil {
		return nil, e.reject("buy", rejectReason(err), err)
	}
	output := fill.fill.AmountOut

	now := e.now()
	batch := e.newBatch(tradeID.String(), now)

	traderFunding := ledger.NewUserAccountKey(req.Trader, ledger.FundingAssetID)
	batch.Add(ledger.JournalTypeSwapIn, e.venueFunding, traderFunding, ledger.FundingAssetID, net)

	shares := fees.Split(fee, cfg, req.Referrer != nil)
	res, err := e.dist.Distribute(batch, traderFunding, shares, e.recipients(tok, req.Referrer), e.burnDepositor())
	if err != nil {
		return nil, e.reject("buy", "fee_path", err)
	}

	venueToken := ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, tok.AssetID)
	recipientToken := ledger.NewUserAccountKey(req.Recipient, tok.AssetID)
	batch.Add(ledger.JournalTypeSwapOut, recipientToken, venueToken, tok.AssetID, output)

	settlement := &Settlement{
		TradeID:        tradeID,
		Sell:           false,
		GrossInput:     req.Amount,
		Fee:            fee,
		NetInput:       net,
		Output:         output,
		Shares:         shares,
		Redirected:     res.Redirected,
		BurnDeposited:  res.BurnDeposited > 0,
		PrePrice:       prePrice,
		PostPrice:      fill.fill.PostPrice,
		EffectivePrice: fpmath.PriceOf(net, output),
	}
	if err := e.commitTrade(settlement, req, tok.Symbol, batch, now); err != nil {
		return nil, err
	}

	e.finishTrade("buy", req.Amount, fee, res, start)
	e.maybeAutoFlush(ctx, cfg)
	return settlement, nil
}

func (e *Engine) sell(ctx context.Context, req TradeRequest) (*Settlement, error) {
	start := e.now()
	cfg := e.feeCfg.Current()

	tok, ok := e.token.Get()
	if !ok {
		return nil, state.ErrNotInitialized
	}

	if req.Amount <= 0 {
		return nil, e.reject("sell", "validation", ErrAmountZero)
	}
	if req.Recipient == uuid.Nil {
		return nil, e.reject("sell", "validation", ErrZeroRecipient)
	}
	if err := e.tracker.ValidateSufficientBalance(req.Trader, tok.AssetID, req.Amount); err != nil {
		return nil, e.reject("sell", "balance", fmt.Errorf("%w: %v", ErrInsufficientBalance, err))
	}

	// Same pre-check as the buy path: no swap may commit that the fee
	// waterfall can later abort.
	if !e.tracker.IsReachable(e.protocolKey) {
		return nil, e.reject("sell", "fee_path",
			fmt.Errorf("%w: %s", fees.ErrProtocolUnreachable, e.protocolKey.AccountPath()))
	}

	prePrice, err := e.venue.SpotPrice(ctx, tok.PoolID)
	if err != nil {
		return nil, e.reject("sell", "venue", fmt.Errorf("pre-trade price: %w", err))
	}

	tradeID := uuid.New()
	fill, err := e.lockAndSwap(ctx, tradeID, &tradeOp{
		sell:      true,
		poolID:    tok.PoolID,
		minOutput: req.MinOutput,
		feeBps:    cfg.TotalFeeBps,
	}, guard.Context{
		Kind:       guard.OpTrade,
		Sell:       true,
		Amount:     req.Amount,
		PriceLimit: req.PriceLimit,
		Requester:  req.Trader,
	})
	if err != nil {
		return nil, e.reject("sell", rejectReason(err), err)
	}
	proceeds := fill.fill.AmountOut
	fee := fill.fee
	payout := fill.payout

	now := e.now()
	batch := e.newBatch(tradeID.String(), now)

	traderToken := ledger.NewUserAccountKey(req.Trader, tok.AssetID)
	venueToken := ledger.NewExternalAccountKey(ledger.SubTypeExternalVenue, tok.AssetID)
	batch.Add(ledger.JournalTypeSwapIn, venueToken, traderToken, tok.AssetID, req.Amount)

	// Proceeds route through escrow: escrow funds the fee legs and the
	// payout, netting to zero inside the batch.
	batch.Add(ledger.JournalTypeSwapOut, e.escrowFunding, e.venueFunding, ledger.FundingAssetID, proceeds)

	shares := fees.Split(fee, cfg, req.Referrer != nil)
	res, err := e.dist.Distribute(batch, e.escrowFunding, shares, e.recipients(tok, req.Referrer), e.burnDepositor())
	if err != nil {
		return nil, e.reject("sell", "fee_path", err)
	}

	recipientFunding := ledger.NewUserAccountKey(req.Recipient, ledger.FundingAssetID)
	batch.Add(ledger.JournalTypeSwapOut, recipientFunding, e.escrowFunding, ledger.FundingAssetID, payout)

	settlement := &Settlement{
		TradeID:        tradeID,
		Sell:           true,
		GrossInput:     req.Amount,
		Fee:            fee,
		NetInput:       req.Amount,
		Output:         payout,
		Shares:         shares,
		Redirected:     res.Redirected,
		BurnDeposited:  res.BurnDeposited > 0,
		PrePrice:       prePrice,
		PostPrice:      fill.fill.PostPrice,
		EffectivePrice: fpmath.PriceOf(proceeds, req.Amount),
	}
	if err := e.commitTrade(settlement, req, tok.Symbol, batch, now); err != nil {
		return nil, err
	}

	e.finishTrade("sell", proceeds, fee, res, start)
	e.maybeAutoFlush(ctx, cfg)
	return settlement, nil
}

// lockAndSwap runs the guarded venue interaction and returns the validated
// in-flight op. The guard is disarmed whether or not the callback fired.
func (e *Engine) lockAndSwap(ctx context.Context, tradeID uuid.UUID, op *tradeOp, gctx guard.Context) (*tradeOp, error) {
	if err := e.guard.Arm(gctx); err != nil {
		return nil, err
	}
	defer e.guard.Disarm()

	op.ctx = ctx
	e.pending = op
	defer func() { e.pending = nil }()

	payload, _ := json.Marshal(tradePayload{TradeID: tradeID, Amount: gctx.Amount})
	if err := e.venue.Lock(ctx, e, payload); err != nil {
		return nil, err
	}
	if op.fill == nil {
		return nil, fmt.Errorf("%w: venue returned without callback", venue.ErrUnavailable)
	}
	return op, nil
}

// UnlockCallback is the venue's reentry point. It is treated as hostile
// until the guard verifies identity and armed context; the swap, the exact
// fill check, and the caller's output bound all run inside the venue's
// locked region so a failure reverts the venue side too.
func (e *Engine) UnlockCallback(caller uuid.UUID, payload []byte) error {
	gctx, err := e.guard.Consume(caller)
	if err != nil {
		if e.metrics != nil {
			e.metrics.GuardViolations.WithLabelValues("engine").Inc()
		}
		e.log.Error().Err(err).Str("caller", caller.String()).Msg("rejected settlement callback")
		return err
	}
	if gctx.Kind != guard.OpTrade {
		return fmt.Errorf("%w: flush context on trade callback", guard.ErrViolation)
	}
	op := e.pending
	if op == nil {
		return fmt.Errorf("%w: no trade in flight", guard.ErrViolation)
	}

	var pl tradePayload
	if err := json.Unmarshal(payload, &pl); err != nil {
		return fmt.Errorf("trade payload: %w", err)
	}
	if pl.Amount != gctx.Amount {
		return fmt.Errorf("%w: payload amount %d != armed %d", guard.ErrViolation, pl.Amount, gctx.Amount)
	}

	dir := venue.DirectionBuy
	if op.sell {
		dir = venue.DirectionSell
	}
	fill, err := e.venue.Swap(op.ctx, op.poolID, dir, gctx.Amount, gctx.PriceLimit)
	if err != nil {
		return fmt.Errorf("swap: %w", err)
	}

	// The venue must consume the input exactly. Accepting a partial fill
	// would leave fee-already-deducted funds with no matching delivery.
	if fill.AmountIn != gctx.Amount {
		return fmt.Errorf("%w: consumed %d of %d", ErrPartialFill, fill.AmountIn, gctx.Amount)
	}
	// A zero-output fill would settle nothing deliverable. Rejecting here,
	// inside the locked region, hands the input back too.
	if fill.AmountOut == 0 {
		return fmt.Errorf("%w: venue output is zero", ErrBelowMinimum)
	}

	if op.sell {
		op.fee = fpmath.ApplyBPS(fill.AmountOut, op.feeBps)
		op.payout = fill.AmountOut - op.fee
		if op.minOutput > 0 && op.payout < op.minOutput {
			return fmt.Errorf("%w: payout %d < %d", ErrMinOutput, op.payout, op.minOutput)
		}
	} else if op.minOutput > 0 && fill.AmountOut < op.minOutput {
		return fmt.Errorf("%w: output %d < %d", ErrMinOutput, fill.AmountOut, op.minOutput)
	}

	op.fill = &fill
	return nil
}

func (e *Engine) commitTrade(s *Settlement, req TradeRequest, symbol string, batch *ledger.Batch, now time.Time) error {
	ev := &event.TradeSettled{
		TradeID:        s.TradeID,
		Symbol:         symbol,
		Sell:           s.Sell,
		Trader:         req.Trader,
		Recipient:      req.Recipient,
		Referrer:       req.Referrer,
		GrossInput:     s.GrossInput,
		Fee:            s.Fee,
		NetInput:       s.NetInput,
		Output:         s.Output,
		CreatorFee:     s.Shares.Creator,
		BurnFee:        s.Shares.Burn,
		ProtocolFee:    s.Shares.Protocol,
		ReferrerFee:    s.Shares.Referrer,
		BurnDeposited:  s.BurnDeposited,
		PrePrice:       s.PrePrice,
		PostPrice:      s.PostPrice,
		EffectivePrice: s.EffectivePrice,
		Timestamp:      now,
	}

	env, err := e.recorder.Commit(ev, batch, now)
	if err != nil {
		return fmt.Errorf("commit trade: %w", err)
	}
	s.Sequence = env.Sequence
	return nil
}

func (e *Engine) recipients(tok *state.TokenState, referrer *uuid.UUID) fees.Recipients {
	rcp := fees.Recipients{
		Creator:  ledger.NewUserAccountKey(tok.Creator, ledger.FundingAssetID),
		Protocol: e.protocolKey,
	}
	if referrer != nil && *referrer != uuid.Nil {
		key := ledger.NewUserAccountKey(*referrer, ledger.FundingAssetID)
		rcp.Referrer = &key
	}
	return rcp
}

func (e *Engine) burnDepositor() fees.BurnDepositor {
	if e.burner == nil {
		return nil
	}
	return e.burner
}

func (e *Engine) newBatch(ref string, now time.Time) *ledger.Batch {
	return &ledger.Batch{
		BatchID:   uuid.New(),
		EventRef:  ref,
		Sequence:  e.recorder.Sequence(),
		Timestamp: now.UnixMicro(),
	}
}

func (e *Engine) maybeAutoFlush(ctx context.Context, cfg fees.FeeConfig) {
	if e.burner == nil || cfg.AutoFlushThreshold <= 0 {
		return
	}
	if e.burner.PendingBalance() >= cfg.AutoFlushThreshold {
		e.burner.TryFlush(ctx)
	}
}

func (e *Engine) reject(side, reason string, err error) error {
	if e.metrics != nil {
		e.metrics.TradesRejected.WithLabelValues(side, reason).Inc()
	}
	return err
}

func (e *Engine) finishTrade(side string, volume, fee int64, res fees.Result, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.TradesSettled.WithLabelValues(side).Inc()
	e.metrics.TradeVolume.WithLabelValues(side).Add(float64(volume))
	e.metrics.FeesCollected.Add(float64(fee))
	e.metrics.FeeSharesPaid.WithLabelValues("creator").Add(float64(res.CreatorPaid))
	e.metrics.FeeSharesPaid.WithLabelValues("referrer").Add(float64(res.ReferrerPaid))
	e.metrics.FeeSharesPaid.WithLabelValues("burn").Add(float64(res.BurnDeposited))
	e.metrics.FeeSharesPaid.WithLabelValues("protocol").Add(float64(res.ProtocolPaid))
	if res.Redirected > 0 {
		e.metrics.DepositsRedirect.Add(float64(res.Redirected))
	}
	e.metrics.EngineSequence.Set(float64(e.recorder.Sequence()))
	if e.burner != nil {
		e.metrics.BurnPending.Set(float64(e.burner.PendingBalance()))
	}
	e.metrics.TradeDuration.WithLabelValues(side).Observe(time.Since(start).Seconds())
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrPartialFill):
		return "partial_fill"
	case errors.Is(err, ErrSlippage):
		return "slippage"
	case errors.Is(err, ErrBelowMinimum):
		return "validation"
	case errors.Is(err, guard.ErrViolation), errors.Is(err, guard.ErrAlreadyArmed):
		return "guard"
	default:
		return "venue"
	}
}
