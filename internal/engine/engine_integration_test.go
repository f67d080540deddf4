package engine_test

import (
	"context"
	"errors"
	"testing"

	"CurveDesk/internal/accumulator"
	"CurveDesk/internal/engine"
	"CurveDesk/internal/fees"
	"CurveDesk/internal/guard"
	"CurveDesk/internal/ledger"
	"CurveDesk/internal/record"
	"CurveDesk/internal/state"
	"CurveDesk/internal/venue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// --- Fixture ---

type fixture struct {
	venue   *venue.Sim
	eng     *engine.Engine
	acc     *accumulator.Accumulator
	tracker *ledger.BalanceTracker
	feeMgr  *fees.Manager
	rec     *record.Recorder

	poolID     uuid.UUID
	burnPoolID uuid.UUID
	creator    uuid.UUID
	trader     uuid.UUID
}

func testFeeConfig() fees.FeeConfig {
	return fees.FeeConfig{
		TotalFeeBps:        100, // 1%
		CreatorShareBps:    5_000,
		BurnShareBps:       2_000,
		ProtocolShareBps:   4_000,
		ReferrerShareBps:   4_000,
		MinOrderSize:       1_000,
		SlippageCeilingBps: 100,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fv := venue.NewSim()
	poolID := fv.CreatePool(1_000_000_000, 1_000_000_000)
	burnPoolID := fv.CreatePool(500_000_000_000, 500_000_000)

	tracker := ledger.NewBalanceTracker()
	persistChan := make(chan record.Output, 1024)
	publishChan := make(chan record.Output, 1024)
	rec := record.NewRecorder(0, tracker, nil, "MEME", persistChan, publishChan)

	feeMgr, err := fees.NewManager(testFeeConfig())
	if err != nil {
		t.Fatalf("fee manager: %v", err)
	}

	acc := accumulator.New(accumulator.Config{
		TargetSymbol: "EMBER",
		PoolID:       burnPoolID,
		Enabled:      true,
	}, feeMgr, fv, tracker, rec, nil, nil, zerolog.Nop())

	eng := engine.New(state.NewTokenManager(), feeMgr, fv, tracker, rec, acc, nil, zerolog.Nop())

	f := &fixture{
		venue:      fv,
		eng:        eng,
		acc:        acc,
		tracker:    tracker,
		feeMgr:     feeMgr,
		rec:        rec,
		poolID:     poolID,
		burnPoolID: burnPoolID,
		creator:    uuid.New(),
		trader:     uuid.New(),
	}

	if _, err := eng.Initialize(state.InitParams{
		Symbol:            "MEME",
		Creator:           f.creator,
		PoolID:            poolID,
		TotalSupply:       10_000_000_000,
		CreatorAllocation: 1_000_000_000,
		LiquiditySeed:     1_000_000_000,
	}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := eng.Deposit(f.trader, "ETH", 10_000_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	return f
}

func (f *fixture) buyReq(amount int64) engine.TradeRequest {
	return engine.TradeRequest{
		Trader:    f.trader,
		Recipient: f.trader,
		Amount:    amount,
	}
}

func (f *fixture) requireZeroSum(t *testing.T) {
	t.Helper()
	validator := ledger.NewInvariantValidator(f.tracker)
	if err := validator.ValidateGlobalBalance(); err != nil {
		t.Fatalf("global zero-sum broken: %v", err)
	}
}

// --- Buy path ---

func TestBuySettlement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.eng.QuoteBuy(ctx, 1_000_000_000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	s, err := f.eng.Buy(ctx, f.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if s.Fee != 10_000_000 {
		t.Errorf("fee = %d, want 10000000", s.Fee)
	}
	if s.NetInput != 990_000_000 {
		t.Errorf("net = %d, want 990000000", s.NetInput)
	}
	if s.Output != q.EstimatedOutput {
		t.Errorf("output %d != quoted %d", s.Output, q.EstimatedOutput)
	}
	if s.PostPrice != q.EstimatedPostPrice {
		t.Errorf("post price %d != quoted %d", s.PostPrice, q.EstimatedPostPrice)
	}
	if s.Shares.Total() != s.Fee {
		t.Errorf("shares sum %d != fee %d", s.Shares.Total(), s.Fee)
	}

	// No referrer: creator 50%, then burn 20% / protocol 80% of remainder
	// (referrer share folds into protocol).
	if s.Shares.Creator != 5_000_000 {
		t.Errorf("creator share = %d", s.Shares.Creator)
	}
	if s.Shares.Burn != 1_000_000 {
		t.Errorf("burn share = %d", s.Shares.Burn)
	}
	if s.Shares.Protocol != 4_000_000 {
		t.Errorf("protocol share = %d", s.Shares.Protocol)
	}

	if got := f.eng.Balance(f.trader, "ETH"); got != 9_000_000_000 {
		t.Errorf("trader funding = %d, want 9000000000", got)
	}
	if got := f.eng.Balance(f.trader, "MEME"); got != s.Output {
		t.Errorf("trader tokens = %d, want %d", got, s.Output)
	}
	if got := f.eng.Balance(f.creator, "ETH"); got != 5_000_000 {
		t.Errorf("creator funding = %d, want 5000000", got)
	}
	if got := f.acc.PendingBalance(); got != 1_000_000 {
		t.Errorf("burn pending = %d, want 1000000", got)
	}
	if !s.BurnDeposited {
		t.Error("burn share not deposited")
	}

	f.requireZeroSum(t)
}

func TestBuyValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.eng.Buy(ctx, f.buyReq(0)); !errors.Is(err, engine.ErrAmountZero) {
		t.Errorf("zero amount: err = %v", err)
	}
	if _, err := f.eng.Buy(ctx, f.buyReq(999)); !errors.Is(err, engine.ErrBelowMinimum) {
		t.Errorf("undersized: err = %v", err)
	}

	req := f.buyReq(1_000_000)
	req.Recipient = uuid.Nil
	if _, err := f.eng.Buy(ctx, req); !errors.Is(err, engine.ErrZeroRecipient) {
		t.Errorf("zero recipient: err = %v", err)
	}

	req = f.buyReq(100_000_000_000)
	if _, err := f.eng.Buy(ctx, req); !errors.Is(err, engine.ErrInsufficientBalance) {
		t.Errorf("overdraft: err = %v", err)
	}

	// No validation failure may leave side effects.
	if got := f.eng.Balance(f.trader, "ETH"); got != 10_000_000_000 {
		t.Errorf("trader balance mutated: %d", got)
	}
}

func TestBuyWithReferrer(t *testing.T) {
	f := newFixture(t)
	referrer := uuid.New()

	req := f.buyReq(1_000_000_000)
	req.Referrer = &referrer

	s, err := f.eng.Buy(context.Background(), req)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	// Remainder 5e6: burn 20%, referrer 40%, protocol captures the rest.
	if s.Shares.Referrer != 2_000_000 {
		t.Errorf("referrer share = %d, want 2000000", s.Shares.Referrer)
	}
	if got := f.eng.Balance(referrer, "ETH"); got != 2_000_000 {
		t.Errorf("referrer funding = %d, want 2000000", got)
	}
	if s.Shares.Total() != s.Fee {
		t.Errorf("shares sum %d != fee %d", s.Shares.Total(), s.Fee)
	}
}

// --- Price limits and partial fills ---

func TestBuyPriceLimitFromQuoteSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.eng.QuoteBuy(ctx, 1_000_000_000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	req := f.buyReq(1_000_000_000)
	req.PriceLimit = q.EstimatedPostPrice

	if _, err := f.eng.Buy(ctx, req); err != nil {
		t.Fatalf("buy at quoted post price failed: %v", err)
	}
}

func TestBuyTighterLimitFailsWithSlippage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	q, err := f.eng.QuoteBuy(ctx, 1_000_000_000)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}

	// Another party's trade moves the pool before ours lands.
	other := uuid.New()
	if err := f.eng.Deposit(other, "ETH", 5_000_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	otherReq := engine.TradeRequest{Trader: other, Recipient: other, Amount: 2_000_000_000}
	if _, err := f.eng.Buy(ctx, otherReq); err != nil {
		t.Fatalf("other buy: %v", err)
	}

	req := f.buyReq(1_000_000_000)
	req.PriceLimit = q.EstimatedPostPrice - q.EstimatedPostPrice/500 // 0.2% tighter

	_, err = f.eng.Buy(ctx, req)
	if !errors.Is(err, engine.ErrSlippage) {
		t.Fatalf("err = %v, want slippage error", err)
	}
	if !errors.Is(err, engine.ErrPartialFill) {
		t.Fatalf("err = %v, want partial fill", err)
	}
}

func TestPartialFillLeavesNoResidual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before := f.eng.Balance(f.trader, "ETH")
	tokBefore, fundBefore := f.venue.Reserves(f.poolID)
	pendingBefore := f.acc.PendingBalance()

	// A limit below the current price can never absorb the full input.
	for i := 0; i < 5; i++ {
		req := f.buyReq(1_000_000_000)
		req.PriceLimit = 500_000
		_, err := f.eng.Buy(ctx, req)
		if !errors.Is(err, engine.ErrPartialFill) {
			t.Fatalf("buy %d: err = %v, want partial fill", i, err)
		}
	}

	if got := f.eng.Balance(f.trader, "ETH"); got != before {
		t.Errorf("trader funding drifted: %d -> %d", before, got)
	}
	if got := f.eng.Balance(f.trader, "MEME"); got != 0 {
		t.Errorf("trader holds %d tokens from failed buys", got)
	}
	if got := f.eng.Balance(f.creator, "ETH"); got != 0 {
		t.Errorf("creator received %d from failed buys", got)
	}
	if got := f.acc.PendingBalance(); got != pendingBefore {
		t.Errorf("burn pending drifted: %d -> %d", pendingBefore, got)
	}

	tokAfter, fundAfter := f.venue.Reserves(f.poolID)
	if tokAfter != tokBefore || fundAfter != fundBefore {
		t.Errorf("venue reserves drifted: (%d,%d) -> (%d,%d)", tokBefore, fundBefore, tokAfter, fundAfter)
	}

	f.requireZeroSum(t)
}

// --- Sell path ---

func TestSellFeeOnProceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.eng.Buy(ctx, f.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	tokens := s.Output

	q, err := f.eng.QuoteSell(ctx, tokens)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}

	fundingBefore := f.eng.Balance(f.trader, "ETH")
	sell, err := f.eng.Sell(ctx, engine.TradeRequest{
		Trader:    f.trader,
		Recipient: f.trader,
		Amount:    tokens,
	})
	if err != nil {
		t.Fatalf("sell: %v", err)
	}

	if sell.Output != q.EstimatedOutput {
		t.Errorf("payout %d != quoted %d", sell.Output, q.EstimatedOutput)
	}
	if sell.Fee != q.Fee {
		t.Errorf("fee %d != quoted %d", sell.Fee, q.Fee)
	}
	if sell.Shares.Total() != sell.Fee {
		t.Errorf("shares sum %d != fee %d", sell.Shares.Total(), sell.Fee)
	}
	if got := f.eng.Balance(f.trader, "MEME"); got != 0 {
		t.Errorf("tokens left after selling all: %d", got)
	}
	if got := f.eng.Balance(f.trader, "ETH"); got != fundingBefore+sell.Output {
		t.Errorf("funding = %d, want %d", got, fundingBefore+sell.Output)
	}

	f.requireZeroSum(t)
}

func TestSellMinPayoutCheckedPostFee(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s, err := f.eng.Buy(ctx, f.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	tokens := s.Output

	q, err := f.eng.QuoteSell(ctx, tokens)
	if err != nil {
		t.Fatalf("quote sell: %v", err)
	}
	rawProceeds := q.EstimatedOutput + q.Fee

	// A minimum between post-fee payout and raw proceeds must fail: the
	// bound applies to what the caller actually receives.
	req := engine.TradeRequest{
		Trader:    f.trader,
		Recipient: f.trader,
		Amount:    tokens,
		MinOutput: rawProceeds,
	}
	if _, err := f.eng.Sell(ctx, req); !errors.Is(err, engine.ErrMinOutput) {
		t.Fatalf("err = %v, want min-output error", err)
	}

	// At exactly the post-fee payout it succeeds.
	req.MinOutput = q.EstimatedOutput
	if _, err := f.eng.Sell(ctx, req); err != nil {
		t.Fatalf("sell at quoted payout failed: %v", err)
	}
}

// --- Guard discipline ---

func TestDirectCallbackRejected(t *testing.T) {
	f := newFixture(t)

	// Nothing armed.
	err := f.eng.UnlockCallback(f.venue.ID(), []byte(`{}`))
	if !errors.Is(err, guard.ErrViolation) {
		t.Fatalf("err = %v, want guard violation", err)
	}
}

func TestRogueCallerRejected(t *testing.T) {
	f := newFixture(t)
	rogue := uuid.New()
	f.venue.RogueCaller = &rogue

	_, err := f.eng.Buy(context.Background(), f.buyReq(1_000_000_000))
	if !errors.Is(err, guard.ErrViolation) {
		t.Fatalf("err = %v, want guard violation", err)
	}

	// The failed operation must clear its context: the next trade works.
	f.venue.RogueCaller = nil
	if _, err := f.eng.Buy(context.Background(), f.buyReq(1_000_000_000)); err != nil {
		t.Fatalf("buy after rogue callback: %v", err)
	}
}

func TestVenueSkipsCallback(t *testing.T) {
	f := newFixture(t)
	f.venue.SkipUnlock = true

	_, err := f.eng.Buy(context.Background(), f.buyReq(1_000_000_000))
	if err == nil {
		t.Fatal("buy succeeded without a callback")
	}
	if got := f.eng.Balance(f.trader, "ETH"); got != 10_000_000_000 {
		t.Errorf("trader balance mutated: %d", got)
	}

	f.venue.SkipUnlock = false
	if _, err := f.eng.Buy(context.Background(), f.buyReq(1_000_000_000)); err != nil {
		t.Fatalf("buy after skipped callback: %v", err)
	}
}

// --- Fee fallback ---

func TestCreatorUnreachableRedirectsToProtocol(t *testing.T) {
	f := newFixture(t)
	f.tracker.MarkUnreachable(ledger.NewUserAccountKey(f.creator, ledger.FundingAssetID))

	s, err := f.eng.Buy(context.Background(), f.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}

	if got := f.eng.Balance(f.creator, "ETH"); got != 0 {
		t.Errorf("unreachable creator received %d", got)
	}
	if s.Redirected != s.Shares.Creator {
		t.Errorf("redirected = %d, want %d", s.Redirected, s.Shares.Creator)
	}

	protocolKey := ledger.NewSystemAccountKey("protocol", ledger.SubTypeProtocolTreasury, ledger.FundingAssetID)
	if got := f.tracker.GetBalance(protocolKey); got != s.Shares.Protocol+s.Shares.Creator {
		t.Errorf("protocol = %d, want %d", got, s.Shares.Protocol+s.Shares.Creator)
	}

	f.requireZeroSum(t)
}

func TestDisabledAccumulatorRedirectsBurnShare(t *testing.T) {
	f := newFixture(t)
	f.acc.SetEnabled(false)

	s, err := f.eng.Buy(context.Background(), f.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy must survive a disabled accumulator: %v", err)
	}

	if s.BurnDeposited {
		t.Error("burn reported deposited while disabled")
	}
	if got := f.acc.PendingBalance(); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}

	protocolKey := ledger.NewSystemAccountKey("protocol", ledger.SubTypeProtocolTreasury, ledger.FundingAssetID)
	if got := f.tracker.GetBalance(protocolKey); got != s.Shares.Protocol+s.Shares.Burn {
		t.Errorf("protocol = %d, want %d", got, s.Shares.Protocol+s.Shares.Burn)
	}
}

func TestProtocolUnreachableFailsTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	protocolKey := ledger.NewSystemAccountKey("protocol", ledger.SubTypeProtocolTreasury, ledger.FundingAssetID)
	f.tracker.MarkUnreachable(protocolKey)

	tokBefore, fundBefore := f.venue.Reserves(f.poolID)

	_, err := f.eng.Buy(ctx, f.buyReq(1_000_000_000))
	if !errors.Is(err, fees.ErrProtocolUnreachable) {
		t.Fatalf("err = %v, want protocol unreachable", err)
	}
	if got := f.eng.Balance(f.trader, "ETH"); got != 10_000_000_000 {
		t.Errorf("trader charged on failed trade: %d", got)
	}

	// The rejection lands before the venue is touched: the pool must not
	// move for a trade that never settled.
	tokAfter, fundAfter := f.venue.Reserves(f.poolID)
	if tokAfter != tokBefore || fundAfter != fundBefore {
		t.Errorf("reserves moved (%d,%d) -> (%d,%d) on a failed trade",
			tokBefore, fundBefore, tokAfter, fundAfter)
	}

	// Sell side takes the same rejection. The creator holds tokens from
	// the initial allocation.
	_, err = f.eng.Sell(ctx, engine.TradeRequest{
		Trader:    f.creator,
		Recipient: f.creator,
		Amount:    1_000_000,
	})
	if !errors.Is(err, fees.ErrProtocolUnreachable) {
		t.Fatalf("sell err = %v, want protocol unreachable", err)
	}
	tokAfter, fundAfter = f.venue.Reserves(f.poolID)
	if tokAfter != tokBefore || fundAfter != fundBefore {
		t.Errorf("reserves moved (%d,%d) -> (%d,%d) on a failed sell",
			tokBefore, fundBefore, tokAfter, fundAfter)
	}
	f.requireZeroSum(t)
}

// --- Fee config live reads ---

func TestFeeConfigUpdateTakesEffectNextTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg := testFeeConfig()
	cfg.TotalFeeBps = 200 // 2%
	if err := f.feeMgr.Update(cfg); err != nil {
		t.Fatalf("update: %v", err)
	}

	s, err := f.eng.Buy(ctx, f.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if s.Fee != 20_000_000 {
		t.Errorf("fee = %d, want 20000000 after update", s.Fee)
	}
}

// --- Harvest ---

func TestHarvest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.venue.AccrueFees(f.poolID, 1_000_001)

	h, err := f.eng.Harvest(ctx)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}

	if h.Accrued != 1_000_001 {
		t.Errorf("accrued = %d", h.Accrued)
	}
	if h.CreatorFee != 500_000 || h.ProtocolFee != 500_001 {
		t.Errorf("split = %d/%d, want 500000/500001", h.CreatorFee, h.ProtocolFee)
	}
	if got := f.eng.Balance(f.creator, "ETH"); got != 500_000 {
		t.Errorf("creator = %d", got)
	}

	// Idempotent at zero accrual.
	h2, err := f.eng.Harvest(ctx)
	if err != nil {
		t.Fatalf("second harvest: %v", err)
	}
	if h2.Accrued != 0 {
		t.Errorf("second harvest accrued %d", h2.Accrued)
	}

	f.requireZeroSum(t)
}

func TestHarvestCreatorUnreachableRedirects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.tracker.MarkUnreachable(ledger.NewUserAccountKey(f.creator, ledger.FundingAssetID))
	f.venue.AccrueFees(f.poolID, 1_000_000)

	h, err := f.eng.Harvest(ctx)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if h.CreatorFee != 0 {
		t.Errorf("creator fee = %d, want 0", h.CreatorFee)
	}
	if h.ProtocolFee != 1_000_000 {
		t.Errorf("protocol fee = %d, want the full accrual", h.ProtocolFee)
	}
	if got := f.eng.Balance(f.creator, "ETH"); got != 0 {
		t.Errorf("unreachable creator credited %d", got)
	}
	protocolKey := ledger.NewSystemAccountKey("protocol", ledger.SubTypeProtocolTreasury, ledger.FundingAssetID)
	if got := f.tracker.GetBalance(protocolKey); got != 1_000_000 {
		t.Errorf("protocol = %d, want 1000000", got)
	}
	f.requireZeroSum(t)
}

func TestHarvestProtocolUnreachableLeavesAccrual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	protocolKey := ledger.NewSystemAccountKey("protocol", ledger.SubTypeProtocolTreasury, ledger.FundingAssetID)

	f.venue.AccrueFees(f.poolID, 1_000_000)
	f.tracker.MarkUnreachable(protocolKey)

	if _, err := f.eng.Harvest(ctx); !errors.Is(err, fees.ErrProtocolUnreachable) {
		t.Fatalf("err = %v, want protocol unreachable", err)
	}

	// Nothing was collected: the accrual is still claimable once the
	// account recovers.
	f.tracker.MarkReachable(protocolKey)
	h, err := f.eng.Harvest(ctx)
	if err != nil {
		t.Fatalf("harvest after recovery: %v", err)
	}
	if h.Accrued != 1_000_000 {
		t.Errorf("accrued = %d, want 1000000", h.Accrued)
	}
}

func TestBuyAndHarvestMatchesSequentialCalls(t *testing.T) {
	ctx := context.Background()

	sequential := newFixture(t)
	sequential.venue.AccrueFees(sequential.poolID, 777_777)
	s1, err := sequential.eng.Buy(ctx, sequential.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	h1, err := sequential.eng.Harvest(ctx)
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}

	combined := newFixture(t)
	combined.venue.AccrueFees(combined.poolID, 777_777)
	s2, h2, err := combined.eng.BuyAndHarvest(ctx, combined.buyReq(1_000_000_000))
	if err != nil {
		t.Fatalf("buy and harvest: %v", err)
	}

	if s1.Fee != s2.Fee || s1.Shares != s2.Shares || s1.Output != s2.Output {
		t.Errorf("trade outcomes differ: %+v vs %+v", s1, s2)
	}
	if h1.Accrued != h2.Accrued || h1.CreatorFee != h2.CreatorFee || h1.ProtocolFee != h2.ProtocolFee {
		t.Errorf("harvest outcomes differ: %+v vs %+v", h1, h2)
	}
}
