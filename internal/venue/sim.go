package venue

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	fpmath "CurveDesk/internal/math"

	"github.com/google/uuid"
)

// pool is one constant-product position on the simulator.
type pool struct {
	tokenReserve   int64
	fundingReserve int64
	accruedFees    int64
}

func (p *pool) price() int64 {
	if p.tokenReserve == 0 {
		return 0
	}
	return fpmath.PriceOf(p.fundingReserve, p.tokenReserve)
}

// Sim is an in-memory constant-product venue honoring the full venue
// contract: swaps are valid only inside a locked region, a callback error
// discards every effect of the region, and a price limit cuts the fill
// short instead of failing it. It backs local development runs and the
// test suites; the failure knobs are switchable per test.
type Sim struct {
	mu sync.Mutex

	id     uuid.UUID
	pools  map[uuid.UUID]*pool
	staged map[uuid.UUID]*pool // copy-on-lock; commit on callback success
	locked bool

	// failure knobs
	FailLock    bool  // Lock returns ErrUnavailable without calling back
	FailSwap    bool  // Swap returns ErrUnavailable
	SkipUnlock  bool  // Lock returns nil without invoking the callback
	RogueCaller *uuid.UUID
}

func NewSim() *Sim {
	return &Sim{
		id:    uuid.New(),
		pools: make(map[uuid.UUID]*pool),
	}
}

func (v *Sim) ID() uuid.UUID { return v.id }

// CreatePool seeds a position with the given reserves and returns its ID.
func (v *Sim) CreatePool(tokenReserve, fundingReserve int64) uuid.UUID {
	v.mu.Lock()
	defer v.mu.Unlock()

	poolID := uuid.New()
	v.pools[poolID] = &pool{tokenReserve: tokenReserve, fundingReserve: fundingReserve}
	return poolID
}

// AccrueFees injects position fee revenue, as third-party trading against
// the same position would.
func (v *Sim) AccrueFees(poolID uuid.UUID, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if p, ok := v.pools[poolID]; ok {
		p.accruedFees += amount
	}
}

// Reserves reports the current (token, funding) reserves of a pool.
func (v *Sim) Reserves(poolID uuid.UUID) (int64, int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	p, ok := v.pools[poolID]
	if !ok {
		return 0, 0
	}
	return p.tokenReserve, p.fundingReserve
}

// Lock snapshots every pool, invokes the callback, and either commits the
// staged state (callback nil) or discards it (callback error).
func (v *Sim) Lock(ctx context.Context, cb LockCallback, payload []byte) error {
	if v.FailLock {
		return fmt.Errorf("%w: lock rejected", ErrUnavailable)
	}
	if v.SkipUnlock {
		return nil
	}

	v.mu.Lock()
	v.staged = make(map[uuid.UUID]*pool, len(v.pools))
	for id, p := range v.pools {
		cp := *p
		v.staged[id] = &cp
	}
	v.locked = true
	v.mu.Unlock()

	caller := v.id
	if v.RogueCaller != nil {
		caller = *v.RogueCaller
	}
	err := cb.UnlockCallback(caller, payload)

	v.mu.Lock()
	if err == nil {
		v.pools = v.staged
	}
	v.staged = nil
	v.locked = false
	v.mu.Unlock()

	return err
}

// Swap executes against the staged state. With a price limit the fill stops
// at the reserve level implied by the limit, returning a partial AmountIn.
func (v *Sim) Swap(ctx context.Context, poolID uuid.UUID, dir Direction, amountIn, priceLimit int64) (SwapResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.locked {
		return SwapResult{}, fmt.Errorf("%w: swap outside locked region", ErrUnavailable)
	}
	if v.FailSwap {
		return SwapResult{}, fmt.Errorf("%w: swap rejected", ErrUnavailable)
	}

	p, ok := v.staged[poolID]
	if !ok {
		return SwapResult{}, ErrPoolNotInitialized
	}

	res, err := swapOn(p, dir, amountIn, priceLimit)
	if err != nil {
		return SwapResult{}, err
	}
	return res, nil
}

// QuoteSwap simulates Swap on the committed state. It shares swapOn with
// the real path so quotes and fills can never disagree.
func (v *Sim) QuoteSwap(ctx context.Context, poolID uuid.UUID, dir Direction, amountIn, priceLimit int64) (SwapResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[poolID]
	if !ok {
		return SwapResult{}, ErrPoolNotInitialized
	}

	cp := *p
	return swapOn(&cp, dir, amountIn, priceLimit)
}

func (v *Sim) CollectFees(ctx context.Context, poolID uuid.UUID) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[poolID]
	if !ok {
		return 0, ErrPoolNotInitialized
	}
	accrued := p.accruedFees
	p.accruedFees = 0
	return accrued, nil
}

func (v *Sim) SpotPrice(ctx context.Context, poolID uuid.UUID) (int64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	p, ok := v.pools[poolID]
	if !ok {
		return 0, ErrPoolNotInitialized
	}
	return p.price(), nil
}

// swapOn mutates p with a constant-product fill. priceLimit bounds the
// post-swap price (max for buys, min for sells); when the limit lands
// before the input is exhausted the fill is partial.
func swapOn(p *pool, dir Direction, amountIn, priceLimit int64) (SwapResult, error) {
	if amountIn <= 0 {
		return SwapResult{}, fmt.Errorf("%w: non-positive amount", ErrUnavailable)
	}

	k := new(big.Int).Mul(big.NewInt(p.tokenReserve), big.NewInt(p.fundingReserve))

	consume := amountIn
	if dir == DirectionBuy {
		if priceLimit > 0 && postBuyPrice(k, p.fundingReserve+consume) > priceLimit {
			// Full fill breaches the limit: cap the funding input at the
			// reserve level where f == sqrt(k × limit / scale).
			maxFunding := limitReserve(k, priceLimit, fpmath.PriceConfig.Scale)
			consume = maxFunding - p.fundingReserve
			if consume < 0 {
				consume = 0
			}
		}
		if consume == 0 {
			return SwapResult{AmountIn: 0, AmountOut: 0, PostPrice: p.price()}, nil
		}

		newFunding := p.fundingReserve + consume
		newToken := new(big.Int).Div(k, big.NewInt(newFunding)).Int64()
		out := p.tokenReserve - newToken

		p.fundingReserve = newFunding
		p.tokenReserve = newToken
		return SwapResult{AmountIn: consume, AmountOut: out, PostPrice: p.price()}, nil
	}

	if priceLimit > 0 && postSellPrice(k, p.tokenReserve+consume) < priceLimit {
		// Selling below the floor: cap token input at the reserve level
		// where t == sqrt(k × scale / limit).
		maxToken := limitReserve(k, fpmath.PriceConfig.Scale, priceLimit)
		consume = maxToken - p.tokenReserve
		if consume < 0 {
			consume = 0
		}
	}
	if consume == 0 {
		return SwapResult{AmountIn: 0, AmountOut: 0, PostPrice: p.price()}, nil
	}

	newToken := p.tokenReserve + consume
	newFunding := new(big.Int).Div(k, big.NewInt(newToken)).Int64()
	out := p.fundingReserve - newFunding

	p.tokenReserve = newToken
	p.fundingReserve = newFunding
	return SwapResult{AmountIn: consume, AmountOut: out, PostPrice: p.price()}, nil
}

// postBuyPrice is the pool price after growing the funding reserve to
// newFunding, computed exactly as price() would report it.
func postBuyPrice(k *big.Int, newFunding int64) int64 {
	newToken := new(big.Int).Div(k, big.NewInt(newFunding)).Int64()
	return fpmath.PriceOf(newFunding, newToken)
}

// postSellPrice mirrors postBuyPrice for a grown token reserve.
func postSellPrice(k *big.Int, newToken int64) int64 {
	newFunding := new(big.Int).Div(k, big.NewInt(newToken)).Int64()
	return fpmath.PriceOf(newFunding, newToken)
}

// limitReserve returns floor(sqrt(k × num / den)): the reserve level at
// which the pool price reaches num/den.
func limitReserve(k *big.Int, num, den int64) int64 {
	t := new(big.Int).Mul(k, big.NewInt(num))
	t.Div(t, big.NewInt(den))
	return fpmath.SqrtFloor(t).Int64()
}
