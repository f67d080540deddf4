// Package venue defines the contract with the external market-making venue.
// The venue is a collaborator, not part of this system: all price formation
// happens on its side, this system only moves funds in and out of it.
package venue

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	// ErrPoolNotInitialized: the position/pool this instance is bound to
	// does not exist on the venue yet.
	ErrPoolNotInitialized = errors.New("venue pool not initialized")

	// ErrUnavailable: the venue rejected or could not execute the request.
	ErrUnavailable = errors.New("venue unavailable")
)

// Direction of a swap relative to the traded asset.
type Direction int32

const (
	DirectionBuy  Direction = iota // funding in, traded asset out
	DirectionSell                  // traded asset in, funding out
)

func (d Direction) String() string {
	if d == DirectionSell {
		return "sell"
	}
	return "buy"
}

// SwapResult reports both sides of a fill plus the pool price after it.
// AmountIn is what the venue actually consumed; with a price limit set it
// can be less than requested (a partial fill), which callers must detect.
type SwapResult struct {
	AmountIn  int64
	AmountOut int64
	PostPrice int64 // price-scaled (funding per token × 1e6)
}

// LockCallback is implemented by callers of Lock. The venue invokes it,
// passing its own identity, before Lock returns. Implementations must treat
// the invocation as hostile until identity and armed-context are verified.
type LockCallback interface {
	UnlockCallback(caller uuid.UUID, payload []byte) error
}

// Venue is the external venue surface this system consumes.
type Venue interface {
	// ID is the venue's identity, checked by settlement guards.
	ID() uuid.UUID

	// Lock enters the venue's locked region: it invokes
	// cb.UnlockCallback(venueID, payload) and returns after the callback
	// completes. If the callback returns an error the venue discards every
	// effect of the locked region and Lock returns that error.
	Lock(ctx context.Context, cb LockCallback, payload []byte) error

	// Swap executes a swap. Valid only inside a locked region.
	Swap(ctx context.Context, poolID uuid.UUID, dir Direction, amountIn, priceLimit int64) (SwapResult, error)

	// QuoteSwap simulates Swap without executing. Usable outside the lock.
	QuoteSwap(ctx context.Context, poolID uuid.UUID, dir Direction, amountIn, priceLimit int64) (SwapResult, error)

	// CollectFees claims fee revenue the position accrued from third-party
	// activity, in funding base units. Zero accrual returns 0, nil.
	CollectFees(ctx context.Context, poolID uuid.UUID) (int64, error)

	// SpotPrice returns the current pool price, price-scaled.
	SpotPrice(ctx context.Context, poolID uuid.UUID) (int64, error)
}
