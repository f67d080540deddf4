package state

import (
	"errors"
	"fmt"

	"CurveDesk/internal/ledger"

	"github.com/google/uuid"
)

var (
	ErrAlreadyInitialized = errors.New("token state already initialized")
	ErrNotInitialized     = errors.New("token state not initialized")
)

// TokenState describes one deployed trading instance. Supply is fixed at
// creation: trading never mints beyond the original supply, and the only
// way supply shrinks is the explicit Burn primitive.
type TokenState struct {
	Symbol            string
	AssetID           ledger.AssetID
	Creator           uuid.UUID
	PoolID            uuid.UUID // venue position this instance settles against
	OriginalSupply    int64
	TotalSupply       int64 // current; <= OriginalSupply always
	CreatorAllocation int64 // constant after creation
	LiquiditySeed     int64 // constant after creation
	Version           int64
}

// InitParams holds the one-shot creation parameters.
type InitParams struct {
	Symbol            string
	Creator           uuid.UUID
	PoolID            uuid.UUID
	TotalSupply       int64
	CreatorAllocation int64
	LiquiditySeed     int64
}

// TokenManager owns the single TokenState of an instance.
type TokenManager struct {
	token *TokenState
}

func NewTokenManager() *TokenManager {
	return &TokenManager{}
}

// Initialize creates the token state. It can succeed at most once per
// instance; re-initialization is an error, never an overwrite.
func (tm *TokenManager) Initialize(p InitParams) (*TokenState, error) {
	if tm.token != nil {
		return nil, ErrAlreadyInitialized
	}

	if p.Symbol == "" {
		return nil, fmt.Errorf("empty token symbol")
	}
	if p.TotalSupply <= 0 {
		return nil, fmt.Errorf("non-positive total supply: %d", p.TotalSupply)
	}
	if p.CreatorAllocation < 0 || p.LiquiditySeed < 0 {
		return nil, fmt.Errorf("negative allocation")
	}
	if p.CreatorAllocation+p.LiquiditySeed > p.TotalSupply {
		return nil, fmt.Errorf("allocations %d exceed supply %d",
			p.CreatorAllocation+p.LiquiditySeed, p.TotalSupply)
	}
	if p.Creator == uuid.Nil {
		return nil, fmt.Errorf("zero creator address")
	}
	if p.PoolID == uuid.Nil {
		return nil, fmt.Errorf("zero pool id")
	}

	tm.token = &TokenState{
		Symbol:            p.Symbol,
		AssetID:           ledger.RegisterAsset(p.Symbol),
		Creator:           p.Creator,
		PoolID:            p.PoolID,
		OriginalSupply:    p.TotalSupply,
		TotalSupply:       p.TotalSupply,
		CreatorAllocation: p.CreatorAllocation,
		LiquiditySeed:     p.LiquiditySeed,
	}
	return tm.token, nil
}

// Get returns the token state, or false before initialization.
func (tm *TokenManager) Get() (*TokenState, bool) {
	return tm.token, tm.token != nil
}

// Burn permanently shrinks supply. The explicit burn primitive is the only
// supply mutation trading can cause.
func (tm *TokenManager) Burn(amount int64) error {
	if tm.token == nil {
		return ErrNotInitialized
	}
	if amount <= 0 {
		return fmt.Errorf("non-positive burn amount: %d", amount)
	}
	if amount > tm.token.TotalSupply {
		return fmt.Errorf("burn %d exceeds supply %d", amount, tm.token.TotalSupply)
	}

	tm.token.TotalSupply -= amount
	tm.token.Version++
	return nil
}
