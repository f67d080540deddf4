package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// BalanceTracker maintains in-memory account balances.
// Payout accounts can additionally be marked unreachable, modelling
// recipients that reject funds; the fee distributor consults this before
// routing a share.
type BalanceTracker struct {
	balances    map[AccountKey]int64
	unreachable map[AccountKey]bool
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances:    make(map[AccountKey]int64),
		unreachable: make(map[AccountKey]bool),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.balances[j.DebitAccount] += j.Amount
	bt.balances[j.CreditAccount] -= j.Amount
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	return bt.balances[key]
}

// SetBalance overwrites an account balance (restore/seeding only)
func (bt *BalanceTracker) SetBalance(key AccountKey, balance int64) {
	bt.balances[key] = balance
}

// GetUserBalance returns a user's wallet balance for an asset
func (bt *BalanceTracker) GetUserBalance(userID uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(NewUserAccountKey(userID, assetID))
}

// === Reachability ===

// MarkUnreachable flags an account as rejecting transfers.
func (bt *BalanceTracker) MarkUnreachable(key AccountKey) {
	bt.unreachable[key] = true
}

// MarkReachable clears the unreachable flag.
func (bt *BalanceTracker) MarkReachable(key AccountKey) {
	delete(bt.unreachable, key)
}

// IsReachable reports whether an account accepts transfers.
func (bt *BalanceTracker) IsReachable(key AccountKey) bool {
	return !bt.unreachable[key]
}

// === Invariant Checks ===

// ValidateSufficientBalance checks if a user can cover a payment
func (bt *BalanceTracker) ValidateSufficientBalance(userID uuid.UUID, assetID AssetID, required int64) error {
	balance := bt.GetUserBalance(userID, assetID)
	if balance < required {
		return fmt.Errorf("insufficient balance: have=%d, need=%d", balance, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	balance := bt.GetBalance(key)
	if balance < 0 {
		return fmt.Errorf("account %s has negative balance: %d", key.AccountPath(), balance)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances (should be 0 per asset for
// the zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	totals := make(map[AssetID]int64)

	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}

	return totals
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}
