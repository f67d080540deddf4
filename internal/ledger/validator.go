package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateUserNonNegative checks a user wallet >= 0
func (v *InvariantValidator) ValidateUserNonNegative(userID uuid.UUID, assetID AssetID) error {
	return v.tracker.ValidateNonNegative(NewUserAccountKey(userID, assetID))
}

// ValidatePendingNonNegative checks the accumulator balance >= 0
func (v *InvariantValidator) ValidatePendingNonNegative(accumulatorKey AccountKey) error {
	return v.tracker.ValidateNonNegative(accumulatorKey)
}

// ValidateGlobalBalance verifies the ledger is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for assetID, total := range totals {
		if total != 0 {
			assetName, _ := GetAssetName(assetID)
			return fmt.Errorf("global balance for %s is non-zero: %d", assetName, total)
		}
	}

	return nil
}
