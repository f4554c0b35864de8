package ledger

import (
	"fmt"
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

// ValidateGlobalBalance verifies the ledger is zero-sum per asset.
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

// ValidateNonNegative verifies no wallet or vault is overdrawn.
func (v *InvariantValidator) ValidateNonNegative() error {
	if neg := v.tracker.NegativeAccounts(); len(neg) > 0 {
		return fmt.Errorf("account %s has negative balance: %d", neg[0].AccountPath(), v.tracker.GetBalance(neg[0]))
	}
	return nil
}

// ValidateAll runs every balance invariant.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateGlobalBalance(); err != nil {
		return err
	}
	return v.ValidateNonNegative()
}
