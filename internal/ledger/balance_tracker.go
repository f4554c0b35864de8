package ledger

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"PerpRisk/internal/riskerr"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	mu       sync.RWMutex
	balances map[AccountKey]int64
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]int64),
	}
}

// netDeltas folds a batch into per-account balance changes.
func netDeltas(batch *Batch) map[AccountKey]int64 {
	deltas := make(map[AccountKey]int64, len(batch.Journals)*2)
	for _, j := range batch.Journals {
		deltas[j.DebitAccount] += j.Amount
		deltas[j.CreditAccount] -= j.Amount
	}
	return deltas
}

// CheckBatch reports whether applying the batch would leave any non-external
// account negative. Transfers are evaluated on the net result, so a batch may
// route funds through an account within the same operation.
func (bt *BalanceTracker) CheckBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.checkLocked(netDeltas(batch))
}

func (bt *BalanceTracker) checkLocked(deltas map[AccountKey]int64) error {
	for key, delta := range deltas {
		if key.IsExternal() || delta >= 0 {
			continue
		}
		if have := bt.balances[key]; have+delta < 0 {
			return riskerr.Wrap(riskerr.InsufficientBalance, "account %s: have %d, need %d",
				key.AccountPath(), have, -delta)
		}
	}
	return nil
}

// ApplyBatch applies all journals in a batch, or none of them.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}
	deltas := netDeltas(batch)

	bt.mu.Lock()
	defer bt.mu.Unlock()
	if err := bt.checkLocked(deltas); err != nil {
		return err
	}
	for key, delta := range deltas {
		bt.balances[key] += delta
	}
	return nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()
	return bt.balances[key]
}

// GetWalletBalance returns a user's spendable balance.
func (bt *BalanceTracker) GetWalletBalance(owner uuid.UUID, assetID AssetID) int64 {
	return bt.GetBalance(WalletKey(owner, assetID))
}

// ComputeGlobalBalance sums all account balances (should be 0 for zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[AssetID]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	totals := make(map[AssetID]int64)
	for key, balance := range bt.balances {
		totals[key.AssetID] += balance
	}
	return totals
}

// NegativeAccounts lists non-external accounts below zero.
func (bt *BalanceTracker) NegativeAccounts() []AccountKey {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	var out []AccountKey
	for key, balance := range bt.balances {
		if !key.IsExternal() && balance < 0 {
			out = append(out, key)
		}
	}
	return out
}

// Snapshot returns a copy of all balances (for state hashing and persistence)
func (bt *BalanceTracker) Snapshot() map[AccountKey]int64 {
	bt.mu.RLock()
	defer bt.mu.RUnlock()

	snapshot := make(map[AccountKey]int64, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v
	}
	return snapshot
}

// Restore replaces all balances, e.g. from a persisted snapshot.
func (bt *BalanceTracker) Restore(balances map[AccountKey]int64) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.balances = make(map[AccountKey]int64, len(balances))
	for k, v := range balances {
		bt.balances[k] = v
	}
}
