package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeWalletDeposit JournalType = iota
	JournalTypeVaultSeed
	JournalTypeMarginDeposit
	JournalTypeMarginTopUp
	JournalTypeMarginWithdraw
	JournalTypeSettlement
	JournalTypeTradeFee
	JournalTypeLiquidationFee
	JournalTypeLiquidatorReward
	JournalTypeInsuranceDeposit
	JournalTypeInsuranceWithdrawal
	JournalTypeInsuranceCoverage
)

func (jt JournalType) String() string {
	switch jt {
	case JournalTypeWalletDeposit:
		return "wallet_deposit"
	case JournalTypeVaultSeed:
		return "vault_seed"
	case JournalTypeMarginDeposit:
		return "margin_deposit"
	case JournalTypeMarginTopUp:
		return "margin_top_up"
	case JournalTypeMarginWithdraw:
		return "margin_withdraw"
	case JournalTypeSettlement:
		return "settlement"
	case JournalTypeTradeFee:
		return "trade_fee"
	case JournalTypeLiquidationFee:
		return "liquidation_fee"
	case JournalTypeLiquidatorReward:
		return "liquidator_reward"
	case JournalTypeInsuranceDeposit:
		return "insurance_deposit"
	case JournalTypeInsuranceWithdrawal:
		return "insurance_withdrawal"
	case JournalTypeInsuranceCoverage:
		return "insurance_coverage"
	default:
		return "unknown"
	}
}

// Journal is one transfer: Amount moves from CreditAccount to DebitAccount.
type Journal struct {
	JournalID     uuid.UUID   // Unique identifier
	BatchID       uuid.UUID   // Groups the transfers of one operation
	EventRef      string      // Operation reference
	Sequence      int64       // Global event sequence
	DebitAccount  AccountKey  // Account receiving debit (balance increases)
	CreditAccount AccountKey  // Account receiving credit (balance decreases)
	Authority     uuid.UUID   // Signer of the transfer
	AssetID       AssetID     // Asset being transferred
	Amount        int64       // Raw token units (ALWAYS positive)
	JournalType   JournalType // Entry type
	Timestamp     int64       // Operation timestamp (unix seconds)
}

// Batch is the set of transfers of one operation, applied all-or-nothing.
type Batch struct {
	BatchID   uuid.UUID
	EventRef  string
	Sequence  int64
	Timestamp int64
	Journals  []Journal
}

// NewBatch starts an empty batch for one operation.
func NewBatch(eventRef string, sequence, timestamp int64) *Batch {
	return &Batch{
		BatchID:   uuid.New(),
		EventRef:  eventRef,
		Sequence:  sequence,
		Timestamp: timestamp,
	}
}

// Add appends a transfer. Zero amounts are dropped so callers can stage
// floor-rounded legs unconditionally.
func (b *Batch) Add(from, to AccountKey, authority uuid.UUID, amount int64, jt JournalType) {
	if amount == 0 {
		return
	}
	b.Journals = append(b.Journals, Journal{
		JournalID:     uuid.New(),
		BatchID:       b.BatchID,
		EventRef:      b.EventRef,
		Sequence:      b.Sequence,
		DebitAccount:  to,
		CreditAccount: from,
		Authority:     authority,
		AssetID:       to.AssetID,
		Amount:        amount,
		JournalType:   jt,
		Timestamp:     b.Timestamp,
	})
}

// IsEmpty reports whether the operation moved no value.
func (b *Batch) IsEmpty() bool {
	return len(b.Journals) == 0
}

// Validate ensures the batch is well-formed.
// Each journal is a balanced transfer by construction, so a batch is
// balanced when every entry is.
func (b *Batch) Validate() error {
	for _, j := range b.Journals {
		if j.Amount <= 0 {
			return fmt.Errorf("journal %s has non-positive amount: %d", j.JournalID, j.Amount)
		}
		if j.BatchID != b.BatchID {
			return fmt.Errorf("journal %s has mismatched batch_id", j.JournalID)
		}
		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}
		if j.DebitAccount.AssetID != j.CreditAccount.AssetID {
			return fmt.Errorf("journal %s moves between assets %d and %d",
				j.JournalID, j.CreditAccount.AssetID, j.DebitAccount.AssetID)
		}
	}
	return nil
}
