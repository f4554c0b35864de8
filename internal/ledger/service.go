package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/riskerr"
)

// Service moves fungible balances between wallets and venue accounts.
// A batch is applied atomically; callers stage it, Check it before
// committing their own records, then Apply it.
type Service struct {
	tracker   *BalanceTracker
	validator *InvariantValidator
	logger    zerolog.Logger
}

func NewService(logger zerolog.Logger) *Service {
	tracker := NewBalanceTracker()
	return &Service{
		tracker:   tracker,
		validator: NewInvariantValidator(tracker),
		logger:    logger.With().Str("component", "ledger").Logger(),
	}
}

// Tracker exposes balances for queries and snapshots.
func (s *Service) Tracker() *BalanceTracker {
	return s.tracker
}

func (s *Service) Balance(key AccountKey) int64 {
	return s.tracker.GetBalance(key)
}

// authorize enforces transfer authority: wallets are spent by their owner,
// venue and boundary accounts by the protocol.
func authorize(j Journal) error {
	from := j.CreditAccount
	switch from.Scope {
	case AccountScopeUser:
		if uuid.UUID(from.EntityID) != j.Authority {
			return riskerr.Wrap(riskerr.InvalidSigner, "%s cannot spend %s", j.Authority, from.AccountPath())
		}
	default:
		if j.Authority != ProtocolAuthority {
			return riskerr.Wrap(riskerr.InvalidSigner, "%s cannot spend %s", j.Authority, from.AccountPath())
		}
	}
	return nil
}

// Check verifies authority and balances without applying anything.
func (s *Service) Check(batch *Batch) error {
	for _, j := range batch.Journals {
		if err := authorize(j); err != nil {
			return err
		}
	}
	return s.tracker.CheckBatch(batch)
}

// Apply checks then applies a batch. Ledger invariants are re-validated
// afterwards; a violation there means corrupted state and panics.
func (s *Service) Apply(batch *Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	for _, j := range batch.Journals {
		if err := authorize(j); err != nil {
			return err
		}
	}
	if err := s.tracker.ApplyBatch(batch); err != nil {
		return err
	}
	if err := s.validator.ValidateAll(); err != nil {
		s.logger.Error().Err(err).Str("batch_id", batch.BatchID.String()).Msg("ledger invariant violated")
		panic(fmt.Sprintf("ledger invariant violation after batch %s: %v", batch.BatchID, err))
	}

	s.logger.Debug().
		Str("batch_id", batch.BatchID.String()).
		Str("ref", batch.EventRef).
		Int("journals", len(batch.Journals)).
		Msg("batch applied")
	return nil
}

// Transfer moves amount in a single-entry batch.
func (s *Service) Transfer(from, to AccountKey, authority uuid.UUID, amount int64, jt JournalType) (*Batch, error) {
	if amount <= 0 {
		return nil, riskerr.Wrap(riskerr.TokenTransferFailed, "transfer amount %d must be positive", amount)
	}
	batch := NewBatch(jt.String(), 0, time.Now().Unix())
	batch.Add(from, to, authority, amount, jt)
	if err := s.Apply(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// DepositExternal credits a wallet from outside the venue.
func (s *Service) DepositExternal(owner uuid.UUID, assetID AssetID, amount int64) (*Batch, error) {
	return s.Transfer(NewExternalAccountKey(SubTypeExternalDeposits, assetID), WalletKey(owner, assetID),
		ProtocolAuthority, amount, JournalTypeWalletDeposit)
}

// ValidateInvariants runs the ledger checks on demand (reconciliation).
func (s *Service) ValidateInvariants() error {
	return s.validator.ValidateAll()
}
