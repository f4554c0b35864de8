package core

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

// MaxWithdrawalReasonLen bounds the free-text reason of a withdrawal.
const MaxWithdrawalReasonLen = 200

func (oc *opCtx) insuranceFund() (*state.InsuranceFund, error) {
	f, err := oc.tx.GetInsuranceFund()
	if errors.Is(err, store.ErrNotFound) {
		return &state.InsuranceFund{Vault: oc.cfg.InsuranceVault}, nil
	}
	return f, err
}

// DepositInsuranceFund moves amount from the depositor's wallet into the insurance vault.
func (e *Engine) DepositInsuranceFund(ctx context.Context, depositor uuid.UUID, amount int64) (*state.InsuranceFund, error) {
	var out *state.InsuranceFund
	err := e.run(ctx, "deposit_insurance_fund", func(oc *opCtx) error {
		if amount <= 0 {
			return riskerr.Wrap(riskerr.InvalidMarketParameters, "deposit amount must be positive")
		}
		if err := oc.loadConfig(); err != nil {
			return err
		}
		f, err := oc.insuranceFund()
		if err != nil {
			return err
		}
		if err := f.Deposit(uint64(amount)); err != nil {
			return err
		}
		if err := oc.tx.PutInsuranceFund(f); err != nil {
			return err
		}
		oc.transfer(oc.wallet(depositor), oc.insuranceVault(), depositor, amount, ledger.JournalTypeInsuranceDeposit)
		oc.emit(&event.InsuranceFundDeposit{Depositor: depositor, Amount: amount, NewTotal: f.TotalDeposits})
		e.observeFund(oc, f, func() {
			e.metrics.InsuranceDeposits.Add(float64(amount))
		})
		out = f.Clone()
		return nil
	})
	return out, err
}

// WithdrawInsuranceFund pays amount from the insurance vault to recipient. Admin only.
func (e *Engine) WithdrawInsuranceFund(ctx context.Context, admin, recipient uuid.UUID, amount int64, reason string) (*state.InsuranceFund, error) {
	var out *state.InsuranceFund
	err := e.run(ctx, "withdraw_insurance_fund", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if !oc.isAdmin(admin) {
			return riskerr.Wrap(riskerr.UnauthorizedAccess, "%s is not admin", admin)
		}
		if amount <= 0 {
			return riskerr.Wrap(riskerr.InvalidMarketParameters, "withdrawal amount must be positive")
		}
		if len(reason) > MaxWithdrawalReasonLen {
			return riskerr.Wrap(riskerr.InvalidParameters, "reason longer than %d", MaxWithdrawalReasonLen)
		}
		f, err := oc.insuranceFund()
		if err != nil {
			return err
		}
		if err := f.Claim(uint64(amount)); err != nil {
			return err
		}
		if err := oc.tx.PutInsuranceFund(f); err != nil {
			return err
		}
		oc.transfer(oc.insuranceVault(), oc.wallet(recipient), ledger.ProtocolAuthority, amount, ledger.JournalTypeInsuranceWithdrawal)
		newTotal := f.TotalDeposits - f.TotalClaims
		if f.TotalClaims > f.TotalDeposits {
			newTotal = 0
		}
		oc.emit(&event.InsuranceFundWithdrawal{Recipient: recipient, Amount: amount, NewTotal: newTotal, Reason: reason})
		e.observeFund(oc, f, func() {
			e.metrics.InsuranceClaims.Add(float64(amount))
		})
		out = f.Clone()
		return nil
	})
	return out, err
}

// contributeFromLiquidation moves what the insurance vault can cover of a
// liquidation deficit into custody and books the covered amount as a fund
// deposit. It returns the covered amount; liquidation proceeds whatever the
// vault holds.
func (e *Engine) contributeFromLiquidation(oc *opCtx, liquidator uuid.UUID, symbol string, deficit int64) (int64, error) {
	f, err := oc.insuranceFund()
	if err != nil {
		return 0, err
	}
	covered, uncovered := f.ComputeCoverage(e.ledger.Balance(oc.insuranceVault()), deficit)
	if err := f.Deposit(uint64(covered)); err != nil {
		return 0, err
	}
	if err := oc.tx.PutInsuranceFund(f); err != nil {
		return 0, err
	}
	oc.transfer(oc.insuranceVault(), oc.custody(), ledger.ProtocolAuthority, covered, ledger.JournalTypeInsuranceCoverage)
	oc.emit(&event.InsuranceFundContribution{
		Contributor: liquidator,
		Market:      symbol,
		Amount:      deficit,
		Covered:     covered,
		NewBalance:  f.TotalDeposits,
	})
	e.observeFund(oc, f, func() {
		if uncovered > 0 {
			e.logger.Warn().Str("symbol", symbol).Int64("uncovered", uncovered).Msg("insurance vault short of liquidation deficit")
		}
	})
	return covered, nil
}

// observeFund exports the fund ratio on commit. Health never gates an operation.
func (e *Engine) observeFund(oc *opCtx, f *state.InsuranceFund, extra func()) {
	ratio, healthy := f.FundRatio(), f.IsHealthy()
	oc.onCommit = append(oc.onCommit, func() {
		extra()
		e.metrics.InsuranceRatioBps.Set(float64(ratio))
		if healthy {
			e.metrics.InsuranceHealthy.Set(1)
		} else {
			e.metrics.InsuranceHealthy.Set(0)
			e.logger.Warn().Uint64("ratio_bps", ratio).Msg("insurance fund below healthy ratio")
		}
	})
}
