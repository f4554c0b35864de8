package state

import (
	stdmath "math"
	"math/bits"

	"github.com/google/uuid"

	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
)

// HealthyFundRatioBps is the 1.5x deposits/claims threshold.
const HealthyFundRatioBps uint64 = 15_000

// InsuranceFund tracks deposits and claims against the insurance vault.
// Both counters only grow.
type InsuranceFund struct {
	TotalDeposits uint64    `json:"total_deposits"`
	TotalClaims   uint64    `json:"total_claims"`
	Vault         uuid.UUID `json:"vault"`
}

// FundRatio returns deposits/claims in bps, MaxUint64 when nothing was claimed.
func (f *InsuranceFund) FundRatio() uint64 {
	if f.TotalClaims == 0 {
		return stdmath.MaxUint64
	}
	hi, lo := bits.Mul64(f.TotalDeposits, 10_000)
	if hi != 0 {
		// deposits*10000 overflows; the ratio is certainly healthy
		return stdmath.MaxUint64
	}
	return lo / f.TotalClaims
}

// IsHealthy reports ratio > 1.5x. Advisory only.
func (f *InsuranceFund) IsHealthy() bool {
	return f.FundRatio() > HealthyFundRatioBps
}

// Deposit increments total deposits (checked).
func (f *InsuranceFund) Deposit(amount uint64) error {
	v, err := fpmath.AddUint64(f.TotalDeposits, amount)
	if err != nil {
		return err
	}
	f.TotalDeposits = v
	return nil
}

// Claim records a withdrawal; amount may not exceed total deposits.
func (f *InsuranceFund) Claim(amount uint64) error {
	if amount > f.TotalDeposits {
		return riskerr.Wrap(riskerr.InsufficientBalance, "claim %d exceeds deposits %d", amount, f.TotalDeposits)
	}
	v, err := fpmath.AddUint64(f.TotalClaims, amount)
	if err != nil {
		return err
	}
	f.TotalClaims = v
	return nil
}

// ComputeCoverage returns how much of a deficit the vault balance can cover.
func (f *InsuranceFund) ComputeCoverage(vaultBalance int64, deficit int64) (covered int64, remaining int64) {
	if vaultBalance >= deficit {
		return deficit, 0
	}
	if vaultBalance < 0 {
		vaultBalance = 0
	}
	return vaultBalance, deficit - vaultBalance
}

func (f *InsuranceFund) Clone() *InsuranceFund {
	cp := *f
	return &cp
}
