package state

import (
	fpmath "PerpRisk/internal/math"
)

// Valuation is a position's risk snapshot at one price.
type Valuation struct {
	PriceFP               int64 `json:"price_fp"`
	NotionalFP            int64 `json:"notional_fp"`
	UnrealizedPnlFP       int64 `json:"unrealized_pnl_fp"`
	EquityFP              int64 `json:"equity_fp"`
	MaintenanceRequiredFP int64 `json:"maintenance_required_fp"`
	Liquidatable          bool  `json:"liquidatable"`
}

// PnLForSize computes direction * (|size|*exit - |size|*entry) / FP for a slice
// of a position.
func PnLForSize(isLong bool, absSize, entryFP, exitFP int64) (int64, error) {
	if absSize == 0 {
		return 0, nil
	}
	diff, err := fpmath.Sub(exitFP, entryFP)
	if err != nil {
		return 0, err
	}
	pnl, err := fpmath.MulDiv(absSize, diff, fpmath.FP)
	if err != nil {
		return 0, err
	}
	if !isLong {
		pnl = -pnl
	}
	return pnl, nil
}

// NotionalForSize returns |size| * price / FP.
func NotionalForSize(absSize, priceFP int64) (int64, error) {
	return fpmath.MulDiv(absSize, priceFP, fpmath.FP)
}

// UnrealizedPnL is 0 for an empty position.
func UnrealizedPnL(p *UserPosition, priceFP int64) (int64, error) {
	if p.BaseSize == 0 {
		return 0, nil
	}
	return PnLForSize(p.IsLong, p.AbsSize(), p.EntryPriceFP, priceFP)
}

func Notional(p *UserPosition, priceFP int64) (int64, error) {
	return NotionalForSize(p.AbsSize(), priceFP)
}

// Equity = margin*FP + unrealized PnL - funding debt.
func Equity(p *UserPosition, priceFP int64) (int64, error) {
	marginFP, err := fpmath.ToFP(p.MarginDeposited)
	if err != nil {
		return 0, err
	}
	pnl, err := UnrealizedPnL(p, priceFP)
	if err != nil {
		return 0, err
	}
	eq, err := fpmath.Add(marginFP, pnl)
	if err != nil {
		return 0, err
	}
	return fpmath.Sub(eq, p.FundingDebtFP)
}

// MaintenanceRequired = notional * maintenance_margin_bps / 10000.
func MaintenanceRequired(p *UserPosition, m *Market, priceFP int64) (int64, error) {
	notional, err := Notional(p, priceFP)
	if err != nil {
		return 0, err
	}
	return fpmath.BpsOf(notional, m.MaintenanceMarginBps)
}

// IsLiquidatable is equity < maintenance requirement. Empty positions never are.
func IsLiquidatable(p *UserPosition, m *Market, priceFP int64) (bool, error) {
	v, err := Value(p, m, priceFP)
	if err != nil {
		return false, err
	}
	return v.Liquidatable, nil
}

// LiquidationPrice is the advisory trigger ignoring funding and fees:
// entry*(10000-mm)/10000 for longs, entry*(10000+mm)/10000 for shorts.
func LiquidationPrice(isLong bool, entryFP, mmBps int64) (int64, error) {
	factor := fpmath.BpsDenominator + mmBps
	if isLong {
		factor = fpmath.BpsDenominator - mmBps
	}
	return fpmath.MulDiv(entryFP, factor, fpmath.BpsDenominator)
}

// Value computes the full valuation in one pass.
func Value(p *UserPosition, m *Market, priceFP int64) (Valuation, error) {
	v := Valuation{PriceFP: priceFP}
	var err error

	if v.NotionalFP, err = Notional(p, priceFP); err != nil {
		return v, err
	}
	if v.UnrealizedPnlFP, err = UnrealizedPnL(p, priceFP); err != nil {
		return v, err
	}
	if v.EquityFP, err = Equity(p, priceFP); err != nil {
		return v, err
	}
	if v.MaintenanceRequiredFP, err = fpmath.BpsOf(v.NotionalFP, m.MaintenanceMarginBps); err != nil {
		return v, err
	}
	v.Liquidatable = p.BaseSize != 0 && v.EquityFP < v.MaintenanceRequiredFP
	return v, nil
}
