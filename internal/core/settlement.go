package core

import (
	"errors"

	"github.com/google/uuid"

	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

// closeSlice is the settlement of closing part or all of a position at one
// price. Sizes are FP base, margin raw, everything else FP quote.
type closeSlice struct {
	pct       int64
	closed    int64
	remaining int64
	full      bool

	exitNotionalFP int64
	pnlFP          int64
	fundingFP      int64
	feeFP          int64
	released       int64 // raw margin returned from the position
}

// netFP is released*FP + pnl - funding - fee; negative means bad debt.
func (s closeSlice) netFP() (int64, error) {
	releasedFP, err := fpmath.ToFP(s.released)
	if err != nil {
		return 0, err
	}
	net, err := fpmath.Add(releasedFP, s.pnlFP)
	if err != nil {
		return 0, err
	}
	if net, err = fpmath.Sub(net, s.fundingFP); err != nil {
		return 0, err
	}
	return fpmath.Sub(net, s.feeFP)
}

func (s closeSlice) feeRaw() int64 {
	return fpmath.FloorToRaw(s.feeFP)
}

// computeSlice prices closing pct percent of p at priceFP with feeBps
// charged on the exit notional. A slice whose remainder rounds to zero is
// a full close.
func computeSlice(p *state.UserPosition, pct, priceFP, feeBps int64) (closeSlice, error) {
	s := closeSlice{pct: pct}
	size := p.AbsSize()

	closed, err := fpmath.MulDiv(size, pct, 100)
	if err != nil {
		return s, err
	}
	if closed == 0 {
		return s, riskerr.Wrap(riskerr.PositionTooSmall, "closing %d%% of %d rounds to zero", pct, size)
	}
	s.closed = closed
	s.remaining = size - closed
	s.full = s.remaining == 0

	if s.pnlFP, err = state.PnLForSize(p.IsLong, closed, p.EntryPriceFP, priceFP); err != nil {
		return s, err
	}
	if s.exitNotionalFP, err = state.NotionalForSize(closed, priceFP); err != nil {
		return s, err
	}
	if s.feeFP, err = fpmath.BpsOf(s.exitNotionalFP, feeBps); err != nil {
		return s, err
	}

	if s.full {
		s.released = p.MarginDeposited
		s.fundingFP = p.FundingDebtFP
		return s, nil
	}

	kept, err := fpmath.MulDiv(p.MarginDeposited, s.remaining, size)
	if err != nil {
		return s, err
	}
	s.released = p.MarginDeposited - kept

	keptDebt, err := fpmath.MulDiv(p.FundingDebtFP, s.remaining, size)
	if err != nil {
		return s, err
	}
	s.fundingFP = p.FundingDebtFP - keptDebt
	return s, nil
}

// applySlice shrinks the position and the market open interest.
func applySlice(p *state.UserPosition, m *state.Market, s closeSlice, feesPaid, now int64) error {
	if err := m.RemoveOpenInterest(p.IsLong, s.closed); err != nil {
		return err
	}
	realized, err := fpmath.Add(p.RealizedPnlFP, s.pnlFP)
	if err != nil {
		return err
	}
	fees, err := fpmath.Add(p.TotalFeesPaid, feesPaid)
	if err != nil {
		return err
	}
	p.RealizedPnlFP = realized
	p.TotalFeesPaid = fees
	p.LastUpdatedTs = now

	next := state.PositionStateOpen
	if s.full {
		next = state.PositionStateEmpty
	}
	if !p.State().CanTransitionTo(next) {
		return riskerr.Wrap(riskerr.SettlementError, "position %s: %s -> %s", p.Key(), p.State(), next)
	}
	if s.full {
		p.Reset()
		return nil
	}
	p.BaseSize = state.SignedSize(p.IsLong, s.remaining)
	p.MarginDeposited -= s.released
	p.FundingDebtFP -= s.fundingFP
	return nil
}

// closedPosition finishes a full close: the protocol counter drops and a
// standing stop-loss on the slot is retired.
func (oc *opCtx) closedPosition(owner uuid.UUID, symbol string) error {
	if oc.cfg.OpenPositions > 0 {
		oc.cfg.OpenPositions--
	}
	if err := oc.tx.PutConfig(oc.cfg); err != nil {
		return err
	}
	o, err := oc.tx.GetStopLoss(owner, symbol)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !o.IsActive {
		return nil
	}
	o.IsActive = false
	return oc.tx.PutStopLoss(o)
}
