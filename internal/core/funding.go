package core

import (
	"context"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// FundingResult summarizes one settlement.
type FundingResult struct {
	Market     *state.Market `json:"market"`
	RateFP     int64         `json:"rate_fp"`
	MarkFP     int64         `json:"mark_fp"`
	Positions  int           `json:"positions"`
	PaidFP     int64         `json:"paid_fp"`
	ReceivedFP int64         `json:"received_fp"`
}

// SettleFunding accrues the skew funding rate for the elapsed intervals and
// charges every open position of the market against its side's index.
func (e *Engine) SettleFunding(ctx context.Context, symbol string) (*FundingResult, error) {
	var out *FundingResult
	err := e.run(ctx, "settle_funding", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.tradable(symbol)
		if err != nil {
			return err
		}
		interval := oc.cfg.FundingIntervalSeconds
		if interval <= 0 {
			interval = state.DefaultFundingIntervalSeconds
		}
		elapsed := oc.now - m.LastFundingTs
		if elapsed < interval {
			return riskerr.Wrap(riskerr.FundingRateError, "only %ds of %ds interval elapsed", elapsed, interval)
		}

		rate, err := fpmath.ComputeFundingRate(m.TotalLongSize, m.TotalShortSize, m.SkewKBps, m.MaxFundingRateFP)
		if err != nil {
			return err
		}
		accrued, err := fpmath.AccrueFunding(rate, elapsed, interval)
		if err != nil {
			return err
		}
		if m.CumulativeFundingLongFP, err = fpmath.Add(m.CumulativeFundingLongFP, accrued); err != nil {
			return err
		}
		if m.CumulativeFundingShortFP, err = fpmath.Sub(m.CumulativeFundingShortFP, accrued); err != nil {
			return err
		}
		m.FundingRateFP = rate
		m.LastFundingTs = oc.now

		positions, err := oc.tx.ListPositions(symbol)
		if err != nil {
			return err
		}
		var mark int64
		if len(positions) > 0 {
			if mark, err = e.price(oc, m); err != nil {
				return err
			}
		}

		inputs := make([]fpmath.PositionForFunding, 0, len(positions))
		byOwner := make(map[uuid.UUID]*state.UserPosition, len(positions))
		for _, p := range positions {
			inputs = append(inputs, fpmath.PositionForFunding{
				Owner:      p.Owner,
				Size:       p.BaseSize,
				Checkpoint: p.FundingCheckpointFP,
			})
			byOwner[p.Owner] = p
		}
		settlement, err := fpmath.ComputeFundingSettlement(symbol, rate, mark,
			m.CumulativeFundingLongFP, m.CumulativeFundingShortFP, inputs)
		if err != nil {
			return err
		}

		for _, pay := range settlement.Payments {
			p := byOwner[uuid.UUID(pay.Owner)]
			debt, err := fpmath.Add(p.FundingDebtFP, pay.Payment)
			if err != nil {
				return riskerr.Wrap(riskerr.FundingPaymentFailed, "%s: %v", p.Key(), err)
			}
			p.FundingDebtFP = debt
			p.FundingCheckpointFP = pay.NewCheckpoint
			p.LastFundingSettled = oc.now
			p.LastUpdatedTs = oc.now
			if err := oc.tx.PutPosition(p); err != nil {
				return err
			}
			oc.emit(&event.FundingPaid{
				User:            p.Owner,
				Market:          symbol,
				FundingAmountFP: pay.Payment,
				FundingRateFP:   rate,
			})
		}
		if err := oc.tx.PutMarket(m); err != nil {
			return err
		}

		skew := m.SkewRatio()
		oc.emit(&event.FundingSettled{
			Market:                   symbol,
			FundingRateFP:            rate,
			MarkPriceFP:              mark,
			ElapsedSeconds:           elapsed,
			CumulativeFundingLongFP:  m.CumulativeFundingLongFP,
			CumulativeFundingShortFP: m.CumulativeFundingShortFP,
			Positions:                len(settlement.Payments),
			TotalPaidFP:              settlement.TotalPaid,
			TotalReceivedFP:          settlement.TotalReceived,
			SkewRatio:                skew,
		})
		n := len(settlement.Payments)
		balanced := m.IsBalanced()
		oc.onCommit = append(oc.onCommit, func() {
			e.metrics.FundingSettled.WithLabelValues(symbol).Inc()
			e.metrics.FundingRateFP.WithLabelValues(symbol).Set(float64(rate))
			e.metrics.FundingPositions.WithLabelValues(symbol).Add(float64(n))
			e.logger.Info().
				Str("symbol", symbol).
				Int64("rate_fp", rate).
				Int64("skew_ratio", skew).
				Bool("balanced", balanced).
				Int("positions", n).
				Msg("funding settled")
		})

		out = &FundingResult{
			Market:     m.Clone(),
			RateFP:     rate,
			MarkFP:     mark,
			Positions:  n,
			PaidFP:     settlement.TotalPaid,
			ReceivedFP: settlement.TotalReceived,
		}
		return nil
	})
	return out, err
}
