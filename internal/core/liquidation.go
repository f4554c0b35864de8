package core

import (
	"context"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// LiquidatorRewardPct is the liquidator's share of the liquidation fee.
const LiquidatorRewardPct int64 = 50

// LiquidationResult reports the settlement of one liquidation.
type LiquidationResult struct {
	Position         *state.UserPosition `json:"position"`
	LiquidatedSize   int64               `json:"liquidated_size"`
	PriceFP          int64               `json:"price_fp"`
	LiquidatorReward int64               `json:"liquidator_reward"`
	ProtocolFee      int64               `json:"protocol_fee"`
	TraderSettlement int64               `json:"trader_settlement"`
	Deficit          int64               `json:"deficit"`
	InsuranceCovered int64               `json:"insurance_covered"`
}

// Liquidate closes an undercollateralized position in full.
func (e *Engine) Liquidate(ctx context.Context, liquidator, owner uuid.UUID, symbol string) (*LiquidationResult, error) {
	return e.liquidate(ctx, "liquidate", liquidator, owner, symbol, 100)
}

// EnhancedLiquidate closes up to maxPct percent of an undercollateralized position.
func (e *Engine) EnhancedLiquidate(ctx context.Context, liquidator, owner uuid.UUID, symbol string, maxPct int64) (*LiquidationResult, error) {
	return e.liquidate(ctx, "enhanced_liquidate", liquidator, owner, symbol, maxPct)
}

func (e *Engine) liquidate(ctx context.Context, op string, liquidator, owner uuid.UUID, symbol string, pct int64) (*LiquidationResult, error) {
	var out *LiquidationResult
	err := e.run(ctx, op, func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.tradable(symbol)
		if err != nil {
			return err
		}
		if pct <= 0 || pct > 100 {
			return riskerr.Wrap(riskerr.InvalidClosePercentage, "liquidation percentage %d outside (0, 100]", pct)
		}
		p, err := oc.openPosition(owner, symbol)
		if err != nil {
			return err
		}
		price, err := e.price(oc, m)
		if err != nil {
			return err
		}
		v, err := state.Value(p, m, price)
		if err != nil {
			return err
		}
		if !v.Liquidatable {
			return riskerr.Wrap(riskerr.PositionNotLiquidatable, "equity %d >= maintenance %d at %d",
				v.EquityFP, v.MaintenanceRequiredFP, price)
		}

		s, err := computeSlice(p, pct, price, oc.cfg.LiqFeeBps)
		if err != nil {
			return err
		}
		rewardFP, err := fpmath.MulDiv(s.feeFP, LiquidatorRewardPct, 100)
		if err != nil {
			return err
		}
		protocolFP := s.feeFP - rewardFP
		net, err := s.netFP()
		if err != nil {
			return err
		}
		res := &LiquidationResult{
			LiquidatedSize:   s.closed,
			PriceFP:          price,
			LiquidatorReward: fpmath.FloorToRaw(rewardFP),
			ProtocolFee:      fpmath.FloorToRaw(protocolFP),
			TraderSettlement: fpmath.FloorToRaw(net),
		}
		if net < 0 {
			res.Deficit = fpmath.FromFP(-net)
			res.TraderSettlement = 0
		}

		if err := applySlice(p, m, s, res.LiquidatorReward+res.ProtocolFee, oc.now); err != nil {
			return err
		}
		if err := e.putPositionAndMarket(oc, p, m); err != nil {
			return err
		}
		if s.full {
			if err := oc.closedPosition(owner, symbol); err != nil {
				return err
			}
		}

		oc.transfer(oc.custody(), oc.wallet(owner), ledger.ProtocolAuthority, res.TraderSettlement, ledger.JournalTypeSettlement)
		oc.transfer(oc.custody(), oc.wallet(liquidator), ledger.ProtocolAuthority, res.LiquidatorReward, ledger.JournalTypeLiquidatorReward)
		oc.transfer(oc.custody(), oc.wallet(oc.cfg.FeeDestination), ledger.ProtocolAuthority, res.ProtocolFee, ledger.JournalTypeLiquidationFee)

		if res.Deficit > 0 {
			if res.InsuranceCovered, err = e.contributeFromLiquidation(oc, liquidator, symbol, res.Deficit); err != nil {
				return err
			}
		}

		oc.emit(&event.LiquidationExecuted{
			Liquidator:                liquidator,
			LiquidatedUser:            owner,
			Market:                    symbol,
			Percentage:                pct,
			LiquidationSize:           s.closed,
			LiquidationPriceFP:        price,
			LiquidatorReward:          res.LiquidatorReward,
			ProtocolFee:               res.ProtocolFee,
			TraderSettlement:          res.TraderSettlement,
			InsuranceFundContribution: res.Deficit,
		})
		kind := "full"
		if !s.full {
			kind = "partial"
			oc.emit(&event.PartialLiquidation{
				User:                      owner,
				Market:                    symbol,
				Liquidator:                liquidator,
				LiquidatedSize:            s.closed,
				RemainingSize:             s.remaining,
				LiquidationPriceFP:        price,
				LiquidatorReward:          res.LiquidatorReward,
				InsuranceFundContribution: res.Deficit,
			})
		}
		oc.emit(&event.LiquidatorRewardPaid{
			Liquidator:       liquidator,
			Market:           symbol,
			RewardAmount:     res.LiquidatorReward,
			RewardPercentage: LiquidatorRewardPct,
		})

		deficit, full := res.Deficit, s.full
		oc.onCommit = append(oc.onCommit, func() {
			e.metrics.Liquidations.WithLabelValues(symbol, kind).Inc()
			if deficit > 0 {
				e.metrics.LiquidationDeficit.WithLabelValues(symbol).Add(float64(deficit))
			}
			if full {
				e.metrics.OpenPositions.WithLabelValues(symbol).Dec()
			}
			e.logger.Info().
				Str("symbol", symbol).
				Str("owner", owner.String()).
				Str("liquidator", liquidator.String()).
				Str("kind", kind).
				Int64("price_fp", price).
				Int64("deficit", deficit).
				Msg("position liquidated")
		})

		if threshold := oc.cfg.EmergencyPauseThreshold; threshold > 0 && res.Deficit >= threshold {
			oc.followUps = append(oc.followUps, func(ctx context.Context) error {
				return e.emergencyPause(ctx, liquidator, symbol, deficit)
			})
		}

		res.Position = p.Clone()
		out = res
		return nil
	})
	return out, err
}

// emergencyPause halts the protocol after a bad-debt liquidation. It runs
// as its own transition while the engine lock is still held.
func (e *Engine) emergencyPause(ctx context.Context, by uuid.UUID, symbol string, deficit int64) error {
	trip := riskerr.Wrap(riskerr.ExceedsRiskLimits, "liquidation deficit %d on %s", deficit, symbol)
	return e.runLocked(ctx, "emergency_pause", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if oc.cfg.Paused {
			return nil
		}
		oc.cfg.Paused = true
		if err := oc.tx.PutConfig(oc.cfg); err != nil {
			return err
		}
		oc.emit(&event.EmergencyPause{Reason: trip.Error(), Timestamp: oc.now, TriggeredBy: by})
		oc.onCommit = append(oc.onCommit, func() {
			e.metrics.EmergencyPauses.WithLabelValues("protocol").Inc()
			e.logger.Error().Err(trip).Str("symbol", symbol).Msg("emergency pause")
		})
		return nil
	})
}
