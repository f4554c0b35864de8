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

type OpenPositionRequest struct {
	Owner        uuid.UUID `json:"owner"`
	Symbol       string    `json:"symbol"`
	IsLong       bool      `json:"is_long"`
	QuoteToSpend int64     `json:"quote_to_spend"` // raw quote notional
	Leverage     int64     `json:"leverage"`
}

// tradable checks the protocol and market pause flags.
func (oc *opCtx) tradable(symbol string) (*state.Market, error) {
	if oc.cfg.Paused {
		return nil, riskerr.ProtocolPaused
	}
	m, err := oc.market(symbol)
	if err != nil {
		return nil, err
	}
	if m.IsPaused {
		return nil, riskerr.Wrap(riskerr.MarketPaused, "market %q", symbol)
	}
	return m, nil
}

// OpenPosition opens a position of quote_to_spend notional at leverage.
func (e *Engine) OpenPosition(ctx context.Context, req OpenPositionRequest) (*state.UserPosition, error) {
	var out *state.UserPosition
	err := e.run(ctx, "open_position", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.tradable(req.Symbol)
		if err != nil {
			return err
		}
		if req.Leverage < 1 {
			return riskerr.Wrap(riskerr.InvalidParameters, "leverage %d", req.Leverage)
		}
		if req.Leverage > m.MaxLeverage() {
			return riskerr.Wrap(riskerr.LeverageTooHigh, "leverage %dx > %dx", req.Leverage, m.MaxLeverage())
		}
		if req.QuoteToSpend <= 0 {
			return riskerr.Wrap(riskerr.InvalidMarketParameters, "quote_to_spend must be positive")
		}
		margin := req.QuoteToSpend / req.Leverage
		if margin == 0 {
			return riskerr.Wrap(riskerr.InsufficientMargin, "%d at %dx leaves no margin", req.QuoteToSpend, req.Leverage)
		}

		price, err := e.price(oc, m)
		if err != nil {
			return err
		}
		notionalFP, err := fpmath.ToFP(req.QuoteToSpend)
		if err != nil {
			return err
		}
		base, err := fpmath.MulDiv(notionalFP, fpmath.FP, price)
		if err != nil {
			return err
		}
		if base == 0 {
			return riskerr.Wrap(riskerr.PositionTooSmall, "%d quote buys no base at %d", req.QuoteToSpend, price)
		}
		if base > m.MaxPositionBase {
			return riskerr.Wrap(riskerr.MaxPositionExceeded, "size %d > max %d", base, m.MaxPositionBase)
		}

		owned, err := oc.tx.CountOpenPositions(req.Owner)
		if err != nil {
			return err
		}
		if owned >= oc.cfg.MaxPositionsPerUser {
			return riskerr.Wrap(riskerr.ExceedsPositionLimits, "owner has %d open positions", owned)
		}
		if oc.cfg.OpenPositions >= oc.cfg.MaxTotalPositions {
			return riskerr.Wrap(riskerr.ExceedsPositionLimits, "protocol has %d open positions", oc.cfg.OpenPositions)
		}

		p, err := oc.tx.GetOrCreatePosition(req.Owner, req.Symbol)
		if err != nil {
			return err
		}
		if !p.IsEmpty() {
			return riskerr.Wrap(riskerr.InvalidParameters, "position %s is open; close before reopening", p.Key())
		}
		liqPrice, err := state.LiquidationPrice(req.IsLong, price, m.MaintenanceMarginBps)
		if err != nil {
			return err
		}

		checkpoint := m.CumulativeFundingLongFP
		if !req.IsLong {
			checkpoint = m.CumulativeFundingShortFP
		}
		p.IsLong = req.IsLong
		p.BaseSize = state.SignedSize(req.IsLong, base)
		p.EntryPriceFP = price
		p.MarginDeposited = margin
		p.LiquidationPriceFP = liqPrice
		p.FundingDebtFP = 0
		p.FundingCheckpointFP = checkpoint
		p.LastFundingSettled = oc.now
		p.RealizedPnlFP = 0
		p.TotalFeesPaid = 0
		p.LastUpdatedTs = oc.now

		if err := m.AddOpenInterest(req.IsLong, base); err != nil {
			return err
		}
		if err := m.AddVolume(req.QuoteToSpend); err != nil {
			return err
		}
		oc.cfg.OpenPositions++

		oc.transfer(oc.wallet(req.Owner), oc.custody(), req.Owner, margin, ledger.JournalTypeMarginDeposit)
		if err := e.putPositionAndMarket(oc, p, m); err != nil {
			return err
		}
		if err := oc.tx.PutConfig(oc.cfg); err != nil {
			return err
		}
		oc.emit(&event.PositionOpened{
			Owner:              req.Owner,
			Market:             req.Symbol,
			IsLong:             req.IsLong,
			BaseSize:           p.BaseSize,
			EntryPriceFP:       price,
			Leverage:           req.Leverage,
			MarginDeposited:    margin,
			LiquidationPriceFP: liqPrice,
		})
		volume := req.QuoteToSpend
		oc.onCommit = append(oc.onCommit, func() {
			e.metrics.OpenPositions.WithLabelValues(req.Symbol).Inc()
			e.metrics.VolumeTotal.WithLabelValues(req.Symbol).Add(float64(volume))
		})
		out = p.Clone()
		return nil
	})
	return out, err
}

// putPositionAndMarket writes both records and refreshes the open interest gauges on commit.
func (e *Engine) putPositionAndMarket(oc *opCtx, p *state.UserPosition, m *state.Market) error {
	if err := oc.tx.PutPosition(p); err != nil {
		return err
	}
	if err := oc.tx.PutMarket(m); err != nil {
		return err
	}
	symbol, long, short := m.Symbol, m.TotalLongSize, m.TotalShortSize
	oc.onCommit = append(oc.onCommit, func() {
		e.metrics.OpenInterest.WithLabelValues(symbol, "long").Set(float64(long))
		e.metrics.OpenInterest.WithLabelValues(symbol, "short").Set(float64(short))
	})
	return nil
}

// CloseResult reports what a close paid out.
type CloseResult struct {
	Position   *state.UserPosition `json:"position"`
	ClosedSize int64               `json:"closed_size"`
	PnlFP      int64               `json:"pnl_fp"`
	FeesPaid   int64               `json:"fees_paid"`
	Settlement int64               `json:"settlement"`
}

// ClosePosition closes the whole position at the current price.
func (e *Engine) ClosePosition(ctx context.Context, owner uuid.UUID, symbol string) (*CloseResult, error) {
	var out *CloseResult
	err := e.run(ctx, "close_position", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.tradable(symbol)
		if err != nil {
			return err
		}
		p, err := oc.openPosition(owner, symbol)
		if err != nil {
			return err
		}
		out, err = e.closePercentage(oc, m, p, 100)
		return err
	})
	return out, err
}

// PartialClosePosition closes pct in (0, 100) of the position.
func (e *Engine) PartialClosePosition(ctx context.Context, owner uuid.UUID, symbol string, pct int64) (*CloseResult, error) {
	var out *CloseResult
	err := e.run(ctx, "partial_close_position", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.tradable(symbol)
		if err != nil {
			return err
		}
		if pct <= 0 || pct >= 100 {
			return riskerr.Wrap(riskerr.InvalidClosePercentage, "close percentage %d outside (0, 100)", pct)
		}
		p, err := oc.openPosition(owner, symbol)
		if err != nil {
			return err
		}
		out, err = e.closePercentage(oc, m, p, pct)
		return err
	})
	return out, err
}

// closePercentage settles pct of an open position; 100 is a full close. A
// partial close must leave a non-empty, healthy position at the same price
// and may not realize a deficit.
func (e *Engine) closePercentage(oc *opCtx, m *state.Market, p *state.UserPosition, pct int64) (*CloseResult, error) {
	price, err := e.price(oc, m)
	if err != nil {
		return nil, err
	}
	s, err := computeSlice(p, pct, price, oc.cfg.EffectiveFeeBps(m))
	if err != nil {
		return nil, err
	}
	if pct < 100 && s.full {
		return nil, riskerr.Wrap(riskerr.PositionTooSmall, "closing %d%% leaves nothing; use a full close", pct)
	}
	net, err := s.netFP()
	if err != nil {
		return nil, err
	}
	if net < 0 && !s.full {
		return nil, riskerr.Wrap(riskerr.WouldBeLiquidated, "closing %d%% at %d leaves a deficit of %d FP", pct, price, -net)
	}
	// A full close settles max(0, net); the fee is collected regardless.
	settlement := fpmath.FloorToRaw(net)
	fee := s.feeRaw()

	owner, symbol := p.Owner, p.Symbol
	if err := applySlice(p, m, s, fee, oc.now); err != nil {
		return nil, err
	}
	if !s.full {
		liq, err := state.IsLiquidatable(p, m, price)
		if err != nil {
			return nil, err
		}
		if liq {
			return nil, riskerr.Wrap(riskerr.WouldBeLiquidated, "remaining position below maintenance at %d", price)
		}
	}

	oc.transfer(oc.custody(), oc.wallet(owner), ledger.ProtocolAuthority, settlement, ledger.JournalTypeSettlement)
	oc.transfer(oc.custody(), oc.wallet(oc.cfg.FeeDestination), ledger.ProtocolAuthority, fee, ledger.JournalTypeTradeFee)

	if err := e.putPositionAndMarket(oc, p, m); err != nil {
		return nil, err
	}
	if s.full {
		if err := oc.closedPosition(owner, symbol); err != nil {
			return nil, err
		}
		oc.emit(&event.PositionClosed{
			Owner:            owner,
			Market:           symbol,
			ExitPriceFP:      price,
			PnlFP:            s.pnlFP,
			FundingFP:        s.fundingFP,
			FeesFP:           s.feeFP,
			SettlementAmount: settlement,
		})
		oc.onCommit = append(oc.onCommit, func() {
			e.metrics.OpenPositions.WithLabelValues(symbol).Dec()
		})
	} else {
		oc.emit(&event.PartialPositionClosed{
			Owner:            owner,
			Market:           symbol,
			ClosePercentage:  pct,
			ClosedSize:       s.closed,
			RemainingSize:    s.remaining,
			ExitPriceFP:      price,
			PnlFP:            s.pnlFP,
			MarginReleased:   s.released,
			SettlementAmount: settlement,
			FeesPaid:         fee,
		})
	}
	return &CloseResult{
		Position:   p.Clone(),
		ClosedSize: s.closed,
		PnlFP:      s.pnlFP,
		FeesPaid:   fee,
		Settlement: settlement,
	}, nil
}

// ModifyPositionMargin tops up (delta > 0) or withdraws (delta < 0) margin.
func (e *Engine) ModifyPositionMargin(ctx context.Context, owner uuid.UUID, symbol string, delta int64) (*state.UserPosition, error) {
	var out *state.UserPosition
	err := e.run(ctx, "modify_position_margin", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.tradable(symbol)
		if err != nil {
			return err
		}
		p, err := oc.openPosition(owner, symbol)
		if err != nil {
			return err
		}
		if delta == 0 {
			return riskerr.Wrap(riskerr.InvalidParameters, "margin change must be non-zero")
		}

		if delta > 0 {
			if p.MarginDeposited, err = fpmath.Add(p.MarginDeposited, delta); err != nil {
				return err
			}
			oc.transfer(oc.wallet(owner), oc.custody(), owner, delta, ledger.JournalTypeMarginTopUp)
			oc.emit(&event.MarginAdded{Owner: owner, Market: symbol, Amount: delta, NewCollateral: p.MarginDeposited})
		} else {
			amount := -delta
			if p.MarginDeposited <= amount {
				return riskerr.Wrap(riskerr.InsufficientFunds, "withdraw %d of %d margin", amount, p.MarginDeposited)
			}
			price, err := e.price(oc, m)
			if err != nil {
				return err
			}
			required, err := state.MaintenanceRequired(p, m, price)
			if err != nil {
				return err
			}
			newMarginFP, err := fpmath.ToFP(p.MarginDeposited - amount)
			if err != nil {
				return err
			}
			if newMarginFP < required {
				return riskerr.Wrap(riskerr.WouldBeLiquidated, "margin %d below maintenance %d", newMarginFP, required)
			}
			p.MarginDeposited -= amount
			liq, err := state.IsLiquidatable(p, m, price)
			if err != nil {
				return err
			}
			if liq {
				return riskerr.Wrap(riskerr.WouldBeLiquidated, "position unhealthy after withdrawal at %d", price)
			}
			oc.transfer(oc.custody(), oc.wallet(owner), ledger.ProtocolAuthority, amount, ledger.JournalTypeMarginWithdraw)
			oc.emit(&event.MarginRemoved{Owner: owner, Market: symbol, Amount: amount, NewCollateral: p.MarginDeposited})
		}

		p.LastUpdatedTs = oc.now
		if err := oc.tx.PutPosition(p); err != nil {
			return err
		}
		oc.emit(&event.PositionMarginModified{
			Owner:                 owner,
			Market:                symbol,
			MarginChange:          delta,
			NewMargin:             p.MarginDeposited,
			NewLiquidationPriceFP: p.LiquidationPriceFP,
		})
		out = p.Clone()
		return nil
	})
	return out, err
}
