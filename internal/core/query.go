package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"PerpRisk/internal/ledger"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

func notFound(err error, code riskerr.Code, format string, args ...interface{}) error {
	if errors.Is(err, store.ErrNotFound) {
		return riskerr.Wrap(code, format, args...)
	}
	return err
}

func (e *Engine) Position(ctx context.Context, owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	var out *state.UserPosition
	err := e.store.View(ctx, func(tx store.Tx) error {
		p, err := tx.GetPosition(owner, symbol)
		if err != nil {
			return notFound(err, riskerr.PositionNotFound, "%s:%s", owner, symbol)
		}
		out = p
		return nil
	})
	return out, err
}

func (e *Engine) Positions(ctx context.Context, symbol string) ([]*state.UserPosition, error) {
	var out []*state.UserPosition
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListPositions(symbol)
		return err
	})
	return out, err
}

func (e *Engine) Market(ctx context.Context, symbol string) (*state.Market, error) {
	var out *state.Market
	err := e.store.View(ctx, func(tx store.Tx) error {
		m, err := tx.GetMarket(symbol)
		if err != nil {
			return notFound(err, riskerr.MarketNotFound, "market %q", symbol)
		}
		out = m
		return nil
	})
	return out, err
}

func (e *Engine) Markets(ctx context.Context) ([]*state.Market, error) {
	var out []*state.Market
	err := e.store.View(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListMarkets()
		return err
	})
	return out, err
}

func (e *Engine) StopLoss(ctx context.Context, owner uuid.UUID, symbol string) (*state.StopLossOrder, error) {
	var out *state.StopLossOrder
	err := e.store.View(ctx, func(tx store.Tx) error {
		o, err := tx.GetStopLoss(owner, symbol)
		if err != nil {
			return notFound(err, riskerr.OrderNotActive, "no stop-loss for %s:%s", owner, symbol)
		}
		out = o
		return nil
	})
	return out, err
}

func (e *Engine) InsuranceFund(ctx context.Context) (*state.InsuranceFund, error) {
	var out *state.InsuranceFund
	err := e.store.View(ctx, func(tx store.Tx) error {
		f, err := tx.GetInsuranceFund()
		if err != nil {
			return notFound(err, riskerr.InvalidProtocolConfig, "insurance fund not initialized")
		}
		out = f
		return nil
	})
	return out, err
}

func (e *Engine) OraclePrice(ctx context.Context, feed string) (*state.OraclePrice, error) {
	var out *state.OraclePrice
	err := e.store.View(ctx, func(tx store.Tx) error {
		o, err := tx.GetOraclePrice(feed)
		if err != nil {
			return notFound(err, riskerr.OracleFeedNotFound, "feed %q", feed)
		}
		out = o
		return nil
	})
	return out, err
}

// WalletBalance returns the owner's quote wallet balance.
func (e *Engine) WalletBalance(ctx context.Context, owner uuid.UUID) (int64, error) {
	cfg, err := e.Config(ctx)
	if err != nil {
		return 0, err
	}
	asset, ok := ledger.GetAssetID(cfg.QuoteAsset)
	if !ok {
		return 0, riskerr.Wrap(riskerr.InvalidTokenMint, "quote asset %q", cfg.QuoteAsset)
	}
	return e.ledger.Tracker().GetWalletBalance(owner, asset), nil
}

// PositionView is a position valued at the current validated price.
type PositionView struct {
	Position  *state.UserPosition `json:"position"`
	Valuation state.Valuation     `json:"valuation"`
}

func (e *Engine) ValuePosition(ctx context.Context, owner uuid.UUID, symbol string) (*PositionView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out *PositionView
	err := e.store.View(ctx, func(tx store.Tx) error {
		oc := &opCtx{tx: tx, now: e.clock.Now(), prices: make(map[string]int64)}
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.market(symbol)
		if err != nil {
			return err
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
		out = &PositionView{Position: p, Valuation: v}
		return nil
	})
	return out, err
}

// Candidates lists what a keeper may act on in a market at the current price.
type Candidates struct {
	PriceFP      int64       `json:"price_fp"`
	Liquidatable []uuid.UUID `json:"liquidatable"`
	StopLosses   []uuid.UUID `json:"stop_losses"`
}

func (e *Engine) Candidates(ctx context.Context, symbol string) (*Candidates, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out *Candidates
	err := e.store.View(ctx, func(tx store.Tx) error {
		oc := &opCtx{tx: tx, now: e.clock.Now(), prices: make(map[string]int64)}
		if err := oc.loadConfig(); err != nil {
			return err
		}
		m, err := oc.market(symbol)
		if err != nil {
			return err
		}
		price, err := e.price(oc, m)
		if err != nil {
			return err
		}
		c := &Candidates{PriceFP: price}

		positions, err := tx.ListPositions(symbol)
		if err != nil {
			return err
		}
		open := make(map[uuid.UUID]*state.UserPosition, len(positions))
		for _, p := range positions {
			open[p.Owner] = p
			liq, err := state.IsLiquidatable(p, m, price)
			if err != nil {
				return err
			}
			if liq {
				c.Liquidatable = append(c.Liquidatable, p.Owner)
			}
		}

		orders, err := tx.ListActiveStopLosses(symbol)
		if err != nil {
			return err
		}
		for _, o := range orders {
			p, ok := open[o.Owner]
			if !ok || p.IsLong != o.IsLong {
				continue
			}
			if o.ShouldTrigger(p.IsLong, price) {
				c.StopLosses = append(c.StopLosses, o.Owner)
			}
		}
		out = c
		return nil
	})
	return out, err
}

// Reconcile recomputes every market's open interest from its positions and
// re-validates the ledger invariants.
func (e *Engine) Reconcile(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.store.View(ctx, func(tx store.Tx) error {
		markets, err := tx.ListMarkets()
		if err != nil {
			return err
		}
		var total int64
		for _, m := range markets {
			positions, err := tx.ListPositions(m.Symbol)
			if err != nil {
				return err
			}
			if err := state.ReconcileMarket(m, positions); err != nil {
				return err
			}
			total += int64(len(positions))
		}
		cfg, err := tx.GetConfig()
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cfg.OpenPositions != total {
			return fmt.Errorf("config open_positions=%d, positions scan=%d", cfg.OpenPositions, total)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return e.ledger.ValidateInvariants()
}
