package core

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

// SetStopLoss creates or overwrites the stop-loss of an open position. The
// trigger must sit on the losing side of the current price.
func (e *Engine) SetStopLoss(ctx context.Context, owner uuid.UUID, symbol string, triggerFP, pct int64) (*state.StopLossOrder, error) {
	var out *state.StopLossOrder
	err := e.run(ctx, "set_stop_loss", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		if pct < 1 || pct > 100 {
			return riskerr.Wrap(riskerr.InvalidMarketParameters, "close percentage %d outside [1, 100]", pct)
		}
		m, err := oc.market(symbol)
		if err != nil {
			return err
		}
		p, err := oc.openPosition(owner, symbol)
		if err != nil {
			return err
		}
		if triggerFP <= 0 {
			return riskerr.Wrap(riskerr.InvalidPrice, "trigger %d must be positive", triggerFP)
		}
		price, err := e.price(oc, m)
		if err != nil {
			return err
		}
		if p.IsLong && triggerFP >= price {
			return riskerr.Wrap(riskerr.InvalidStopLoss, "long trigger %d must be below %d", triggerFP, price)
		}
		if !p.IsLong && triggerFP <= price {
			return riskerr.Wrap(riskerr.InvalidStopLoss, "short trigger %d must be above %d", triggerFP, price)
		}

		o, err := oc.tx.GetOrCreateStopLoss(owner, symbol)
		if err != nil {
			return err
		}
		o.Activate(triggerFP, pct, p.IsLong, oc.now)
		if err := oc.tx.PutStopLoss(o); err != nil {
			return err
		}
		oc.emit(&event.StopLossSet{
			Owner:           owner,
			Market:          symbol,
			TriggerPriceFP:  triggerFP,
			ClosePercentage: pct,
			IsLong:          p.IsLong,
		})
		out = o.Clone()
		return nil
	})
	return out, err
}

// ExecuteStopLoss closes the guarded percentage once the price has crossed
// the trigger. Any executor may call it.
func (e *Engine) ExecuteStopLoss(ctx context.Context, executor, owner uuid.UUID, symbol string) (*CloseResult, error) {
	var out *CloseResult
	err := e.run(ctx, "execute_stop_loss", func(oc *opCtx) error {
		if err := oc.loadConfig(); err != nil {
			return err
		}
		o, err := oc.tx.GetStopLoss(owner, symbol)
		if errors.Is(err, store.ErrNotFound) {
			return riskerr.Wrap(riskerr.OrderNotActive, "no stop-loss for %s:%s", owner, symbol)
		}
		if err != nil {
			return err
		}
		if !o.IsActive {
			if o.ExecutedAt != nil {
				return riskerr.Wrap(riskerr.OrderNotActive, "stop-loss executed at %d", *o.ExecutedAt)
			}
			return riskerr.Wrap(riskerr.OrderNotActive, "stop-loss for %s:%s", owner, symbol)
		}
		m, err := oc.tradable(symbol)
		if err != nil {
			return err
		}
		p, err := oc.openPosition(owner, symbol)
		if err != nil {
			return err
		}
		if p.IsLong != o.IsLong {
			return riskerr.Wrap(riskerr.InvalidStopLoss, "stop-loss guards the other side")
		}
		price, err := e.price(oc, m)
		if err != nil {
			return err
		}
		if !o.ShouldTrigger(p.IsLong, price) {
			return riskerr.Wrap(riskerr.StopLossNotTriggered, "price %d vs trigger %d", price, o.TriggerPriceFP)
		}

		if out, err = e.closePercentage(oc, m, p, o.ClosePercentage); err != nil {
			return err
		}
		o.MarkExecuted(oc.now)
		if err := oc.tx.PutStopLoss(o); err != nil {
			return err
		}
		oc.emit(&event.StopLossExecuted{
			Owner:           owner,
			Market:          symbol,
			TriggerPriceFP:  o.TriggerPriceFP,
			ExecutionPrice:  price,
			ClosePercentage: o.ClosePercentage,
			Executor:        executor,
		})
		return nil
	})
	return out, err
}
