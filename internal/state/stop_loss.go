package state

import (
	"github.com/google/uuid"
)

// StopLossOrder is the single standing stop-loss of an (owner, market) position.
type StopLossOrder struct {
	Owner           uuid.UUID `json:"owner"`
	Symbol          string    `json:"symbol"`
	PositionKey     string    `json:"position_key"`
	TriggerPriceFP  int64     `json:"trigger_price_fp"`
	ClosePercentage int64     `json:"close_percentage"`
	IsActive        bool      `json:"is_active"`
	IsLong          bool      `json:"is_long"` // direction of the guarded position when set
	CreatedAt       int64     `json:"created_at"`
	ExecutedAt      *int64    `json:"executed_at,omitempty"`
}

func NewStopLossOrder(owner uuid.UUID, symbol string) *StopLossOrder {
	return &StopLossOrder{
		Owner:       owner,
		Symbol:      symbol,
		PositionKey: PositionKey{Owner: owner, Symbol: symbol}.String(),
	}
}

// ShouldTrigger: longs trigger at or below the trigger, shorts at or above.
func (o *StopLossOrder) ShouldTrigger(isLong bool, markPriceFP int64) bool {
	if isLong {
		return markPriceFP <= o.TriggerPriceFP
	}
	return markPriceFP >= o.TriggerPriceFP
}

// Activate overwrites the order with a new trigger.
func (o *StopLossOrder) Activate(triggerFP, pct int64, isLong bool, now int64) {
	o.TriggerPriceFP = triggerFP
	o.ClosePercentage = pct
	o.IsLong = isLong
	o.IsActive = true
	o.CreatedAt = now
	o.ExecutedAt = nil
}

// MarkExecuted deactivates the order and timestamps execution.
func (o *StopLossOrder) MarkExecuted(now int64) {
	o.IsActive = false
	ts := now
	o.ExecutedAt = &ts
}

func (o *StopLossOrder) Clone() *StopLossOrder {
	cp := *o
	if o.ExecutedAt != nil {
		ts := *o.ExecutedAt
		cp.ExecutedAt = &ts
	}
	return &cp
}
