package oracle

import (
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// UpdateWithCircuitBreaker commits newPriceFP to the record unless it moves
// more than maxChangeBps from a positive previous price. It returns the
// observed move in bps (0 for the first price). The record is left untouched
// on any error.
func UpdateWithCircuitBreaker(o *state.OraclePrice, newPriceFP, maxChangeBps, now int64) (int64, error) {
	if newPriceFP <= 0 {
		return 0, riskerr.Wrap(riskerr.InvalidPrice, "price %d must be positive", newPriceFP)
	}
	var dev int64
	if o.PriceFP > 0 {
		var err error
		dev, err = fpmath.DeviationBps(o.PriceFP, newPriceFP)
		if err != nil {
			return 0, err
		}
		if dev > maxChangeBps {
			return dev, riskerr.Wrap(riskerr.CircuitBreakerTriggered, "feed %s moved %d bps > %d", o.Feed, dev, maxChangeBps)
		}
	}

	o.PriceFP = newPriceFP
	o.LastUpdatedTs = now
	o.IsValid = true
	o.PushHistory(newPriceFP)
	return dev, nil
}
