package oracle

import (
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

// Validate returns the record's price when it is valid, fresh and positive.
// An age exactly equal to MaxStalenessSeconds is accepted.
func Validate(o *state.OraclePrice, cfg Config, now int64) (int64, error) {
	if o == nil {
		return 0, riskerr.OracleFeedNotFound
	}
	if !o.IsValid {
		return 0, riskerr.Wrap(riskerr.BadOracle, "feed %s marked invalid", o.Feed)
	}
	age := now - o.LastUpdatedTs
	if age > cfg.MaxStalenessSeconds {
		return 0, riskerr.Wrap(riskerr.BadOracle, "feed %s stale: age %ds > %ds", o.Feed, age, cfg.MaxStalenessSeconds)
	}
	if o.PriceFP <= 0 {
		return 0, riskerr.Wrap(riskerr.BadOracle, "feed %s non-positive price %d", o.Feed, o.PriceFP)
	}
	return o.PriceFP, nil
}
