package oracle

import (
	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

const (
	HealthMaxStalenessSeconds int64 = 300
	HealthWarnDeviationBps    int64 = 1000
	HealthMaxDeviationBps     int64 = 5000
)

// HealthReport is the outcome of a post-operation oracle check.
type HealthReport struct {
	DeviationBps int64
	Warn         bool // moved more than HealthWarnDeviationBps
}

// HealthCheck compares a price used by an operation against the stored record.
func HealthCheck(o *state.OraclePrice, currentFP, now int64) (HealthReport, error) {
	if o == nil {
		return HealthReport{}, riskerr.OracleFeedNotFound
	}
	if age := now - o.LastUpdatedTs; age > HealthMaxStalenessSeconds {
		return HealthReport{}, riskerr.Wrap(riskerr.BadOracle, "feed %s stale for health check: %ds", o.Feed, age)
	}
	if currentFP <= 0 {
		return HealthReport{}, riskerr.Wrap(riskerr.BadOracle, "non-positive price %d", currentFP)
	}
	if o.PriceFP <= 0 {
		return HealthReport{}, nil
	}

	dev, err := fpmath.DeviationBps(o.PriceFP, currentFP)
	if err != nil {
		return HealthReport{}, err
	}
	report := HealthReport{DeviationBps: dev, Warn: dev > HealthWarnDeviationBps}
	if dev > HealthMaxDeviationBps {
		return report, riskerr.Wrap(riskerr.OraclePriceDeviation, "price moved %d bps since last update", dev)
	}
	return report, nil
}
