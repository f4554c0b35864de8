// Package oracle validates, aggregates and gates price feeds before any
// valuation reads them.
package oracle

import "PerpRisk/internal/state"

// Config holds the price acceptance thresholds.
type Config struct {
	MaxStalenessSeconds       int64
	MaxConfidenceDeviationBps int64 // confidence as a share of price
	MaxPriceDeviationBps      int64 // between primary and secondary
	MinPublishers             int64
}

func DefaultConfig() Config {
	return Config{
		MaxStalenessSeconds:       60,
		MaxConfidenceDeviationBps: 500,
		MaxPriceDeviationBps:      200,
		MinPublishers:             3,
	}
}

// ConfigFrom reads the oracle section of the protocol config, using the
// defaults for any unset field.
func ConfigFrom(c *state.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.MaxStalenessSeconds > 0 {
		cfg.MaxStalenessSeconds = c.MaxStalenessSeconds
	}
	if c.MaxConfidenceDeviationBps > 0 {
		cfg.MaxConfidenceDeviationBps = c.MaxConfidenceDeviationBps
	}
	if c.MaxPriceDeviationBps > 0 {
		cfg.MaxPriceDeviationBps = c.MaxPriceDeviationBps
	}
	if c.MinPublishers > 0 {
		cfg.MinPublishers = c.MinPublishers
	}
	return cfg
}
