package state

import (
	"github.com/google/uuid"

	"PerpRisk/internal/riskerr"
)

// MaxLeverageX is the protocol-wide leverage ceiling.
const MaxLeverageX int64 = 40

const (
	MaxFeeBps           int64 = 1000 // 10%
	MaxLiqFeeBps        int64 = 2000 // 20%
	MaxCreatorRewardBps int64 = 5000 // 50%

	MaxPositionsPerUserCeiling int64 = 200
	MinCircuitBreakerBps       int64 = 100
	MaxCircuitBreakerBps       int64 = 5000

	DefaultMaxPositionsPerUser        int64 = 50
	DefaultMaxTotalPositions          int64 = 10_000
	DefaultEmergencyPauseThreshold    int64 = 1_000_000
	DefaultCircuitBreakerThresholdBps int64 = 1000
	DefaultFundingIntervalSeconds     int64 = 3600
)

// Config is the protocol singleton.
type Config struct {
	Admin            uuid.UUID `json:"admin"`
	QuoteAsset       string    `json:"quote_asset"`
	FeeBps           int64     `json:"fee_bps"`
	LiqFeeBps        int64     `json:"liq_fee_bps"`
	FeeDestination   uuid.UUID `json:"fee_destination"`
	InsuranceVault   uuid.UUID `json:"insurance_vault"`
	CreatorRewardBps int64     `json:"creator_reward_bps"`
	Paused           bool      `json:"paused"`

	MaxPositionsPerUser        int64 `json:"max_positions_per_user"`
	MaxTotalPositions          int64 `json:"max_total_positions"`
	EmergencyPauseThreshold    int64 `json:"emergency_pause_threshold"` // raw units of deficit
	CircuitBreakerThresholdBps int64 `json:"circuit_breaker_threshold_bps"`

	// Oracle validation
	MaxStalenessSeconds       int64 `json:"max_staleness_seconds"`
	MaxConfidenceDeviationBps int64 `json:"max_confidence_deviation_bps"`
	MaxPriceDeviationBps      int64 `json:"max_price_deviation_bps"`
	MinPublishers             int64 `json:"min_publishers"`

	FundingIntervalSeconds int64 `json:"funding_interval_seconds"`

	// Protocol-wide open position counter, maintained with MaxTotalPositions.
	OpenPositions int64 `json:"open_positions"`
}

// NewConfig builds a config with the protocol defaults after validating fee bounds.
func NewConfig(admin uuid.UUID, quoteAsset string, feeBps, liqFeeBps, creatorRewardBps int64,
	feeDestination, insuranceVault uuid.UUID) (*Config, error) {
	if err := ValidateFees(feeBps, liqFeeBps, creatorRewardBps); err != nil {
		return nil, err
	}
	if admin == uuid.Nil {
		return nil, riskerr.Wrap(riskerr.InvalidProtocolConfig, "admin must be set")
	}
	if quoteAsset == "" {
		return nil, riskerr.Wrap(riskerr.InvalidProtocolConfig, "quote asset must be set")
	}
	return &Config{
		Admin:                      admin,
		QuoteAsset:                 quoteAsset,
		FeeBps:                     feeBps,
		LiqFeeBps:                  liqFeeBps,
		FeeDestination:             feeDestination,
		InsuranceVault:             insuranceVault,
		CreatorRewardBps:           creatorRewardBps,
		MaxPositionsPerUser:        DefaultMaxPositionsPerUser,
		MaxTotalPositions:          DefaultMaxTotalPositions,
		EmergencyPauseThreshold:    DefaultEmergencyPauseThreshold,
		CircuitBreakerThresholdBps: DefaultCircuitBreakerThresholdBps,
		MaxStalenessSeconds:        60,
		MaxConfidenceDeviationBps:  500,
		MaxPriceDeviationBps:       200,
		MinPublishers:              3,
		FundingIntervalSeconds:     DefaultFundingIntervalSeconds,
	}, nil
}

// ValidateFees checks fee parameter bounds.
func ValidateFees(feeBps, liqFeeBps, creatorRewardBps int64) error {
	if feeBps < 0 || feeBps > MaxFeeBps {
		return riskerr.Wrap(riskerr.InvalidProtocolConfig, "fee_bps %d outside [0, %d]", feeBps, MaxFeeBps)
	}
	if liqFeeBps < 0 || liqFeeBps > MaxLiqFeeBps {
		return riskerr.Wrap(riskerr.InvalidProtocolConfig, "liq_fee_bps %d outside [0, %d]", liqFeeBps, MaxLiqFeeBps)
	}
	if creatorRewardBps < 0 || creatorRewardBps > MaxCreatorRewardBps {
		return riskerr.Wrap(riskerr.InvalidProtocolConfig, "creator_reward_bps %d outside [0, %d]", creatorRewardBps, MaxCreatorRewardBps)
	}
	return nil
}

// RiskUpdate carries the optional fields of an update_risk_parameters call.
type RiskUpdate struct {
	MaxPositionsPerUser        *int64 `json:"max_positions_per_user,omitempty"`
	CircuitBreakerThresholdBps *int64 `json:"circuit_breaker_threshold_bps,omitempty"`
}

// ApplyRiskUpdate validates and applies every present field; on error the
// config is left untouched.
func (c *Config) ApplyRiskUpdate(u RiskUpdate) error {
	if u.MaxPositionsPerUser != nil {
		v := *u.MaxPositionsPerUser
		if v <= 0 || v > MaxPositionsPerUserCeiling {
			return riskerr.Wrap(riskerr.InvalidProtocolConfig, "max_positions_per_user %d outside (0, %d]", v, MaxPositionsPerUserCeiling)
		}
	}
	if u.CircuitBreakerThresholdBps != nil {
		v := *u.CircuitBreakerThresholdBps
		if v < MinCircuitBreakerBps || v > MaxCircuitBreakerBps {
			return riskerr.Wrap(riskerr.InvalidProtocolConfig, "circuit_breaker_threshold_bps %d outside [%d, %d]", v, MinCircuitBreakerBps, MaxCircuitBreakerBps)
		}
	}

	if u.MaxPositionsPerUser != nil {
		c.MaxPositionsPerUser = *u.MaxPositionsPerUser
	}
	if u.CircuitBreakerThresholdBps != nil {
		c.CircuitBreakerThresholdBps = *u.CircuitBreakerThresholdBps
	}
	return nil
}

// EffectiveFeeBps returns the market override or the protocol fee.
func (c *Config) EffectiveFeeBps(m *Market) int64 {
	if m != nil && m.FeeBps > 0 {
		return m.FeeBps
	}
	return c.FeeBps
}

func (c *Config) Clone() *Config {
	cp := *c
	return &cp
}
