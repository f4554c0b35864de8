package state

import (
	stdmath "math"

	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
)

// MaxSymbolLen bounds market symbols.
const MaxSymbolLen = 12

// Market is one tradable symbol with its risk parameters and aggregate state.
type Market struct {
	Symbol       string `json:"symbol"`
	BaseDecimals int32  `json:"base_decimals"`

	// Oracle feeds. SecondaryFeed empty means primary-only.
	PrimaryFeed   string `json:"primary_feed"`
	SecondaryFeed string `json:"secondary_feed,omitempty"`

	// AMM-derived reserves, skew/funding inputs only
	BaseReserveFP  int64 `json:"base_reserve_fp"`
	QuoteReserveFP int64 `json:"quote_reserve_fp"`

	// Risk parameters
	SkewKBps             int64 `json:"skew_k_bps"`
	MaxPositionBase      int64 `json:"max_position_base"` // FP base units
	MaintenanceMarginBps int64 `json:"maintenance_margin_bps"`
	TakerLeverageCap     int64 `json:"taker_leverage_cap"`
	FeeBps               int64 `json:"fee_bps"` // 0 = protocol fee
	MaxFundingRateFP     int64 `json:"max_funding_rate_fp"`
	MaxSkewRatio         int64 `json:"max_skew_ratio"`

	// Aggregates
	TotalLongSize            int64 `json:"total_long_size"`
	TotalShortSize           int64 `json:"total_short_size"`
	TotalVolume              int64 `json:"total_volume"`
	FundingRateFP            int64 `json:"funding_rate_fp"`
	CumulativeFundingLongFP  int64 `json:"cumulative_funding_long_fp"`
	CumulativeFundingShortFP int64 `json:"cumulative_funding_short_fp"`
	LastFundingTs            int64 `json:"last_funding_ts"`

	IsPaused  bool  `json:"is_paused"`
	CreatedAt int64 `json:"created_at"`
}

// MarketParams are the create_market inputs.
type MarketParams struct {
	Symbol               string `json:"symbol" yaml:"symbol"`
	BaseDecimals         int32  `json:"base_decimals" yaml:"base_decimals"`
	PrimaryFeed          string `json:"primary_feed" yaml:"primary_feed"`
	SecondaryFeed        string `json:"secondary_feed,omitempty" yaml:"secondary_feed"`
	SkewKBps             int64  `json:"skew_k_bps" yaml:"skew_k_bps"`
	MaxPositionBase      int64  `json:"max_position_base" yaml:"max_position_base"`
	MaintenanceMarginBps int64  `json:"maintenance_margin_bps" yaml:"maintenance_margin_bps"`
	TakerLeverageCap     int64  `json:"taker_leverage_cap" yaml:"taker_leverage_cap"`
	BaseReserveFP        int64  `json:"base_reserve_fp" yaml:"base_reserve_fp"`
	QuoteReserveFP       int64  `json:"quote_reserve_fp" yaml:"quote_reserve_fp"`
	FeeBps               int64  `json:"fee_bps,omitempty" yaml:"fee_bps"`
	MaxFundingRateFP     int64  `json:"max_funding_rate_fp,omitempty" yaml:"max_funding_rate_fp"`
}

// DefaultMaxFundingRateFP is 0.5% per interval.
const DefaultMaxFundingRateFP int64 = 5_000

// ValidateMarketParams checks create_market inputs.
func ValidateMarketParams(p MarketParams) error {
	if len(p.Symbol) == 0 || len(p.Symbol) > MaxSymbolLen {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "symbol length %d outside [1, %d]", len(p.Symbol), MaxSymbolLen)
	}
	if p.PrimaryFeed == "" {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "primary feed required")
	}
	if p.SecondaryFeed == p.PrimaryFeed {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "secondary feed must differ from primary")
	}
	if p.MaintenanceMarginBps <= 0 || p.MaintenanceMarginBps >= fpmath.BpsDenominator {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "maintenance_margin_bps %d outside (0, 10000)", p.MaintenanceMarginBps)
	}
	if p.TakerLeverageCap < 1 || p.TakerLeverageCap > MaxLeverageX {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "taker_leverage_cap %d outside [1, %d]", p.TakerLeverageCap, MaxLeverageX)
	}
	if p.MaxPositionBase <= 0 {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "max_position_base must be positive")
	}
	if p.BaseReserveFP <= 0 || p.QuoteReserveFP <= 0 {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "AMM reserves must be positive")
	}
	if p.SkewKBps < 0 || p.SkewKBps > fpmath.BpsDenominator {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "skew_k_bps %d outside [0, 10000]", p.SkewKBps)
	}
	if p.FeeBps < 0 || p.FeeBps > MaxFeeBps {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "fee_bps %d outside [0, %d]", p.FeeBps, MaxFeeBps)
	}
	if p.MaxFundingRateFP < 0 {
		return riskerr.Wrap(riskerr.InvalidMarketParameters, "max_funding_rate_fp must not be negative")
	}
	return nil
}

// NewMarket builds a market record from validated parameters.
func NewMarket(p MarketParams, now int64) (*Market, error) {
	if err := ValidateMarketParams(p); err != nil {
		return nil, err
	}
	maxRate := p.MaxFundingRateFP
	if maxRate == 0 {
		maxRate = DefaultMaxFundingRateFP
	}
	return &Market{
		Symbol:               p.Symbol,
		BaseDecimals:         p.BaseDecimals,
		PrimaryFeed:          p.PrimaryFeed,
		SecondaryFeed:        p.SecondaryFeed,
		BaseReserveFP:        p.BaseReserveFP,
		QuoteReserveFP:       p.QuoteReserveFP,
		SkewKBps:             p.SkewKBps,
		MaxPositionBase:      p.MaxPositionBase,
		MaintenanceMarginBps: p.MaintenanceMarginBps,
		TakerLeverageCap:     p.TakerLeverageCap,
		FeeBps:               p.FeeBps,
		MaxFundingRateFP:     maxRate,
		MaxSkewRatio:         15_000,
		LastFundingTs:        now,
		CreatedAt:            now,
	}, nil
}

// SkewRatio returns long/short open interest in bps (MaxInt64 with no shorts).
func (m *Market) SkewRatio() int64 {
	if m.TotalShortSize == 0 {
		return stdmath.MaxInt64
	}
	r, err := fpmath.MulDiv(m.TotalLongSize, fpmath.BpsDenominator, m.TotalShortSize)
	if err != nil {
		return stdmath.MaxInt64
	}
	return r
}

// IsBalanced reports whether skew is between 0.5x and 1.5x.
func (m *Market) IsBalanced() bool {
	skew := m.SkewRatio()
	return skew >= 5_000 && skew <= 15_000
}

// MaxLeverage is the lesser of the protocol and market caps.
func (m *Market) MaxLeverage() int64 {
	if m.TakerLeverageCap < MaxLeverageX {
		return m.TakerLeverageCap
	}
	return MaxLeverageX
}

// AddOpenInterest increases the side's aggregate by size (FP base).
func (m *Market) AddOpenInterest(isLong bool, size int64) error {
	if size < 0 {
		return riskerr.Wrap(riskerr.SettlementError, "negative open interest delta %d", size)
	}
	var err error
	if isLong {
		m.TotalLongSize, err = fpmath.Add(m.TotalLongSize, size)
	} else {
		m.TotalShortSize, err = fpmath.Add(m.TotalShortSize, size)
	}
	return err
}

// RemoveOpenInterest decreases the side's aggregate; it never goes negative.
func (m *Market) RemoveOpenInterest(isLong bool, size int64) error {
	total := &m.TotalShortSize
	if isLong {
		total = &m.TotalLongSize
	}
	if size < 0 || size > *total {
		return riskerr.Wrap(riskerr.SettlementError, "open interest underflow: remove %d from %d", size, *total)
	}
	*total -= size
	return nil
}

// AddVolume accumulates quote volume (raw units).
func (m *Market) AddVolume(quote int64) error {
	v, err := fpmath.Add(m.TotalVolume, quote)
	if err != nil {
		return err
	}
	m.TotalVolume = v
	return nil
}

func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}
