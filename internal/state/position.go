// internal/state/position.go
package state

import (
	"github.com/google/uuid"
)

// PositionState is the lifecycle state of a (owner, market) position slot.
type PositionState int32

const (
	PositionStateEmpty PositionState = iota
	PositionStateOpen
)

func (s PositionState) String() string {
	switch s {
	case PositionStateEmpty:
		return "Empty"
	case PositionStateOpen:
		return "Open"
	default:
		return "Unknown"
	}
}

// CanTransitionTo validates state transitions
func (s PositionState) CanTransitionTo(next PositionState) bool {
	validTransitions := map[PositionState][]PositionState{
		PositionStateEmpty: {
			PositionStateOpen, // open
		},
		PositionStateOpen: {
			PositionStateOpen,  // partial close, margin change, partial liquidation
			PositionStateEmpty, // full close, full liquidation
		},
	}

	for _, allowed := range validTransitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// UserPosition is the single position slot of an owner in a market. A record
// with BaseSize == 0 is logically closed and may be reopened.
type UserPosition struct {
	Owner  uuid.UUID `json:"owner"`
	Symbol string    `json:"symbol"`

	IsLong             bool  `json:"is_long"`
	BaseSize           int64 `json:"base_size"` // signed FP base units
	EntryPriceFP       int64 `json:"entry_price_fp"`
	MarginDeposited    int64 `json:"margin_deposited"` // raw units
	LiquidationPriceFP int64 `json:"liquidation_price_fp"`

	FundingDebtFP       int64 `json:"funding_debt_fp"`
	LastFundingSettled  int64 `json:"last_funding_settled"`
	FundingCheckpointFP int64 `json:"funding_checkpoint_fp"`

	RealizedPnlFP int64 `json:"realized_pnl_fp"`
	TotalFeesPaid int64 `json:"total_fees_paid"` // raw units
	LastUpdatedTs int64 `json:"last_updated_ts"`
}

// NewUserPosition returns an empty slot for (owner, symbol).
func NewUserPosition(owner uuid.UUID, symbol string) *UserPosition {
	return &UserPosition{Owner: owner, Symbol: symbol}
}

func (p *UserPosition) Key() PositionKey {
	return PositionKey{Owner: p.Owner, Symbol: p.Symbol}
}

// State derives the lifecycle state from the size.
func (p *UserPosition) State() PositionState {
	if p.BaseSize == 0 {
		return PositionStateEmpty
	}
	return PositionStateOpen
}

// IsEmpty returns true if position has no exposure
func (p *UserPosition) IsEmpty() bool {
	return p.BaseSize == 0
}

// Direction returns +1 for long, -1 for short
func (p *UserPosition) Direction() int64 {
	if p.IsLong {
		return 1
	}
	return -1
}

// AbsSize returns |BaseSize|.
func (p *UserPosition) AbsSize() int64 {
	if p.BaseSize < 0 {
		return -p.BaseSize
	}
	return p.BaseSize
}

// SignConsistent reports whether sign(BaseSize) matches IsLong.
func (p *UserPosition) SignConsistent() bool {
	if p.BaseSize == 0 {
		return true
	}
	return (p.BaseSize > 0) == p.IsLong
}

// SignedSize applies the direction to an absolute size.
func SignedSize(isLong bool, abs int64) int64 {
	if isLong {
		return abs
	}
	return -abs
}

// Reset zeroes the exposure and per-position counters. Realized PnL and fees
// are kept until the next open resets them.
func (p *UserPosition) Reset() {
	p.BaseSize = 0
	p.EntryPriceFP = 0
	p.MarginDeposited = 0
	p.LiquidationPriceFP = 0
	p.FundingDebtFP = 0
	p.FundingCheckpointFP = 0
}

func (p *UserPosition) Clone() *UserPosition {
	cp := *p
	return &cp
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *UserPosition) CanonicalBytes() []byte {
	buf := make([]byte, 0, 128)

	// owner (16 bytes UUID binary)
	buf = append(buf, p.Owner[:]...)

	// symbol (length-prefixed)
	buf = append(buf, byte(len(p.Symbol)))
	buf = append(buf, []byte(p.Symbol)...)

	if p.IsLong {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}

	buf = appendInt64LE(buf, p.BaseSize)
	buf = appendInt64LE(buf, p.EntryPriceFP)
	buf = appendInt64LE(buf, p.MarginDeposited)
	buf = appendInt64LE(buf, p.FundingDebtFP)
	buf = appendInt64LE(buf, p.FundingCheckpointFP)
	buf = appendInt64LE(buf, p.RealizedPnlFP)
	buf = appendInt64LE(buf, p.TotalFeesPaid)

	return buf
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// PositionKey uniquely identifies a position slot
type PositionKey struct {
	Owner  uuid.UUID
	Symbol string
}

func (k PositionKey) String() string {
	return k.Owner.String() + ":" + k.Symbol
}
