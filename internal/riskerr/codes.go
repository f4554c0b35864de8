// Package riskerr defines the coded error taxonomy returned by every risk
// engine operation. Codes are stable and exposed to API clients.
package riskerr

import (
	"errors"
	"fmt"
)

// Code is a numeric error code. It implements error so it can be wrapped
// with context via fmt.Errorf("...: %w", code) and matched with errors.Is.
type Code uint32

const (
	// Math
	MathOverflow      Code = 6000
	DivisionByZero    Code = 6001
	InvalidFixedPoint Code = 6002

	// Position
	LeverageTooHigh                   Code = 6020
	InsufficientMargin                Code = 6021
	MaxPositionExceeded               Code = 6022
	PositionNotFound                  Code = 6023
	PositionTooSmall                  Code = 6024
	InsufficientMarginForModification Code = 6025
	PositionAtLiquidation             Code = 6026
	PositionNotLiquidatable           Code = 6027
	InsufficientFunds                 Code = 6028
	WouldBeLiquidated                 Code = 6029
	InvalidClosePercentage            Code = 6030

	// Oracle
	BadOracle              Code = 6040
	OracleFeedNotFound     Code = 6041
	OraclePriceDeviation   Code = 6042
	OracleConsensusFailure Code = 6043
	OracleConfidenceLow    Code = 6044
	InvalidPrice           Code = 6045

	// Market
	MarketPaused            Code = 6060
	MarketNotFound          Code = 6061
	InvalidMarketParameters Code = 6062
	InsufficientLiquidity   Code = 6063
	MarketImpactTooHigh     Code = 6064

	// Access
	Unauthorized        Code = 6080
	InvalidSigner       Code = 6081
	InvalidAccountOwner Code = 6082
	InvalidDerivation   Code = 6083

	// Risk
	ExceedsPositionLimits      Code = 6100
	ExceedsRiskLimits          Code = 6101
	CircuitBreakerTriggered    Code = 6102
	EmergencyPauseActive       Code = 6103
	ConcentrationLimitExceeded Code = 6104

	// Token
	InsufficientBalance Code = 6120
	InvalidTokenAccount Code = 6121
	TokenTransferFailed Code = 6122
	InvalidTokenMint    Code = 6123

	// Funding / settlement
	FundingRateError     Code = 6140
	SettlementError      Code = 6141
	FundingPaymentFailed Code = 6142

	// Protocol state
	ProtocolPaused        Code = 6160
	InvalidProtocolConfig Code = 6161
	InitializationFailed  Code = 6162
	AlreadyInitialized    Code = 6163

	// Orders
	OrderNotActive       Code = 6180
	InvalidStopLoss      Code = 6181
	StopLossNotTriggered Code = 6182
	UnauthorizedAccess   Code = 6183
	InvalidParameters    Code = 6184
	OrderAlreadyExecuted Code = 6186
)

var messages = map[Code]string{
	MathOverflow:      "math overflow",
	DivisionByZero:    "division by zero",
	InvalidFixedPoint: "invalid fixed point conversion",

	LeverageTooHigh:                   "leverage too high for this market",
	InsufficientMargin:                "insufficient margin for this position",
	MaxPositionExceeded:               "position would exceed per-market max size",
	PositionNotFound:                  "position not found or already closed",
	PositionTooSmall:                  "position size too small",
	InsufficientMarginForModification: "insufficient margin for modification",
	PositionAtLiquidation:             "position already at liquidation threshold",
	PositionNotLiquidatable:           "position is not liquidatable at current price",
	InsufficientFunds:                 "insufficient funds for operation",
	WouldBeLiquidated:                 "position would be liquidated after this action",
	InvalidClosePercentage:            "invalid close percentage",

	BadOracle:              "oracle price is stale or invalid",
	OracleFeedNotFound:     "oracle price feed not found",
	OraclePriceDeviation:   "oracle price deviation too large",
	OracleConsensusFailure: "oracle sources disagree",
	OracleConfidenceLow:    "oracle confidence too low",
	InvalidPrice:           "invalid price",

	MarketPaused:            "market is paused",
	MarketNotFound:          "market not found",
	InvalidMarketParameters: "invalid market parameters",
	InsufficientLiquidity:   "market liquidity insufficient",
	MarketImpactTooHigh:     "market impact too high",

	Unauthorized:        "unauthorized: admin only",
	InvalidSigner:       "invalid signer",
	InvalidAccountOwner: "account owner mismatch",
	InvalidDerivation:   "record key derivation mismatch",

	ExceedsPositionLimits:      "position limits exceeded",
	ExceedsRiskLimits:          "protocol risk limits exceeded",
	CircuitBreakerTriggered:    "circuit breaker triggered",
	EmergencyPauseActive:       "emergency pause active",
	ConcentrationLimitExceeded: "concentration limit exceeded",

	InsufficientBalance: "insufficient balance",
	InvalidTokenAccount: "invalid token account",
	TokenTransferFailed: "token transfer failed",
	InvalidTokenMint:    "invalid token asset",

	FundingRateError:     "funding rate calculation failed",
	SettlementError:      "settlement calculation failed",
	FundingPaymentFailed: "funding payment failed",

	ProtocolPaused:        "protocol is paused",
	InvalidProtocolConfig: "invalid protocol configuration",
	InitializationFailed:  "protocol initialization failed",
	AlreadyInitialized:    "already initialized",

	OrderNotActive:       "order is not active",
	InvalidStopLoss:      "invalid stop loss configuration",
	StopLossNotTriggered: "stop loss conditions not met",
	UnauthorizedAccess:   "unauthorized access",
	InvalidParameters:    "invalid parameters",
	OrderAlreadyExecuted: "order already executed",
}

func (c Code) Error() string {
	if msg, ok := messages[c]; ok {
		return msg
	}
	return fmt.Sprintf("error code %d", uint32(c))
}

// Name returns the symbolic name used in logs and metric labels.
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "Unknown"
}

// Category groups codes by their hundred-range block.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryMath
	CategoryPosition
	CategoryOracle
	CategoryMarket
	CategoryAccess
	CategoryRisk
	CategoryToken
	CategoryFunding
	CategoryProtocol
	CategoryOrder
)

func (c Category) String() string {
	switch c {
	case CategoryMath:
		return "math"
	case CategoryPosition:
		return "position"
	case CategoryOracle:
		return "oracle"
	case CategoryMarket:
		return "market"
	case CategoryAccess:
		return "access"
	case CategoryRisk:
		return "risk"
	case CategoryToken:
		return "token"
	case CategoryFunding:
		return "funding"
	case CategoryProtocol:
		return "protocol"
	case CategoryOrder:
		return "order"
	default:
		return "unknown"
	}
}

func (c Code) Category() Category {
	switch {
	case c >= 6000 && c < 6020:
		return CategoryMath
	case c >= 6020 && c < 6040:
		return CategoryPosition
	case c >= 6040 && c < 6060:
		return CategoryOracle
	case c >= 6060 && c < 6080:
		return CategoryMarket
	case c >= 6080 && c < 6100:
		return CategoryAccess
	case c >= 6100 && c < 6120:
		return CategoryRisk
	case c >= 6120 && c < 6140:
		return CategoryToken
	case c >= 6140 && c < 6160:
		return CategoryFunding
	case c >= 6160 && c < 6180:
		return CategoryProtocol
	case c >= 6180 && c < 6200:
		return CategoryOrder
	default:
		return CategoryUnknown
	}
}

// IsRecoverable reports whether the caller may retry later without
// operator intervention.
func (c Code) IsRecoverable() bool {
	switch c {
	case BadOracle, InsufficientLiquidity, MarketImpactTooHigh, OracleConfidenceLow:
		return true
	}
	return false
}

// RequiresEmergencyPause reports whether the failure must trip an
// operator or automatic pause rather than be retried.
func (c Code) RequiresEmergencyPause() bool {
	switch c {
	case OracleConsensusFailure, CircuitBreakerTriggered, ExceedsRiskLimits:
		return true
	}
	return false
}

// CodeOf extracts the first Code in err's chain.
func CodeOf(err error) (Code, bool) {
	var c Code
	if errors.As(err, &c) {
		return c, true
	}
	return 0, false
}

// IsRecoverable is the error-chain form of Code.IsRecoverable.
func IsRecoverable(err error) bool {
	c, ok := CodeOf(err)
	return ok && c.IsRecoverable()
}

// RequiresEmergencyPause is the error-chain form of Code.RequiresEmergencyPause.
func RequiresEmergencyPause(err error) bool {
	c, ok := CodeOf(err)
	return ok && c.RequiresEmergencyPause()
}

// Wrap attaches formatted context to a code.
func Wrap(c Code, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), c)
}
