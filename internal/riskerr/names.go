package riskerr

var names = map[Code]string{
	MathOverflow:                      "MathOverflow",
	DivisionByZero:                    "DivisionByZero",
	InvalidFixedPoint:                 "InvalidFixedPoint",
	LeverageTooHigh:                   "LeverageTooHigh",
	InsufficientMargin:                "InsufficientMargin",
	MaxPositionExceeded:               "MaxPositionExceeded",
	PositionNotFound:                  "PositionNotFound",
	PositionTooSmall:                  "PositionTooSmall",
	InsufficientMarginForModification: "InsufficientMarginForModification",
	PositionAtLiquidation:             "PositionAtLiquidation",
	PositionNotLiquidatable:           "PositionNotLiquidatable",
	InsufficientFunds:                 "InsufficientFunds",
	WouldBeLiquidated:                 "WouldBeLiquidated",
	InvalidClosePercentage:            "InvalidClosePercentage",
	BadOracle:                         "BadOracle",
	OracleFeedNotFound:                "OracleFeedNotFound",
	OraclePriceDeviation:              "OraclePriceDeviation",
	OracleConsensusFailure:            "OracleConsensusFailure",
	OracleConfidenceLow:               "OracleConfidenceLow",
	InvalidPrice:                      "InvalidPrice",
	MarketPaused:                      "MarketPaused",
	MarketNotFound:                    "MarketNotFound",
	InvalidMarketParameters:           "InvalidMarketParameters",
	InsufficientLiquidity:             "InsufficientLiquidity",
	MarketImpactTooHigh:               "MarketImpactTooHigh",
	Unauthorized:                      "Unauthorized",
	InvalidSigner:                     "InvalidSigner",
	InvalidAccountOwner:               "InvalidAccountOwner",
	InvalidDerivation:                 "InvalidDerivation",
	ExceedsPositionLimits:             "ExceedsPositionLimits",
	ExceedsRiskLimits:                 "ExceedsRiskLimits",
	CircuitBreakerTriggered:           "CircuitBreakerTriggered",
	EmergencyPauseActive:              "EmergencyPauseActive",
	ConcentrationLimitExceeded:        "ConcentrationLimitExceeded",
	InsufficientBalance:               "InsufficientBalance",
	InvalidTokenAccount:               "InvalidTokenAccount",
	TokenTransferFailed:               "TokenTransferFailed",
	InvalidTokenMint:                  "InvalidTokenMint",
	FundingRateError:                  "FundingRateError",
	SettlementError:                   "SettlementError",
	FundingPaymentFailed:              "FundingPaymentFailed",
	ProtocolPaused:                    "ProtocolPaused",
	InvalidProtocolConfig:             "InvalidProtocolConfig",
	InitializationFailed:              "InitializationFailed",
	AlreadyInitialized:                "AlreadyInitialized",
	OrderNotActive:                    "OrderNotActive",
	InvalidStopLoss:                   "InvalidStopLoss",
	StopLossNotTriggered:              "StopLossNotTriggered",
	UnauthorizedAccess:                "UnauthorizedAccess",
	InvalidParameters:                 "InvalidParameters",
	OrderAlreadyExecuted:              "OrderAlreadyExecuted",
}
