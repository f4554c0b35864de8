package server

import (
	"github.com/google/uuid"

	"PerpRisk/internal/projection"
	"PerpRisk/internal/state"
)

// Empty is the request of parameterless methods.
type Empty struct{}

// Ack is returned by operations without a result record.
type Ack struct {
	OK       bool  `json:"ok"`
	Sequence int64 `json:"sequence"`
}

// --- admin ---

type SetFeeDestinationRequest struct {
	Admin       uuid.UUID `json:"admin"`
	Destination uuid.UUID `json:"destination"`
}

type PauseRequest struct {
	Admin  uuid.UUID `json:"admin"`
	Paused bool      `json:"paused"`
}

type UpdateRiskParametersRequest struct {
	Admin uuid.UUID `json:"admin"`
	state.RiskUpdate
}

type CreateMarketRequest struct {
	Admin uuid.UUID `json:"admin"`
	state.MarketParams
}

type EditMaxPositionRequest struct {
	Admin           uuid.UUID `json:"admin"`
	Symbol          string    `json:"symbol"`
	MaxPositionBase int64     `json:"max_position_base"`
}

type SetMarketPausedRequest struct {
	Admin  uuid.UUID `json:"admin"`
	Symbol string    `json:"symbol"`
	Paused bool      `json:"paused"`
}

type DepositWalletRequest struct {
	Admin  uuid.UUID `json:"admin"`
	Owner  uuid.UUID `json:"owner"`
	Amount int64     `json:"amount"`
}

type SeedVaultRequest struct {
	Admin  uuid.UUID `json:"admin"`
	Amount int64     `json:"amount"`
}

// --- positions ---

type PositionRequest struct {
	Owner  uuid.UUID `json:"owner"`
	Symbol string    `json:"symbol"`
}

type PartialCloseRequest struct {
	Owner      uuid.UUID `json:"owner"`
	Symbol     string    `json:"symbol"`
	Percentage int64     `json:"percentage"`
}

type ModifyMarginRequest struct {
	Owner  uuid.UUID `json:"owner"`
	Symbol string    `json:"symbol"`
	Delta  int64     `json:"delta"` // raw quote; negative withdraws
}

type SetStopLossRequest struct {
	Owner          uuid.UUID `json:"owner"`
	Symbol         string    `json:"symbol"`
	TriggerPriceFP int64     `json:"trigger_price_fp"`
	Percentage     int64     `json:"percentage"`
}

type ExecuteStopLossRequest struct {
	Executor uuid.UUID `json:"executor"`
	Owner    uuid.UUID `json:"owner"`
	Symbol   string    `json:"symbol"`
}

type LiquidateRequest struct {
	Liquidator uuid.UUID `json:"liquidator"`
	Owner      uuid.UUID `json:"owner"`
	Symbol     string    `json:"symbol"`

	// MaxPercentage bounds an enhanced liquidation; ignored by Liquidate.
	MaxPercentage int64 `json:"max_percentage,omitempty"`
}

// --- insurance ---

type DepositInsuranceRequest struct {
	Depositor uuid.UUID `json:"depositor"`
	Amount    int64     `json:"amount"`
}

type WithdrawInsuranceRequest struct {
	Admin     uuid.UUID `json:"admin"`
	Recipient uuid.UUID `json:"recipient"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
}

// --- reads ---

type SymbolRequest struct {
	Symbol string `json:"symbol"`
}

type FeedRequest struct {
	Feed string `json:"feed"`
}

type OwnerRequest struct {
	Owner uuid.UUID `json:"owner"`
}

// PriceResponse is a validated price with its decimal rendering.
type PriceResponse struct {
	Symbol  string `json:"symbol,omitempty"`
	Feed    string `json:"feed,omitempty"`
	PriceFP int64  `json:"price_fp"`
	Price   string `json:"price"`
}

type WalletResponse struct {
	Owner   uuid.UUID `json:"owner"`
	Balance int64     `json:"balance"`
}

// PositionResponse is a valued position with decimal renderings of the
// FP valuation fields.
type PositionResponse struct {
	Position      *state.UserPosition `json:"position"`
	Valuation     state.Valuation     `json:"valuation"`
	Price         string              `json:"price"`
	UnrealizedPnl string              `json:"unrealized_pnl"`
	Equity        string              `json:"equity"`
}

type PositionsResponse struct {
	Positions []*state.UserPosition `json:"positions"`
}

type MarketsResponse struct {
	Markets []*state.Market `json:"markets"`
}

// --- history ---

type HistoryRequest struct {
	Owner  uuid.UUID `json:"owner"`
	Symbol string    `json:"symbol,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}

type FundingHistoryResponse struct {
	Entries      []projection.FundingHistoryEntry `json:"entries"`
	AsOfSequence int64                            `json:"as_of_sequence"`
	NetPaidFP    int64                            `json:"net_paid_fp,omitempty"`
	NetPaid      string                           `json:"net_paid,omitempty"`
}

type LiquidationHistoryResponse struct {
	Entries      []projection.LiquidationEntry `json:"entries"`
	AsOfSequence int64                         `json:"as_of_sequence"`
}

type EventsRequest struct {
	Symbol string `json:"symbol,omitempty"`
	Type   string `json:"type,omitempty"`
	After  int64  `json:"after,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type JournalsRequest struct {
	Owner  uuid.UUID `json:"owner"`
	Before *int64    `json:"before,omitempty"`
	Limit  int       `json:"limit,omitempty"`
}
