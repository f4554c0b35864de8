package event

import "github.com/google/uuid"

type LiquidationExecuted struct {
	Liquidator                uuid.UUID `json:"liquidator"`
	LiquidatedUser            uuid.UUID `json:"liquidated_user"`
	Market                    string    `json:"market"`
	Percentage                int64     `json:"percentage"`
	LiquidationSize           int64     `json:"liquidation_size"`
	LiquidationPriceFP        int64     `json:"liquidation_price_fp"`
	LiquidatorReward          int64     `json:"liquidator_reward"`
	ProtocolFee               int64     `json:"protocol_fee"`
	TraderSettlement          int64     `json:"trader_settlement"`
	InsuranceFundContribution int64     `json:"insurance_fund_contribution"`
}

func (e *LiquidationExecuted) EventType() EventType { return EventTypeLiquidationExecuted }
func (e *LiquidationExecuted) Symbol() string       { return e.Market }

type PartialLiquidation struct {
	User                      uuid.UUID `json:"user"`
	Market                    string    `json:"market"`
	Liquidator                uuid.UUID `json:"liquidator"`
	LiquidatedSize            int64     `json:"liquidated_size"`
	RemainingSize             int64     `json:"remaining_size"`
	LiquidationPriceFP        int64     `json:"liquidation_price_fp"`
	LiquidatorReward          int64     `json:"liquidator_reward"`
	InsuranceFundContribution int64     `json:"insurance_fund_contribution"`
}

func (e *PartialLiquidation) EventType() EventType { return EventTypePartialLiquidation }
func (e *PartialLiquidation) Symbol() string       { return e.Market }

type LiquidatorRewardPaid struct {
	Liquidator       uuid.UUID `json:"liquidator"`
	Market           string    `json:"market"`
	RewardAmount     int64     `json:"reward_amount"`
	RewardPercentage int64     `json:"reward_percentage"` // share of the liquidation fee
}

func (e *LiquidatorRewardPaid) EventType() EventType { return EventTypeLiquidatorRewardPaid }
func (e *LiquidatorRewardPaid) Symbol() string       { return e.Market }
