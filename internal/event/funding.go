package event

import "github.com/google/uuid"

type FundingPaid struct {
	User            uuid.UUID `json:"user"`
	Market          string    `json:"market"`
	FundingAmountFP int64     `json:"funding_amount_fp"` // positive = paid
	FundingRateFP   int64     `json:"funding_rate_fp"`
}

func (e *FundingPaid) EventType() EventType { return EventTypeFundingPaid }
func (e *FundingPaid) Symbol() string       { return e.Market }

// FundingSettled summarizes one settle_funding call.
type FundingSettled struct {
	Market                   string `json:"market"`
	FundingRateFP            int64  `json:"funding_rate_fp"`
	MarkPriceFP              int64  `json:"mark_price_fp"`
	ElapsedSeconds           int64  `json:"elapsed_seconds"`
	CumulativeFundingLongFP  int64  `json:"cumulative_funding_long_fp"`
	CumulativeFundingShortFP int64  `json:"cumulative_funding_short_fp"`
	Positions                int    `json:"positions"`
	TotalPaidFP              int64  `json:"total_paid_fp"`
	TotalReceivedFP          int64  `json:"total_received_fp"`
	SkewRatio                int64  `json:"skew_ratio"`
}

func (e *FundingSettled) EventType() EventType { return EventTypeFundingSettled }
func (e *FundingSettled) Symbol() string       { return e.Market }
