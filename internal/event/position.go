package event

import "github.com/google/uuid"

type PositionOpened struct {
	Owner              uuid.UUID `json:"owner"`
	Market             string    `json:"market"`
	IsLong             bool      `json:"is_long"`
	BaseSize           int64     `json:"base_size"`
	EntryPriceFP       int64     `json:"entry_price_fp"`
	Leverage           int64     `json:"leverage"`
	MarginDeposited    int64     `json:"margin_deposited"`
	LiquidationPriceFP int64     `json:"liquidation_price_fp"`
}

func (e *PositionOpened) EventType() EventType { return EventTypePositionOpened }
func (e *PositionOpened) Symbol() string       { return e.Market }

type PositionClosed struct {
	Owner            uuid.UUID `json:"owner"`
	Market           string    `json:"market"`
	ExitPriceFP      int64     `json:"exit_price_fp"`
	PnlFP            int64     `json:"pnl_fp"`
	FundingFP        int64     `json:"funding_fp"`
	FeesFP           int64     `json:"fees_fp"`
	SettlementAmount int64     `json:"settlement_amount"`
}

func (e *PositionClosed) EventType() EventType { return EventTypePositionClosed }
func (e *PositionClosed) Symbol() string       { return e.Market }

type PartialPositionClosed struct {
	Owner            uuid.UUID `json:"owner"`
	Market           string    `json:"market"`
	ClosePercentage  int64     `json:"close_percentage"`
	ClosedSize       int64     `json:"closed_size"`
	RemainingSize    int64     `json:"remaining_size"`
	ExitPriceFP      int64     `json:"exit_price_fp"`
	PnlFP            int64     `json:"pnl_fp"`
	MarginReleased   int64     `json:"margin_released"`
	SettlementAmount int64     `json:"settlement_amount"`
	FeesPaid         int64     `json:"fees_paid"`
}

func (e *PartialPositionClosed) EventType() EventType { return EventTypePartialPositionClosed }
func (e *PartialPositionClosed) Symbol() string       { return e.Market }

type PositionMarginModified struct {
	Owner                 uuid.UUID `json:"owner"`
	Market                string    `json:"market"`
	MarginChange          int64     `json:"margin_change"`
	NewMargin             int64     `json:"new_margin"`
	NewLiquidationPriceFP int64     `json:"new_liquidation_price_fp"`
}

func (e *PositionMarginModified) EventType() EventType { return EventTypePositionMarginModified }
func (e *PositionMarginModified) Symbol() string       { return e.Market }

type MarginAdded struct {
	Owner         uuid.UUID `json:"owner"`
	Market        string    `json:"market"`
	Amount        int64     `json:"amount"`
	NewCollateral int64     `json:"new_collateral"`
}

func (e *MarginAdded) EventType() EventType { return EventTypeMarginAdded }
func (e *MarginAdded) Symbol() string       { return e.Market }

type MarginRemoved struct {
	Owner         uuid.UUID `json:"owner"`
	Market        string    `json:"market"`
	Amount        int64     `json:"amount"`
	NewCollateral int64     `json:"new_collateral"`
}

func (e *MarginRemoved) EventType() EventType { return EventTypeMarginRemoved }
func (e *MarginRemoved) Symbol() string       { return e.Market }

type StopLossSet struct {
	Owner           uuid.UUID `json:"owner"`
	Market          string    `json:"market"`
	TriggerPriceFP  int64     `json:"trigger_price_fp"`
	ClosePercentage int64     `json:"close_percentage"`
	IsLong          bool      `json:"is_long"`
}

func (e *StopLossSet) EventType() EventType { return EventTypeStopLossSet }
func (e *StopLossSet) Symbol() string       { return e.Market }

type StopLossExecuted struct {
	Owner           uuid.UUID `json:"owner"`
	Market          string    `json:"market"`
	TriggerPriceFP  int64     `json:"trigger_price_fp"`
	ExecutionPrice  int64     `json:"execution_price_fp"`
	ClosePercentage int64     `json:"close_percentage"`
	Executor        uuid.UUID `json:"executor"`
}

func (e *StopLossExecuted) EventType() EventType { return EventTypeStopLossExecuted }
func (e *StopLossExecuted) Symbol() string       { return e.Market }

// WalletDeposited records value entering a wallet from outside the venue.
type WalletDeposited struct {
	Owner  uuid.UUID `json:"owner"`
	Amount int64     `json:"amount"`
}

func (e *WalletDeposited) EventType() EventType { return EventTypeWalletDeposited }
func (e *WalletDeposited) Symbol() string       { return "" }

// VaultSeeded records liquidity added to the custody vault.
type VaultSeeded struct {
	Admin  uuid.UUID `json:"admin"`
	Amount int64     `json:"amount"`
}

func (e *VaultSeeded) EventType() EventType { return EventTypeVaultSeeded }
func (e *VaultSeeded) Symbol() string       { return "" }
