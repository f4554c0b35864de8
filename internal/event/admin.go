package event

import "github.com/google/uuid"

type MarketCreated struct {
	Market               string `json:"market"`
	PrimaryFeed          string `json:"primary_feed"`
	SecondaryFeed        string `json:"secondary_feed,omitempty"`
	MaxLeverage          int64  `json:"max_leverage"`
	MaintenanceMarginBps int64  `json:"maintenance_margin_bps"`
	MaxPositionBase      int64  `json:"max_position_base"`
}

func (e *MarketCreated) EventType() EventType { return EventTypeMarketCreated }
func (e *MarketCreated) Symbol() string       { return e.Market }

type MarketUpdated struct {
	Market          string `json:"market"`
	MaxPositionBase int64  `json:"max_position_base"`
	IsPaused        bool   `json:"is_paused"`
}

func (e *MarketUpdated) EventType() EventType { return EventTypeMarketUpdated }
func (e *MarketUpdated) Symbol() string       { return e.Market }

// ConfigUpdated is emitted by every admin mutation of the protocol config.
type ConfigUpdated struct {
	Admin  uuid.UUID `json:"admin"`
	Change string    `json:"change"` // initialize, fee_destination, pause, risk_parameters
	Paused bool      `json:"paused"`

	FeeDestination             uuid.UUID `json:"fee_destination"`
	MaxPositionsPerUser        int64     `json:"max_positions_per_user"`
	MaxTotalPositions          int64     `json:"max_total_positions"`
	EmergencyPauseThreshold    int64     `json:"emergency_pause_threshold"`
	CircuitBreakerThresholdBps int64     `json:"circuit_breaker_threshold_bps"`
}

func (e *ConfigUpdated) EventType() EventType { return EventTypeConfigUpdated }
func (e *ConfigUpdated) Symbol() string       { return "" }
