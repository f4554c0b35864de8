package event

import "github.com/google/uuid"

type OracleUpdated struct {
	Feed         string `json:"feed"`
	OldPriceFP   int64  `json:"old_price_fp"`
	NewPriceFP   int64  `json:"new_price_fp"`
	ConfidenceFP int64  `json:"confidence_fp"`
	ChangeBps    int64  `json:"change_bps"`
}

func (e *OracleUpdated) EventType() EventType { return EventTypeOracleUpdated }
func (e *OracleUpdated) Symbol() string       { return e.Feed }

type CircuitBreakerTriggered struct {
	Market         string `json:"market"`
	PriceChangeBps int64  `json:"price_change_bps"`
	OldPriceFP     int64  `json:"old_price_fp"`
	NewPriceFP     int64  `json:"new_price_fp"`
}

func (e *CircuitBreakerTriggered) EventType() EventType { return EventTypeCircuitBreakerTriggered }
func (e *CircuitBreakerTriggered) Symbol() string       { return e.Market }

// EmergencyPause is emitted when a market or the whole protocol is halted
// automatically. Market empty means protocol-wide.
type EmergencyPause struct {
	Market      string    `json:"market,omitempty"`
	Reason      string    `json:"reason"`
	Timestamp   int64     `json:"timestamp"`
	TriggeredBy uuid.UUID `json:"triggered_by"`
}

func (e *EmergencyPause) EventType() EventType { return EventTypeEmergencyPause }
func (e *EmergencyPause) Symbol() string       { return e.Market }
