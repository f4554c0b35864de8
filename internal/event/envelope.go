package event

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypePositionOpened
	EventTypePositionClosed
	EventTypePartialPositionClosed
	EventTypePositionMarginModified
	EventTypeMarginAdded
	EventTypeMarginRemoved
	EventTypeStopLossSet
	EventTypeStopLossExecuted
	EventTypeLiquidationExecuted
	EventTypePartialLiquidation
	EventTypeLiquidatorRewardPaid
	EventTypeInsuranceFundContribution
	EventTypeInsuranceFundDeposit
	EventTypeInsuranceFundWithdrawal
	EventTypeFundingPaid
	EventTypeFundingSettled
	EventTypeOracleUpdated
	EventTypeCircuitBreakerTriggered
	EventTypeEmergencyPause
	EventTypeMarketCreated
	EventTypeMarketUpdated
	EventTypeConfigUpdated
	EventTypeWalletDeposited
	EventTypeVaultSeeded
)

var typeNames = map[EventType]string{
	EventTypePositionOpened:            "PositionOpened",
	EventTypePositionClosed:            "PositionClosed",
	EventTypePartialPositionClosed:     "PartialPositionClosed",
	EventTypePositionMarginModified:    "PositionMarginModified",
	EventTypeMarginAdded:               "MarginAdded",
	EventTypeMarginRemoved:             "MarginRemoved",
	EventTypeStopLossSet:               "StopLossSet",
	EventTypeStopLossExecuted:          "StopLossExecuted",
	EventTypeLiquidationExecuted:       "LiquidationExecuted",
	EventTypePartialLiquidation:        "PartialLiquidation",
	EventTypeLiquidatorRewardPaid:      "LiquidatorRewardPaid",
	EventTypeInsuranceFundContribution: "InsuranceFundContribution",
	EventTypeInsuranceFundDeposit:      "InsuranceFundDeposit",
	EventTypeInsuranceFundWithdrawal:   "InsuranceFundWithdrawal",
	EventTypeFundingPaid:               "FundingPaid",
	EventTypeFundingSettled:            "FundingSettled",
	EventTypeOracleUpdated:             "OracleUpdated",
	EventTypeCircuitBreakerTriggered:   "CircuitBreakerTriggered",
	EventTypeEmergencyPause:            "EmergencyPause",
	EventTypeMarketCreated:             "MarketCreated",
	EventTypeMarketUpdated:             "MarketUpdated",
	EventTypeConfigUpdated:             "ConfigUpdated",
	EventTypeWalletDeposited:           "WalletDeposited",
	EventTypeVaultSeeded:               "VaultSeeded",
}

func (et EventType) String() string {
	if n, ok := typeNames[et]; ok {
		return n
	}
	return "Unknown"
}

// ParseEventType is the inverse of String.
func ParseEventType(s string) (EventType, bool) {
	for t, n := range typeNames {
		if n == s {
			return t, true
		}
	}
	return EventTypeUnknown, false
}

func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

func (et *EventType) UnmarshalText(b []byte) error {
	t, ok := ParseEventType(string(b))
	if !ok {
		return fmt.Errorf("unknown event type %q", string(b))
	}
	*et = t
	return nil
}

// Event is the interface all event payloads implement
type Event interface {
	EventType() EventType
	// Symbol returns the market context ("" for protocol-wide events)
	Symbol() string
}

// Hash is a SHA-256 digest, hex encoded in JSON.
type Hash [32]byte

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h[:])), nil
}

func (h *Hash) UnmarshalText(b []byte) error {
	raw, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(raw) != len(h) {
		return fmt.Errorf("hash length %d", len(raw))
	}
	copy(h[:], raw)
	return nil
}

// Envelope wraps every emitted event
type Envelope struct {
	// Cluster-unique id (snowflake)
	ID int64 `json:"id"`

	// Global monotonic sequence assigned by core
	Sequence int64 `json:"sequence"`

	Type EventType `json:"type"`

	// Market context (empty for global events)
	Symbol string `json:"symbol,omitempty"`

	// Engine clock, unix seconds
	Timestamp int64 `json:"timestamp"`

	// JSON-encoded event-specific data
	Payload json.RawMessage `json:"payload"`

	// Hash chained over all events so far
	StateHash Hash `json:"state_hash"`

	// Previous event's state hash (chain integrity)
	PrevHash Hash `json:"prev_hash"`
}

// NewEnvelope encodes the payload. Hashes are filled in by the sequencer.
func NewEnvelope(id, sequence, timestamp int64, evt Event) (*Envelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", evt.EventType(), err)
	}
	return &Envelope{
		ID:        id,
		Sequence:  sequence,
		Type:      evt.EventType(),
		Symbol:    evt.Symbol(),
		Timestamp: timestamp,
		Payload:   payload,
	}, nil
}

// Digest is the byte string hashed into the chain for this envelope.
func (e *Envelope) Digest() []byte {
	buf := make([]byte, 0, len(e.Payload)+len(e.Symbol)+16)
	buf = append(buf, e.Type.String()...)
	buf = append(buf, 0)
	buf = append(buf, e.Symbol...)
	buf = append(buf, 0)
	buf = append(buf, e.Payload...)
	return buf
}
