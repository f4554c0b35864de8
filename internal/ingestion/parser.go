package ingestion

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"PerpRisk/internal/core"
	fpmath "PerpRisk/internal/math"
)

// PriceSubjectPrefix is the subject root of the price feed: perp.prices.{symbol}.
const PriceSubjectPrefix = "perp.prices."

// PriceMessage is one publisher observation as received from the feed.
type PriceMessage struct {
	// ID is the producer's message id. When empty the dedup key is derived
	// from feed, publisher and sequence.
	ID            string
	Symbol        string
	Feed          string
	Publisher     uuid.UUID
	PriceFP       int64
	ConfidenceFP  int64
	NumPublishers int64
	// Sequence is the publisher's per-feed counter; 0 means unsequenced.
	Sequence    int64
	PublishTime int64
	External    []byte
}

// --- JSON wire format ---
// Prices are decimal strings so producers never deal with the FP scale.

type priceJSON struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol"`
	Feed          string `json:"feed"`
	Publisher     string `json:"publisher"`
	Price         string `json:"price"`
	Confidence    string `json:"confidence"`
	NumPublishers int64  `json:"num_publishers"`
	Sequence      int64  `json:"sequence"`
	PublishTime   int64  `json:"publish_time"`
	External      string `json:"external"` // base64 raw aggregator record
}

// SymbolFromSubject extracts the market symbol of a price subject.
func SymbolFromSubject(subject string) (string, error) {
	if !strings.HasPrefix(subject, PriceSubjectPrefix) {
		return "", fmt.Errorf("subject %q is not a price subject", subject)
	}
	symbol := strings.TrimPrefix(subject, PriceSubjectPrefix)
	if symbol == "" || strings.Contains(symbol, ".") {
		return "", fmt.Errorf("subject %q has no single-token symbol", subject)
	}
	return symbol, nil
}

// ParsePriceMessage decodes and validates a price message. subjectSymbol,
// when non-empty, must agree with the message's own symbol field.
func ParsePriceMessage(data []byte, subjectSymbol string) (*PriceMessage, error) {
	var j priceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse price message: %w", err)
	}

	symbol := j.Symbol
	switch {
	case symbol == "":
		symbol = subjectSymbol
	case subjectSymbol != "" && symbol != subjectSymbol:
		return nil, fmt.Errorf("symbol %q does not match subject symbol %q", symbol, subjectSymbol)
	}
	if j.Feed == "" {
		return nil, fmt.Errorf("price message for %q has no feed", symbol)
	}
	if j.Sequence < 0 {
		return nil, fmt.Errorf("negative sequence %d", j.Sequence)
	}

	publisher, err := uuid.Parse(j.Publisher)
	if err != nil {
		return nil, fmt.Errorf("parse publisher: %w", err)
	}

	msg := &PriceMessage{
		ID:            j.ID,
		Symbol:        symbol,
		Feed:          j.Feed,
		Publisher:     publisher,
		NumPublishers: j.NumPublishers,
		Sequence:      j.Sequence,
		PublishTime:   j.PublishTime,
	}

	if j.External != "" {
		raw, err := base64.StdEncoding.DecodeString(j.External)
		if err != nil {
			return nil, fmt.Errorf("decode external record: %w", err)
		}
		msg.External = raw
		return msg, nil
	}

	if j.Price == "" {
		return nil, fmt.Errorf("price message for %q has neither price nor external record", j.Feed)
	}
	if msg.PriceFP, err = fpmath.ParseFP(j.Price); err != nil {
		return nil, fmt.Errorf("parse price: %w", err)
	}
	if j.Confidence != "" {
		if msg.ConfidenceFP, err = fpmath.ParseFP(j.Confidence); err != nil {
			return nil, fmt.Errorf("parse confidence: %w", err)
		}
	}
	return msg, nil
}

// DedupKey identifies the message for duplicate suppression.
func (m *PriceMessage) DedupKey() string {
	if m.ID != "" {
		return m.ID
	}
	return fmt.Sprintf("%s:%s:%d:%d", m.Feed, m.Publisher, m.Sequence, m.PublishTime)
}

// Update converts the message into an engine price update.
func (m *PriceMessage) Update() core.PriceUpdate {
	return core.PriceUpdate{
		Publisher:     m.Publisher,
		Feed:          m.Feed,
		PriceFP:       m.PriceFP,
		ConfidenceFP:  m.ConfidenceFP,
		NumPublishers: m.NumPublishers,
		External:      m.External,
	}
}
