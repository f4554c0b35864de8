package ingestion_test

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"PerpRisk/internal/ingestion"
	"PerpRisk/internal/riskerr"
)

const (
	testPublisher = "660e8400-e29b-41d4-a716-446655440001"
	testSubject   = "perp.prices.BTC-PERP"
)

func priceJSON(t *testing.T, v map[string]interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

// ============================================================================
// Test: subjects
// ============================================================================

func TestSymbolFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
		wantErr bool
	}{
		{"perp.prices.BTC-PERP", "BTC-PERP", false},
		{"perp.prices.ETH-PERP", "ETH-PERP", false},
		{"perp.prices.", "", true},
		{"perp.prices.BTC.PERP", "", true},
		{"perp.trades.BTC-PERP", "", true},
	}
	for _, tt := range tests {
		got, err := ingestion.SymbolFromSubject(tt.subject)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err=%v, wantErr=%v", tt.subject, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.subject, got, tt.want)
		}
	}
}

// ============================================================================
// Test: price messages
// ============================================================================

func TestParsePriceMessage(t *testing.T) {
	data := priceJSON(t, map[string]interface{}{
		"id":             "msg-1",
		"feed":           "BTC/USD",
		"publisher":      testPublisher,
		"price":          "64250.125",
		"confidence":     "1.5",
		"num_publishers": 7,
		"sequence":       42,
		"publish_time":   1_700_000_000,
	})

	msg, err := ingestion.ParsePriceMessage(data, "BTC-PERP")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if msg.Symbol != "BTC-PERP" {
		t.Errorf("symbol: got %s, want BTC-PERP from the subject", msg.Symbol)
	}
	if msg.PriceFP != 64_250_125_000 {
		t.Errorf("price: got %d, want 64_250_125_000", msg.PriceFP)
	}
	if msg.ConfidenceFP != 1_500_000 {
		t.Errorf("confidence: got %d, want 1_500_000", msg.ConfidenceFP)
	}
	if msg.Sequence != 42 || msg.NumPublishers != 7 {
		t.Errorf("sequence %d publishers %d", msg.Sequence, msg.NumPublishers)
	}
	if msg.DedupKey() != "msg-1" {
		t.Errorf("dedup key: got %s, want the message id", msg.DedupKey())
	}

	u := msg.Update()
	if u.Feed != "BTC/USD" || u.PriceFP != msg.PriceFP || u.Publisher.String() != testPublisher {
		t.Errorf("update: %+v", u)
	}
	if u.External != nil {
		t.Error("a plain price must not carry an external record")
	}
}

func TestParsePriceMessage_DerivedDedupKey(t *testing.T) {
	base := map[string]interface{}{
		"feed": "BTC/USD", "publisher": testPublisher, "price": "100", "sequence": 3, "publish_time": 10,
	}
	a, err := ingestion.ParsePriceMessage(priceJSON(t, base), "BTC-PERP")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	base["sequence"] = 4
	b, err := ingestion.ParsePriceMessage(priceJSON(t, base), "BTC-PERP")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if a.DedupKey() == b.DedupKey() {
		t.Error("different sequences must produce different keys")
	}
}

func TestParsePriceMessage_External(t *testing.T) {
	raw := []byte{1, 2, 3, 4}
	data := priceJSON(t, map[string]interface{}{
		"feed":      "BTC/EXT",
		"publisher": testPublisher,
		"external":  base64.StdEncoding.EncodeToString(raw),
	})
	msg, err := ingestion.ParsePriceMessage(data, "BTC-PERP")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if string(msg.External) != string(raw) {
		t.Errorf("external: got %v, want %v", msg.External, raw)
	}
	if msg.PriceFP != 0 {
		t.Errorf("external records carry their own price, got %d", msg.PriceFP)
	}
}

func TestParsePriceMessage_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
		subject string
	}{
		{"no feed", map[string]interface{}{"publisher": testPublisher, "price": "1"}, "BTC-PERP"},
		{"bad publisher", map[string]interface{}{"feed": "BTC/USD", "publisher": "nope", "price": "1"}, "BTC-PERP"},
		{"no price", map[string]interface{}{"feed": "BTC/USD", "publisher": testPublisher}, "BTC-PERP"},
		{"symbol mismatch", map[string]interface{}{"symbol": "ETH-PERP", "feed": "BTC/USD", "publisher": testPublisher, "price": "1"}, "BTC-PERP"},
		{"negative sequence", map[string]interface{}{"feed": "BTC/USD", "publisher": testPublisher, "price": "1", "sequence": -1}, "BTC-PERP"},
		{"bad base64", map[string]interface{}{"feed": "BTC/USD", "publisher": testPublisher, "external": "%%%"}, "BTC-PERP"},
		{"bad confidence", map[string]interface{}{"feed": "BTC/USD", "publisher": testPublisher, "price": "1", "confidence": "x"}, "BTC-PERP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ingestion.ParsePriceMessage(priceJSON(t, tt.payload), tt.subject); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParsePriceMessage_TooManyDecimals(t *testing.T) {
	data := priceJSON(t, map[string]interface{}{
		"feed": "BTC/USD", "publisher": testPublisher, "price": "1.0000001",
	})
	_, err := ingestion.ParsePriceMessage(data, "BTC-PERP")
	if !errors.Is(err, riskerr.InvalidFixedPoint) {
		t.Errorf("expected InvalidFixedPoint, got %v", err)
	}
}

func TestParsePriceMessage_InvalidJSON(t *testing.T) {
	if _, err := ingestion.ParsePriceMessage([]byte("{not json"), "BTC-PERP"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
