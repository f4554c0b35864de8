package ingestion_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/ingestion"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

type fakeUpdater struct {
	updates []core.PriceUpdate
	err     error
}

func (f *fakeUpdater) UpdateOraclePrice(_ context.Context, u core.PriceUpdate) (*state.OraclePrice, error) {
	f.updates = append(f.updates, u)
	if f.err != nil {
		return nil, f.err
	}
	return &state.OraclePrice{Feed: u.Feed, PriceFP: u.PriceFP}, nil
}

func newIngestor(up *fakeUpdater) *ingestion.PriceIngestor {
	return ingestion.NewPriceIngestor(up, nil, nil, nil, zerolog.Nop())
}

func sequencedPrice(t *testing.T, seq int64, price string) []byte {
	return priceJSON(t, map[string]interface{}{
		"feed": "BTC/USD", "publisher": testPublisher, "price": price, "sequence": seq,
	})
}

// ============================================================================
// Test: price ingestion pipeline
// ============================================================================

func TestPriceIngestor_AppliesOnce(t *testing.T) {
	up := &fakeUpdater{}
	pi := newIngestor(up)
	ctx := context.Background()

	if d := pi.Handle(ctx, testSubject, sequencedPrice(t, 1, "100")); d != ingestion.Ack {
		t.Fatalf("disposition: got %s, want ack", d)
	}
	// Redelivery of the same message.
	if d := pi.Handle(ctx, testSubject, sequencedPrice(t, 1, "100")); d != ingestion.Ack {
		t.Fatalf("duplicate disposition: got %s, want ack", d)
	}
	if len(up.updates) != 1 {
		t.Fatalf("engine saw %d updates, want 1", len(up.updates))
	}
	if up.updates[0].PriceFP != 100_000_000 || up.updates[0].Feed != "BTC/USD" {
		t.Errorf("update: %+v", up.updates[0])
	}
}

func TestPriceIngestor_DropsStaleSequence(t *testing.T) {
	up := &fakeUpdater{}
	pi := newIngestor(up)
	ctx := context.Background()

	pi.Handle(ctx, testSubject, sequencedPrice(t, 5, "100"))
	if d := pi.Handle(ctx, testSubject, sequencedPrice(t, 4, "99")); d != ingestion.Ack {
		t.Fatalf("stale disposition: got %s, want ack", d)
	}
	if d := pi.Handle(ctx, testSubject, sequencedPrice(t, 9, "101")); d != ingestion.Ack {
		t.Fatalf("gap disposition: got %s, want ack", d)
	}
	if len(up.updates) != 2 {
		t.Fatalf("engine saw %d updates, want 2", len(up.updates))
	}
	if up.updates[1].PriceFP != 101_000_000 {
		t.Errorf("latest price: got %d", up.updates[1].PriceFP)
	}
}

func TestPriceIngestor_Dispositions(t *testing.T) {
	tests := []struct {
		name    string
		subject string
		data    func(t *testing.T) []byte
		err     error
		want    ingestion.Disposition
	}{
		{"wrong subject", "perp.trades.BTC-PERP", func(t *testing.T) []byte { return sequencedPrice(t, 1, "1") }, nil, ingestion.Term},
		{"malformed", testSubject, func(*testing.T) []byte { return []byte("{") }, nil, ingestion.Term},
		{"domain rejection", testSubject, func(t *testing.T) []byte { return sequencedPrice(t, 1, "1") },
			riskerr.Wrap(riskerr.Unauthorized, "publisher"), ingestion.Term},
		{"circuit breaker", testSubject, func(t *testing.T) []byte { return sequencedPrice(t, 1, "1") },
			riskerr.Wrap(riskerr.CircuitBreakerTriggered, "move"), ingestion.Ack},
		{"infrastructure", testSubject, func(t *testing.T) []byte { return sequencedPrice(t, 1, "1") },
			errors.New("connection reset"), ingestion.Nak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pi := newIngestor(&fakeUpdater{err: tt.err})
			if got := pi.Handle(context.Background(), tt.subject, tt.data(t)); got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPriceIngestor_NakIsRetried(t *testing.T) {
	up := &fakeUpdater{err: errors.New("store unavailable")}
	pi := newIngestor(up)
	ctx := context.Background()

	if d := pi.Handle(ctx, testSubject, sequencedPrice(t, 1, "100")); d != ingestion.Nak {
		t.Fatalf("got %s, want nak", d)
	}
	// A failed message is neither marked seen nor advances the sequence.
	up.err = nil
	if d := pi.Handle(ctx, testSubject, sequencedPrice(t, 1, "100")); d != ingestion.Ack {
		t.Fatalf("redelivery: got %s, want ack", d)
	}
	if len(up.updates) != 2 {
		t.Errorf("engine saw %d updates, want 2", len(up.updates))
	}
}
