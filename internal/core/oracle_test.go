package core_test

import (
	"testing"

	"github.com/google/uuid"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/oracle"
	"PerpRisk/internal/riskerr"
)

// ============================================================================
// Test: oracle updates
// ============================================================================

func TestUpdateOraclePrice_UnauthorizedPublisher(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: uuid.New(), Feed: testFeed, PriceFP: 101_000_000, NumPublishers: 5,
	})
	requireCode(t, err, riskerr.Unauthorized)

	// The admin may publish too.
	if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: f.admin, Feed: testFeed, PriceFP: 101_000_000, NumPublishers: 5,
	}); err != nil {
		t.Fatalf("admin publish: %v", err)
	}
}

func TestUpdateOraclePrice_RejectsNonPositive(t *testing.T) {
	f := newFixture(t)
	_, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority, Feed: testFeed, PriceFP: 0,
	})
	requireCode(t, err, riskerr.InvalidPrice)
}

func TestCircuitBreaker_PausesMarketAndKeepsPrice(t *testing.T) {
	f := newFixture(t)
	owner := f.trader(10_000)
	drainOutputs(f.persist)

	_, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority, Feed: testFeed, PriceFP: 120_000_000, NumPublishers: 5,
	})
	requireCode(t, err, riskerr.CircuitBreakerTriggered)

	rec, err := f.eng.OraclePrice(f.ctx, testFeed)
	if err != nil {
		t.Fatalf("oracle price: %v", err)
	}
	if rec.PriceFP != price100 {
		t.Errorf("tripped update must not move the price: %d", rec.PriceFP)
	}
	if !f.market().IsPaused {
		t.Fatal("market must be paused")
	}
	outputs := drainOutputs(f.persist)
	if !hasEvent(outputs, event.EventTypeCircuitBreakerTriggered) || !hasEvent(outputs, event.EventTypeEmergencyPause) {
		t.Error("expected CircuitBreakerTriggered and EmergencyPause")
	}

	req := core.OpenPositionRequest{Owner: owner, Symbol: testSymbol, IsLong: true, QuoteToSpend: 1_000, Leverage: 10}
	_, err = f.eng.OpenPosition(f.ctx, req)
	requireCode(t, err, riskerr.MarketPaused)

	if _, err := f.eng.SetMarketPaused(f.ctx, f.admin, testSymbol, false); err != nil {
		t.Fatalf("resume market: %v", err)
	}
	if _, err := f.eng.OpenPosition(f.ctx, req); err != nil {
		t.Fatalf("open after resume: %v", err)
	}
}

func TestStalePrice_RejectsOperations(t *testing.T) {
	f := newFixture(t)
	owner := f.trader(10_000)

	// An age equal to the staleness window is still accepted.
	f.clock.advance(60)
	if _, err := f.eng.MarketPrice(f.ctx, testSymbol); err != nil {
		t.Fatalf("price at the staleness boundary: %v", err)
	}

	f.clock.advance(1)
	_, err := f.eng.MarketPrice(f.ctx, testSymbol)
	requireCode(t, err, riskerr.BadOracle)
	_, err = f.eng.OpenPosition(f.ctx, core.OpenPositionRequest{
		Owner: owner, Symbol: testSymbol, IsLong: true, QuoteToSpend: 1_000, Leverage: 10,
	})
	requireCode(t, err, riskerr.BadOracle)
}

func TestMarketPrice_MissingFeed(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.CreateMarket(f.ctx, f.admin, marketParams("SOL-PERP", "SOL/USD", "")); err != nil {
		t.Fatalf("create market: %v", err)
	}
	_, err := f.eng.MarketPrice(f.ctx, "SOL-PERP")
	requireCode(t, err, riskerr.OracleFeedNotFound)
}

func externalRecord(priceFP, now int64) []byte {
	return oracle.ExternalFeed{
		Magic:         oracle.ExternalMagic,
		Version:       2,
		Status:        oracle.StatusTrading,
		Size:          oracle.ExternalRecordSize,
		Price:         priceFP,
		Confidence:    uint64(priceFP / 1000),
		PublishTime:   now,
		MinPublishers: 3,
		NumPublishers: 5,
		Expo:          -6,
	}.Encode()
}

func TestMarketPrice_WeightsSecondaryFeed(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.CreateMarket(f.ctx, f.admin, marketParams("ETH-PERP", "ETH/USD", "ETH/EXT")); err != nil {
		t.Fatalf("create market: %v", err)
	}
	f.setPrice("ETH/USD", price100)
	if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority,
		Feed:      "ETH/EXT",
		External:  externalRecord(101_000_000, f.clock.Now()),
	}); err != nil {
		t.Fatalf("publish external: %v", err)
	}

	price, err := f.eng.MarketPrice(f.ctx, "ETH-PERP")
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	// 70% primary + 30% secondary
	if price != 100_300_000 {
		t.Errorf("price: got %d, want 100_300_000", price)
	}

	// 10% apart is beyond the 2% cross-feed tolerance.
	if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority,
		Feed:      "ETH/EXT",
		External:  externalRecord(110_000_000, f.clock.Now()),
	}); err != nil {
		t.Fatalf("publish external: %v", err)
	}
	_, err = f.eng.MarketPrice(f.ctx, "ETH-PERP")
	requireCode(t, err, riskerr.OraclePriceDeviation)
}

func TestMarketPrice_FallsBackWhenSecondaryInvalid(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.CreateMarket(f.ctx, f.admin, marketParams("ETH-PERP", "ETH/USD", "ETH/EXT")); err != nil {
		t.Fatalf("create market: %v", err)
	}
	f.setPrice("ETH/USD", price100)
	stale := externalRecord(101_000_000, f.clock.Now()-600)
	if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority, Feed: "ETH/EXT", External: stale,
	}); err != nil {
		t.Fatalf("publish external: %v", err)
	}

	price, err := f.eng.MarketPrice(f.ctx, "ETH-PERP")
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	if price != price100 {
		t.Errorf("price: got %d, want primary %d", price, price100)
	}
}

func TestFallbackPrice_AveragesHistory(t *testing.T) {
	f := newFixture(t)
	f.movePrice(102_000_000, 104_000_000)

	price, err := f.eng.FallbackPrice(f.ctx, testFeed)
	if err != nil {
		t.Fatalf("fallback price: %v", err)
	}
	if price != 102_000_000 {
		t.Errorf("fallback: got %d, want 102_000_000", price)
	}
}

func TestExternalRecord_RejectedRecordKeepsPrimaryStale(t *testing.T) {
	f := newFixture(t)
	f.clock.advance(120)
	_, err := f.eng.MarketPrice(f.ctx, testSymbol)
	requireCode(t, err, riskerr.BadOracle)

	halted := oracle.ExternalFeed{Magic: oracle.ExternalMagic, Size: oracle.ExternalRecordSize, PublishTime: f.clock.Now()}
	if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority, Feed: testFeed, External: halted.Encode(),
	}); err != nil {
		t.Fatalf("publish halted record: %v", err)
	}

	rec, err := f.eng.OraclePrice(f.ctx, testFeed)
	if err != nil {
		t.Fatalf("oracle price: %v", err)
	}
	if rec.LastUpdatedTs != startTs || rec.PriceFP != price100 {
		t.Errorf("rejected record moved the feed: ts %d price %d", rec.LastUpdatedTs, rec.PriceFP)
	}
	if rec.IsValid {
		t.Error("feed must be marked invalid")
	}
	_, err = f.eng.MarketPrice(f.ctx, testSymbol)
	requireCode(t, err, riskerr.BadOracle)
	_, err = f.eng.OpenPosition(f.ctx, core.OpenPositionRequest{
		Owner: f.trader(10_000), Symbol: testSymbol, IsLong: true, QuoteToSpend: 1_000, Leverage: 10,
	})
	requireCode(t, err, riskerr.BadOracle)
}

func TestExternalRecord_InvalidMarksFreshPrimaryBad(t *testing.T) {
	tests := []struct {
		name   string
		record func(now int64) []byte
	}{
		{"stale publish time", func(now int64) []byte { return externalRecord(price100, now-600) }},
		{"halted", func(now int64) []byte {
			return oracle.ExternalFeed{Magic: oracle.ExternalMagic, Price: price100, PublishTime: now, NumPublishers: 5, Expo: -6}.Encode()
		}},
		{"too few publishers", func(now int64) []byte {
			return oracle.ExternalFeed{Magic: oracle.ExternalMagic, Status: oracle.StatusTrading, Price: price100, PublishTime: now, NumPublishers: 1, Expo: -6}.Encode()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
				Publisher: ledger.ProtocolAuthority, Feed: testFeed, External: tt.record(f.clock.Now()),
			}); err != nil {
				t.Fatalf("publish record: %v", err)
			}
			_, err := f.eng.MarketPrice(f.ctx, testSymbol)
			requireCode(t, err, riskerr.BadOracle)

			// The next accepted price clears the invalid flag.
			f.setPrice(testFeed, 101_000_000)
			if _, err := f.eng.MarketPrice(f.ctx, testSymbol); err != nil {
				t.Fatalf("price after a good update: %v", err)
			}
		})
	}
}

func TestExternalRecord_GoesThroughCircuitBreaker(t *testing.T) {
	f := newFixture(t)
	drainOutputs(f.persist)

	_, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority, Feed: testFeed, External: externalRecord(200_000_000, f.clock.Now()),
	})
	requireCode(t, err, riskerr.CircuitBreakerTriggered)

	rec, err := f.eng.OraclePrice(f.ctx, testFeed)
	if err != nil {
		t.Fatalf("oracle price: %v", err)
	}
	if rec.PriceFP != price100 {
		t.Errorf("tripped external record must not move the price: %d", rec.PriceFP)
	}
	if !f.market().IsPaused {
		t.Fatal("market must be paused")
	}
	if !hasEvent(drainOutputs(f.persist), event.EventTypeCircuitBreakerTriggered) {
		t.Error("expected CircuitBreakerTriggered")
	}

	f.clock.advance(1)
	rec, err = f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher: ledger.ProtocolAuthority, Feed: testFeed, External: externalRecord(105_000_000, f.clock.Now()),
	})
	if err != nil {
		t.Fatalf("publish external within threshold: %v", err)
	}
	if rec.PriceFP != 105_000_000 || rec.LastUpdatedTs != startTs+1 {
		t.Errorf("accepted record: price %d ts %d", rec.PriceFP, rec.LastUpdatedTs)
	}
	if rec.ConfidenceFP != 105_000 || rec.NumPublishers != 5 {
		t.Errorf("accepted record: confidence %d publishers %d", rec.ConfidenceFP, rec.NumPublishers)
	}
	if n := len(rec.History); n == 0 || rec.History[n-1] != 105_000_000 {
		t.Errorf("history must record the external price: %v", rec.History)
	}
}

func TestMarketPrice_SecondaryWithoutExternalRecord(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.CreateMarket(f.ctx, f.admin, marketParams("ETH-PERP", "ETH/USD", "ETH/ALT")); err != nil {
		t.Fatalf("create market: %v", err)
	}
	f.setPrice("ETH/USD", price100)

	// Missing secondary feed: primary alone.
	price, err := f.eng.MarketPrice(f.ctx, "ETH-PERP")
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	if price != price100 {
		t.Errorf("price: got %d, want primary %d", price, price100)
	}

	// A secondary fed through the plain path is weighted from its price.
	f.setPrice("ETH/ALT", 101_000_000)
	price, err = f.eng.MarketPrice(f.ctx, "ETH-PERP")
	if err != nil {
		t.Fatalf("market price: %v", err)
	}
	if price != 100_300_000 {
		t.Errorf("price: got %d, want 100_300_000", price)
	}
}
