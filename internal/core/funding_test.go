package core_test

import (
	"testing"

	"PerpRisk/internal/event"
	"PerpRisk/internal/riskerr"
)

// ============================================================================
// Test: funding settlement
// ============================================================================

func TestSettleFunding_BeforeInterval(t *testing.T) {
	f := newFixture(t)
	f.clock.advance(3_599)
	f.setPrice(testFeed, price100)

	_, err := f.eng.SettleFunding(f.ctx, testSymbol)
	requireCode(t, err, riskerr.FundingRateError)
}

func TestSettleFunding_NoPositions(t *testing.T) {
	f := newFixture(t)
	f.clock.advance(3_600)

	// No price is needed when nothing is open.
	res, err := f.eng.SettleFunding(f.ctx, testSymbol)
	if err != nil {
		t.Fatalf("settle funding: %v", err)
	}
	if res.RateFP != 0 || res.Positions != 0 {
		t.Errorf("rate %d positions %d, want 0 / 0", res.RateFP, res.Positions)
	}
	if res.Market.LastFundingTs != f.clock.Now() {
		t.Errorf("last funding ts: got %d, want %d", res.Market.LastFundingTs, f.clock.Now())
	}
}

func TestSettleFunding_LongSkewPaysShorts(t *testing.T) {
	f := newFixture(t)
	long := f.trader(10_000)
	short := f.trader(10_000)
	f.open(long, true, 1_000, 10) // 10 base
	f.open(short, false, 500, 10) // 5 base
	f.clock.advance(3_600)
	f.setPrice(testFeed, price100)
	drainOutputs(f.persist)

	res, err := f.eng.SettleFunding(f.ctx, testSymbol)
	if err != nil {
		t.Fatalf("settle funding: %v", err)
	}
	// 100 bps * (10 - 5) / 15
	if res.RateFP != 3_333 {
		t.Errorf("rate: got %d, want 3_333", res.RateFP)
	}
	if res.Positions != 2 {
		t.Errorf("positions: got %d, want 2", res.Positions)
	}
	if res.PaidFP != 3_333_000 || res.ReceivedFP != 1_666_500 {
		t.Errorf("paid %d received %d, want 3_333_000 / 1_666_500", res.PaidFP, res.ReceivedFP)
	}

	if p := f.position(long); p.FundingDebtFP != 3_333_000 || p.FundingCheckpointFP != 3_333 {
		t.Errorf("long debt %d checkpoint %d", p.FundingDebtFP, p.FundingCheckpointFP)
	}
	if p := f.position(short); p.FundingDebtFP != -1_666_500 || p.FundingCheckpointFP != -3_333 {
		t.Errorf("short debt %d checkpoint %d", p.FundingDebtFP, p.FundingCheckpointFP)
	}
	m := f.market()
	if m.CumulativeFundingLongFP != 3_333 || m.CumulativeFundingShortFP != -3_333 {
		t.Errorf("cumulative long %d short %d", m.CumulativeFundingLongFP, m.CumulativeFundingShortFP)
	}
	outputs := drainOutputs(f.persist)
	if !hasEvent(outputs, event.EventTypeFundingPaid) || !hasEvent(outputs, event.EventTypeFundingSettled) {
		t.Error("expected FundingPaid and FundingSettled")
	}

	_, err = f.eng.SettleFunding(f.ctx, testSymbol)
	requireCode(t, err, riskerr.FundingRateError)

	// The debt is charged on close: 100 margin - 3.333 funding - 1 fee.
	closed, err := f.eng.ClosePosition(f.ctx, long, testSymbol)
	if err != nil {
		t.Fatalf("close long: %v", err)
	}
	if closed.Settlement != 95 {
		t.Errorf("settlement: got %d, want 95", closed.Settlement)
	}
}

func TestSettleFunding_PausedMarket(t *testing.T) {
	f := newFixture(t)
	if _, err := f.eng.SetMarketPaused(f.ctx, f.admin, testSymbol, true); err != nil {
		t.Fatalf("pause market: %v", err)
	}
	f.clock.advance(3_600)
	_, err := f.eng.SettleFunding(f.ctx, testSymbol)
	requireCode(t, err, riskerr.MarketPaused)
}
