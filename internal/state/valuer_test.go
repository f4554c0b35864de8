package state

import (
	"testing"

	"github.com/google/uuid"
)

var testOwner = uuid.MustParse("11111111-1111-1111-1111-111111111111")

func testMarket() *Market {
	return &Market{
		Symbol:               "BTC",
		MaintenanceMarginBps: 625,
		TakerLeverageCap:     20,
		MaxPositionBase:      1_000_000_000,
	}
}

// $1000 notional at 10x: margin 100, 10 base at price 100.
func scenarioLong() *UserPosition {
	return &UserPosition{
		Owner:           testOwner,
		Symbol:          "BTC",
		IsLong:          true,
		BaseSize:        10_000_000,
		EntryPriceFP:    100_000_000,
		MarginDeposited: 100,
	}
}

// ============================================================================
// Test: scenario valuations
// ============================================================================

func TestUnrealizedPnLScenario(t *testing.T) {
	p := scenarioLong()

	pnl, err := UnrealizedPnL(p, 110_000_000)
	if err != nil {
		t.Fatalf("pnl: %v", err)
	}
	if pnl != 100_000_000 {
		t.Errorf("pnl: got %d, want 100_000_000", pnl)
	}

	eq, err := Equity(p, 110_000_000)
	if err != nil {
		t.Fatalf("equity: %v", err)
	}
	if eq != 200_000_000 {
		t.Errorf("equity: got %d, want 200_000_000", eq)
	}
}

func TestShortPnLIsMirrored(t *testing.T) {
	p := scenarioLong()
	p.IsLong = false
	p.BaseSize = -p.BaseSize

	pnl, _ := UnrealizedPnL(p, 110_000_000)
	if pnl != -100_000_000 {
		t.Errorf("short pnl: got %d", pnl)
	}
}

func TestEmptyPositionValuation(t *testing.T) {
	p := NewUserPosition(testOwner, "BTC")
	pnl, _ := UnrealizedPnL(p, 123_000_000)
	if pnl != 0 {
		t.Errorf("empty pnl: got %d", pnl)
	}
	liq, err := IsLiquidatable(p, testMarket(), 1)
	if err != nil || liq {
		t.Errorf("empty position must never be liquidatable: %v %v", liq, err)
	}
}

func TestLiquidationPriceScenario(t *testing.T) {
	got, err := LiquidationPrice(true, 100_000_000, 625)
	if err != nil {
		t.Fatal(err)
	}
	if got != 93_750_000 {
		t.Errorf("long liquidation price: got %d, want 93_750_000", got)
	}

	got, _ = LiquidationPrice(false, 100_000_000, 625)
	if got != 106_250_000 {
		t.Errorf("short liquidation price: got %d, want 106_250_000", got)
	}
}

func TestFundingDebtReducesEquity(t *testing.T) {
	p := scenarioLong()
	p.FundingDebtFP = 30_000_000

	eq, _ := Equity(p, 100_000_000)
	if eq != 70_000_000 {
		t.Errorf("equity with debt: got %d", eq)
	}
}

// ============================================================================
// Test: liquidation eligibility
// ============================================================================

func TestIsLiquidatableThreshold(t *testing.T) {
	p := scenarioLong()
	m := testMarket()

	// at 100: equity 100e6, required 1000e6*625/10000 = 62.5e6
	liq, _ := IsLiquidatable(p, m, 100_000_000)
	if liq {
		t.Error("healthy at entry")
	}

	// at 95: equity 50e6, required 950e6*0.0625 = 59.375e6
	liq, _ = IsLiquidatable(p, m, 95_000_000)
	if !liq {
		t.Error("must be liquidatable at 95")
	}
}

func TestLiquidationEligibilityMonotonic(t *testing.T) {
	m := testMarket()
	for _, isLong := range []bool{true, false} {
		p := scenarioLong()
		if !isLong {
			p.IsLong = false
			p.BaseSize = -p.BaseSize
		}

		// scan prices; once liquidatable, every further adverse price stays so
		seen := false
		for step := int64(0); step <= 200; step++ {
			var price int64
			if isLong {
				price = 100_000_000 - step*400_000 // falling
			} else {
				price = 100_000_000 + step*400_000 // rising
			}
			if price <= 0 {
				break
			}
			liq, err := IsLiquidatable(p, m, price)
			if err != nil {
				t.Fatal(err)
			}
			if seen && !liq {
				t.Fatalf("isLong=%v: liquidatable lost at adverse price %d", isLong, price)
			}
			seen = seen || liq
		}
		if !seen {
			t.Errorf("isLong=%v: never became liquidatable", isLong)
		}
	}
}

func TestValueAggregatesFields(t *testing.T) {
	v, err := Value(scenarioLong(), testMarket(), 110_000_000)
	if err != nil {
		t.Fatal(err)
	}
	if v.NotionalFP != 1_100_000_000 {
		t.Errorf("notional: got %d", v.NotionalFP)
	}
	if v.MaintenanceRequiredFP != 68_750_000 {
		t.Errorf("maintenance: got %d", v.MaintenanceRequiredFP)
	}
	if v.Liquidatable {
		t.Error("profitable position is healthy")
	}
}
