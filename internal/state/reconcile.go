package state

import "fmt"

// ReconcileMarket recomputes open interest from a full position scan and
// compares it with the market's running totals. Positions of other markets
// are ignored.
func ReconcileMarket(m *Market, positions []*UserPosition) error {
	var long, short int64
	for _, p := range positions {
		if p.Symbol != m.Symbol || p.BaseSize == 0 {
			continue
		}
		if !p.SignConsistent() {
			return fmt.Errorf("position %s: base_size %d inconsistent with is_long=%v",
				p.Key(), p.BaseSize, p.IsLong)
		}
		if p.MarginDeposited < 0 {
			return fmt.Errorf("position %s: negative margin %d", p.Key(), p.MarginDeposited)
		}
		if p.IsLong {
			long += p.AbsSize()
		} else {
			short += p.AbsSize()
		}
	}

	if long != m.TotalLongSize {
		return fmt.Errorf("market %s: total_long_size=%d, positions sum=%d", m.Symbol, m.TotalLongSize, long)
	}
	if short != m.TotalShortSize {
		return fmt.Errorf("market %s: total_short_size=%d, positions sum=%d", m.Symbol, m.TotalShortSize, short)
	}
	return nil
}
