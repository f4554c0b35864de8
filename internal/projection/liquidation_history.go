package projection

import (
	"sync"

	"github.com/google/uuid"
)

// LiquidationEntry is one liquidation of a user's position.
type LiquidationEntry struct {
	User                  uuid.UUID `json:"user"`
	Liquidator            uuid.UUID `json:"liquidator"`
	Market                string    `json:"market"`
	Sequence              int64     `json:"sequence"`
	Percentage            int64     `json:"percentage"`
	LiquidatedSize        int64     `json:"liquidated_size"`
	RemainingSize         int64     `json:"remaining_size"`
	PriceFP               int64     `json:"liquidation_price_fp"`
	LiquidatorReward      int64     `json:"liquidator_reward"`
	TraderSettlement      int64     `json:"trader_settlement"`
	InsuranceContribution int64     `json:"insurance_fund_contribution"`
	Timestamp             int64     `json:"timestamp"`
}

// Partial reports whether the position survived the liquidation.
func (e LiquidationEntry) Partial() bool { return e.RemainingSize != 0 }

// LiquidationHistoryProjection keeps liquidations per user and market-wide
// deficit totals.
type LiquidationHistoryProjection struct {
	mu       sync.RWMutex
	perUser  int
	entries  map[uuid.UUID][]LiquidationEntry
	deficits map[string]int64
}

func NewLiquidationHistoryProjection(perUser int) *LiquidationHistoryProjection {
	if perUser <= 0 {
		perUser = 1000
	}
	return &LiquidationHistoryProjection{
		perUser:  perUser,
		entries:  make(map[uuid.UUID][]LiquidationEntry),
		deficits: make(map[string]int64),
	}
}

func (p *LiquidationHistoryProjection) AddEntry(entry LiquidationEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := append(p.entries[entry.User], entry)
	if len(list) > p.perUser {
		list = list[len(list)-p.perUser:]
	}
	p.entries[entry.User] = list
	p.deficits[entry.Market] += entry.InsuranceContribution
}

// setRemaining fills in the surviving size of the user's latest
// liquidation at sequence seq.
func (p *LiquidationHistoryProjection) setRemaining(user uuid.UUID, market string, seq, remaining int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := p.entries[user]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Market == market && list[i].Sequence == seq {
			list[i].RemainingSize = remaining
			return
		}
	}
}

// QueryByUser returns a user's liquidations newest first.
func (p *LiquidationHistoryProjection) QueryByUser(user uuid.UUID, market string, limit int) []LiquidationEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.entries[user]
	result := make([]LiquidationEntry, 0)
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		if market == "" || list[i].Market == market {
			result = append(result, list[i])
		}
	}
	return result
}

// DeficitTotal is the cumulative bad debt recorded in a market.
func (p *LiquidationHistoryProjection) DeficitTotal(market string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deficits[market]
}

func (p *LiquidationHistoryProjection) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[uuid.UUID][]LiquidationEntry)
	p.deficits = make(map[string]int64)
}
