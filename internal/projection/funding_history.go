package projection

import (
	"sync"

	"github.com/google/uuid"
)

// FundingHistoryEntry is one funding payment applied to a position.
type FundingHistoryEntry struct {
	User      uuid.UUID `json:"user"`
	Market    string    `json:"market"`
	Sequence  int64     `json:"sequence"`
	RateFP    int64     `json:"funding_rate_fp"`
	AmountFP  int64     `json:"funding_amount_fp"` // positive = paid
	Timestamp int64     `json:"timestamp"`
}

// FundingHistoryProjection keeps the most recent funding payments per user.
type FundingHistoryProjection struct {
	mu      sync.RWMutex
	perUser int
	entries map[uuid.UUID][]FundingHistoryEntry
}

func NewFundingHistoryProjection(perUser int) *FundingHistoryProjection {
	if perUser <= 0 {
		perUser = 1000
	}
	return &FundingHistoryProjection{
		perUser: perUser,
		entries: make(map[uuid.UUID][]FundingHistoryEntry),
	}
}

// AddEntry records a funding payment, evicting the user's oldest past the cap.
func (p *FundingHistoryProjection) AddEntry(entry FundingHistoryEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	list := append(p.entries[entry.User], entry)
	if len(list) > p.perUser {
		list = list[len(list)-p.perUser:]
	}
	p.entries[entry.User] = list
}

// QueryByUser returns a user's payments newest first. An empty market
// matches all markets.
func (p *FundingHistoryProjection) QueryByUser(user uuid.UUID, market string, limit int) []FundingHistoryEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	list := p.entries[user]
	result := make([]FundingHistoryEntry, 0)
	for i := len(list) - 1; i >= 0 && len(result) < limit; i-- {
		if market == "" || list[i].Market == market {
			result = append(result, list[i])
		}
	}
	return result
}

// NetPaidFP sums a user's recorded payments in one market.
func (p *FundingHistoryProjection) NetPaidFP(user uuid.UUID, market string) int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var total int64
	for _, e := range p.entries[user] {
		if e.Market == market {
			total += e.AmountFP
		}
	}
	return total
}

func (p *FundingHistoryProjection) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[uuid.UUID][]FundingHistoryEntry)
}
