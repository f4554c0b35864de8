package ingestion

import (
	"errors"
	"fmt"
	"sync"
)

// ErrStalePrice marks a message at or below the last accepted sequence of
// its partition.
var ErrStalePrice = errors.New("stale price sequence")

// SequenceGuard orders price messages per feed and publisher. Gaps are
// tolerated since only the latest price matters; regressions are not.
type SequenceGuard struct {
	mu   sync.Mutex
	last map[string]int64 // partition -> last accepted sequence

	gaps       map[string]int64
	outOfOrder map[string]int64
}

func NewSequenceGuard() *SequenceGuard {
	return &SequenceGuard{
		last:       make(map[string]int64),
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
	}
}

func partition(m *PriceMessage) string {
	return fmt.Sprintf("price:%s:%s", m.Feed, m.Publisher)
}

// Check validates m without recording it. It returns the number of
// sequences skipped since the last accepted message.
func (g *SequenceGuard) Check(m *PriceMessage) (int64, error) {
	if m.Sequence == 0 {
		return 0, nil
	}
	p := partition(m)

	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.last[p]
	if !ok {
		return 0, nil
	}
	if m.Sequence <= last {
		g.outOfOrder[p]++
		return 0, fmt.Errorf("%s: got %d, last accepted %d: %w", p, m.Sequence, last, ErrStalePrice)
	}
	gap := m.Sequence - last - 1
	if gap > 0 {
		g.gaps[p]++
	}
	return gap, nil
}

// Accept records m as the newest message of its partition.
func (g *SequenceGuard) Accept(m *PriceMessage) {
	if m.Sequence == 0 {
		return
	}
	p := partition(m)
	g.mu.Lock()
	defer g.mu.Unlock()
	if m.Sequence > g.last[p] {
		g.last[p] = m.Sequence
	}
}

// Last returns the last accepted sequence of a feed and publisher pair.
func (g *SequenceGuard) Last(m *PriceMessage) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last[partition(m)]
}

// Restore seeds the guard, used after a restart.
func (g *SequenceGuard) Restore(state map[string]int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p, seq := range state {
		g.last[p] = seq
	}
}

// State copies the last accepted sequence per partition.
func (g *SequenceGuard) State() map[string]int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]int64, len(g.last))
	for p, seq := range g.last {
		out[p] = seq
	}
	return out
}

func (g *SequenceGuard) Gaps(m *PriceMessage) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gaps[partition(m)]
}

func (g *SequenceGuard) OutOfOrder(m *PriceMessage) int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outOfOrder[partition(m)]
}
