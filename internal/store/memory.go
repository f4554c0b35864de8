package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"PerpRisk/internal/state"
)

// MemoryStore keeps all records in process memory. Update transactions
// stage writes in an overlay that is merged on success.
type MemoryStore struct {
	mu   sync.RWMutex
	data *memData
}

type memData struct {
	config     *state.Config
	fund       *state.InsuranceFund
	markets    map[string]*state.Market
	positions  map[state.PositionKey]*state.UserPosition
	stopLosses map[state.PositionKey]*state.StopLossOrder
	oracles    map[string]*state.OraclePrice
}

func newMemData() *memData {
	return &memData{
		markets:    make(map[string]*state.Market),
		positions:  make(map[state.PositionKey]*state.UserPosition),
		stopLosses: make(map[state.PositionKey]*state.StopLossOrder),
		oracles:    make(map[string]*state.OraclePrice),
	}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: newMemData()}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{base: s.data, staged: newMemData(), writable: true}
	if err := fn(tx); err != nil {
		return err
	}
	tx.merge()
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&memTx{base: s.data, staged: newMemData()})
}

func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	base     *memData
	staged   *memData
	writable bool
}

func (tx *memTx) merge() {
	if tx.staged.config != nil {
		tx.base.config = tx.staged.config
	}
	if tx.staged.fund != nil {
		tx.base.fund = tx.staged.fund
	}
	for k, v := range tx.staged.markets {
		tx.base.markets[k] = v
	}
	for k, v := range tx.staged.positions {
		tx.base.positions[k] = v
	}
	for k, v := range tx.staged.stopLosses {
		tx.base.stopLosses[k] = v
	}
	for k, v := range tx.staged.oracles {
		tx.base.oracles[k] = v
	}
}

func (tx *memTx) checkWritable() error {
	if !tx.writable {
		return ErrReadOnly
	}
	return nil
}

func (tx *memTx) GetConfig() (*state.Config, error) {
	if c := tx.staged.config; c != nil {
		return c.Clone(), nil
	}
	if c := tx.base.config; c != nil {
		return c.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) PutConfig(c *state.Config) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.config = c.Clone()
	return nil
}

func (tx *memTx) GetMarket(symbol string) (*state.Market, error) {
	if m, ok := tx.staged.markets[symbol]; ok {
		return m.Clone(), nil
	}
	if m, ok := tx.base.markets[symbol]; ok {
		return m.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) PutMarket(m *state.Market) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.markets[m.Symbol] = m.Clone()
	return nil
}

func (tx *memTx) ListMarkets() ([]*state.Market, error) {
	merged := make(map[string]*state.Market, len(tx.base.markets))
	for k, v := range tx.base.markets {
		merged[k] = v
	}
	for k, v := range tx.staged.markets {
		merged[k] = v
	}
	out := make([]*state.Market, 0, len(merged))
	for _, m := range merged {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (tx *memTx) GetPosition(owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	key := state.PositionKey{Owner: owner, Symbol: symbol}
	if p, ok := tx.staged.positions[key]; ok {
		return p.Clone(), nil
	}
	if p, ok := tx.base.positions[key]; ok {
		return p.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) GetOrCreatePosition(owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	p, err := tx.GetPosition(owner, symbol)
	if err == ErrNotFound {
		return state.NewUserPosition(owner, symbol), nil
	}
	return p, err
}

func (tx *memTx) PutPosition(p *state.UserPosition) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.positions[p.Key()] = p.Clone()
	return nil
}

func (tx *memTx) mergedPositions() map[state.PositionKey]*state.UserPosition {
	merged := make(map[state.PositionKey]*state.UserPosition, len(tx.base.positions))
	for k, v := range tx.base.positions {
		merged[k] = v
	}
	for k, v := range tx.staged.positions {
		merged[k] = v
	}
	return merged
}

func (tx *memTx) ListPositions(symbol string) ([]*state.UserPosition, error) {
	var out []*state.UserPosition
	for k, p := range tx.mergedPositions() {
		if k.Symbol == symbol && !p.IsEmpty() {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0 })
	return out, nil
}

func (tx *memTx) CountOpenPositions(owner uuid.UUID) (int64, error) {
	var n int64
	for k, p := range tx.mergedPositions() {
		if k.Owner == owner && !p.IsEmpty() {
			n++
		}
	}
	return n, nil
}

func (tx *memTx) GetStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error) {
	key := state.PositionKey{Owner: owner, Symbol: symbol}
	if o, ok := tx.staged.stopLosses[key]; ok {
		return o.Clone(), nil
	}
	if o, ok := tx.base.stopLosses[key]; ok {
		return o.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) GetOrCreateStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error) {
	o, err := tx.GetStopLoss(owner, symbol)
	if err == ErrNotFound {
		return state.NewStopLossOrder(owner, symbol), nil
	}
	return o, err
}

func (tx *memTx) PutStopLoss(o *state.StopLossOrder) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.stopLosses[state.PositionKey{Owner: o.Owner, Symbol: o.Symbol}] = o.Clone()
	return nil
}

func (tx *memTx) ListActiveStopLosses(symbol string) ([]*state.StopLossOrder, error) {
	merged := make(map[state.PositionKey]*state.StopLossOrder, len(tx.base.stopLosses))
	for k, v := range tx.base.stopLosses {
		merged[k] = v
	}
	for k, v := range tx.staged.stopLosses {
		merged[k] = v
	}
	var out []*state.StopLossOrder
	for k, o := range merged {
		if k.Symbol == symbol && o.IsActive {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Owner[:], out[j].Owner[:]) < 0 })
	return out, nil
}

func (tx *memTx) GetInsuranceFund() (*state.InsuranceFund, error) {
	if f := tx.staged.fund; f != nil {
		return f.Clone(), nil
	}
	if f := tx.base.fund; f != nil {
		return f.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) PutInsuranceFund(f *state.InsuranceFund) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.fund = f.Clone()
	return nil
}

func (tx *memTx) GetOraclePrice(feed string) (*state.OraclePrice, error) {
	if o, ok := tx.staged.oracles[feed]; ok {
		return o.Clone(), nil
	}
	if o, ok := tx.base.oracles[feed]; ok {
		return o.Clone(), nil
	}
	return nil, ErrNotFound
}

func (tx *memTx) PutOraclePrice(o *state.OraclePrice) error {
	if err := tx.checkWritable(); err != nil {
		return err
	}
	tx.staged.oracles[o.Feed] = o.Clone()
	return nil
}
