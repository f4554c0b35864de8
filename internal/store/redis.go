package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"PerpRisk/internal/state"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// point reads in View transactions. Update transactions always read the
// primary; keys they write are invalidated after commit.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{primary: primary, rdb: rdb, ttl: ttl}
}

func configKey() string { return "perprisk:config" }
func fundKey() string { return "perprisk:insurance_fund" }
func marketKey(symbol string) string { return "perprisk:market:" + symbol }
func oracleKey(feed string) string { return "perprisk:oracle:" + feed }
func positionKey(owner uuid.UUID, symbol string) string {
	return fmt.Sprintf("perprisk:position:%s:%s", owner, symbol)
}
func stopLossKey(owner uuid.UUID, symbol string) string {
	return fmt.Sprintf("perprisk:stop_loss:%s:%s", owner, symbol)
}

// --- Write path (primary, then invalidate) ---

func (s *CachedStore) Update(ctx context.Context, fn func(Tx) error) error {
	var dirty []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		dirty = dirty[:0] // reset on serializable retry
		return fn(&invalidatingTx{Tx: tx, dirty: &dirty})
	})
	if err != nil {
		return err
	}
	if len(dirty) > 0 {
		s.rdb.Del(ctx, dirty...)
	}
	return nil
}

type invalidatingTx struct {
	Tx
	dirty *[]string
}

func (t *invalidatingTx) mark(key string) { *t.dirty = append(*t.dirty, key) }

func (t *invalidatingTx) PutConfig(c *state.Config) error {
	t.mark(configKey())
	return t.Tx.PutConfig(c)
}

func (t *invalidatingTx) PutMarket(m *state.Market) error {
	t.mark(marketKey(m.Symbol))
	return t.Tx.PutMarket(m)
}

func (t *invalidatingTx) PutPosition(p *state.UserPosition) error {
	t.mark(positionKey(p.Owner, p.Symbol))
	return t.Tx.PutPosition(p)
}

func (t *invalidatingTx) PutStopLoss(o *state.StopLossOrder) error {
	t.mark(stopLossKey(o.Owner, o.Symbol))
	return t.Tx.PutStopLoss(o)
}

func (t *invalidatingTx) PutInsuranceFund(f *state.InsuranceFund) error {
	t.mark(fundKey())
	return t.Tx.PutInsuranceFund(f)
}

func (t *invalidatingTx) PutOraclePrice(o *state.OraclePrice) error {
	t.mark(oracleKey(o.Feed))
	return t.Tx.PutOraclePrice(o)
}

// --- Read path (cache first) ---

func (s *CachedStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachingTx{Tx: tx, ctx: ctx, s: s})
	})
}

func (s *CachedStore) Close() error {
	if err := s.rdb.Close(); err != nil {
		return err
	}
	return s.primary.Close()
}

type cachingTx struct {
	Tx
	ctx context.Context
	s   *CachedStore
}

// readThrough fills dst from key, or from load on a miss and backfills.
func readThrough[T any](t *cachingTx, key string, load func() (*T, error)) (*T, error) {
	if data, err := t.s.rdb.Get(t.ctx, key).Bytes(); err == nil {
		var v T
		if json.Unmarshal(data, &v) == nil {
			return &v, nil
		}
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(v); err == nil {
		t.s.rdb.Set(t.ctx, key, data, t.s.ttl)
	}
	return v, nil
}

func (t *cachingTx) GetConfig() (*state.Config, error) {
	return readThrough(t, configKey(), t.Tx.GetConfig)
}

func (t *cachingTx) GetMarket(symbol string) (*state.Market, error) {
	return readThrough(t, marketKey(symbol), func() (*state.Market, error) { return t.Tx.GetMarket(symbol) })
}

func (t *cachingTx) GetPosition(owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	return readThrough(t, positionKey(owner, symbol), func() (*state.UserPosition, error) {
		return t.Tx.GetPosition(owner, symbol)
	})
}

func (t *cachingTx) GetStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error) {
	return readThrough(t, stopLossKey(owner, symbol), func() (*state.StopLossOrder, error) {
		return t.Tx.GetStopLoss(owner, symbol)
	})
}

func (t *cachingTx) GetInsuranceFund() (*state.InsuranceFund, error) {
	return readThrough(t, fundKey(), t.Tx.GetInsuranceFund)
}

func (t *cachingTx) GetOraclePrice(feed string) (*state.OraclePrice, error) {
	return readThrough(t, oracleKey(feed), func() (*state.OraclePrice, error) { return t.Tx.GetOraclePrice(feed) })
}

// ConnectRedis parses a redis:// URL and verifies the connection.
func ConnectRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}
