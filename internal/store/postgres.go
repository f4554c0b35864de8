package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"PerpRisk/internal/state"
)

// serializationFailure is the SQLSTATE of a serializable conflict.
const serializationFailure = "40001"

const maxSerializableRetries = 3

// PostgresStore keeps records as JSONB documents in the risk_state schema.
// Update runs at SERIALIZABLE and locks every row it reads.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPostgresStore(db *sql.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger.With().Str("component", "store").Logger()}
}

func (s *PostgresStore) Update(ctx context.Context, fn func(Tx) error) error {
	var err error
	for attempt := 0; attempt < maxSerializableRetries; attempt++ {
		err = s.run(ctx, fn, false)
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == serializationFailure {
			s.logger.Warn().Int("attempt", attempt+1).Msg("serialization conflict, retrying")
			continue
		}
		return err
	}
	return err
}

func (s *PostgresStore) View(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, fn, true)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) run(ctx context.Context, fn func(Tx) error, readOnly bool) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable, ReadOnly: readOnly})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &pgTx{ctx: ctx, tx: sqlTx, readOnly: readOnly}

	if err := fn(tx); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *pgTx) lockClause() string {
	if t.readOnly {
		return ""
	}
	return " FOR UPDATE"
}

// getDoc loads one JSONB document into dst.
func (t *pgTx) getDoc(dst interface{}, query string, args ...interface{}) error {
	var doc []byte
	err := t.tx.QueryRowContext(t.ctx, query+t.lockClause(), args...).Scan(&doc)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(doc, dst)
}

func (t *pgTx) exec(query string, args ...interface{}) error {
	if t.readOnly {
		return ErrReadOnly
	}
	_, err := t.tx.ExecContext(t.ctx, query, args...)
	return err
}

func marshalDoc(v interface{}) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	return doc, nil
}

func (t *pgTx) GetConfig() (*state.Config, error) {
	var c state.Config
	if err := t.getDoc(&c, `SELECT doc FROM risk_state.protocol_config WHERE id = 1`); err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) PutConfig(c *state.Config) error {
	doc, err := marshalDoc(c)
	if err != nil {
		return err
	}
	return t.exec(`INSERT INTO risk_state.protocol_config (id, doc) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, doc)
}

func (t *pgTx) GetMarket(symbol string) (*state.Market, error) {
	var m state.Market
	if err := t.getDoc(&m, `SELECT doc FROM risk_state.markets WHERE symbol = $1`, symbol); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) PutMarket(m *state.Market) error {
	doc, err := marshalDoc(m)
	if err != nil {
		return err
	}
	return t.exec(`INSERT INTO risk_state.markets (symbol, doc) VALUES ($1, $2)
		ON CONFLICT (symbol) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, m.Symbol, doc)
}

func (t *pgTx) ListMarkets() ([]*state.Market, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT doc FROM risk_state.markets ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*state.Market
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var m state.Market
		if err := json.Unmarshal(doc, &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (t *pgTx) GetPosition(owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	var p state.UserPosition
	err := t.getDoc(&p, `SELECT doc FROM risk_state.positions WHERE owner = $1 AND symbol = $2`, owner, symbol)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) GetOrCreatePosition(owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	p, err := t.GetPosition(owner, symbol)
	if err == ErrNotFound {
		return state.NewUserPosition(owner, symbol), nil
	}
	return p, err
}

func (t *pgTx) PutPosition(p *state.UserPosition) error {
	doc, err := marshalDoc(p)
	if err != nil {
		return err
	}
	return t.exec(`INSERT INTO risk_state.positions (owner, symbol, is_open, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, symbol) DO UPDATE SET is_open = EXCLUDED.is_open, doc = EXCLUDED.doc, updated_at = NOW()`,
		p.Owner, p.Symbol, !p.IsEmpty(), doc)
}

func (t *pgTx) ListPositions(symbol string) ([]*state.UserPosition, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT doc FROM risk_state.positions WHERE symbol = $1 AND is_open ORDER BY owner`+t.lockClause(), symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*state.UserPosition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var p state.UserPosition
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (t *pgTx) CountOpenPositions(owner uuid.UUID) (int64, error) {
	var n int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COUNT(*) FROM risk_state.positions WHERE owner = $1 AND is_open`, owner).Scan(&n)
	return n, err
}

func (t *pgTx) GetStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error) {
	var o state.StopLossOrder
	err := t.getDoc(&o, `SELECT doc FROM risk_state.stop_losses WHERE owner = $1 AND symbol = $2`, owner, symbol)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) GetOrCreateStopLoss(owner uuid.UUID, symbol string) (*state.StopLossOrder, error) {
	o, err := t.GetStopLoss(owner, symbol)
	if err == ErrNotFound {
		return state.NewStopLossOrder(owner, symbol), nil
	}
	return o, err
}

func (t *pgTx) PutStopLoss(o *state.StopLossOrder) error {
	doc, err := marshalDoc(o)
	if err != nil {
		return err
	}
	return t.exec(`INSERT INTO risk_state.stop_losses (owner, symbol, is_active, doc) VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner, symbol) DO UPDATE SET is_active = EXCLUDED.is_active, doc = EXCLUDED.doc, updated_at = NOW()`,
		o.Owner, o.Symbol, o.IsActive, doc)
}

func (t *pgTx) ListActiveStopLosses(symbol string) ([]*state.StopLossOrder, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT doc FROM risk_state.stop_losses WHERE symbol = $1 AND is_active ORDER BY owner`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*state.StopLossOrder
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var o state.StopLossOrder
		if err := json.Unmarshal(doc, &o); err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

func (t *pgTx) GetInsuranceFund() (*state.InsuranceFund, error) {
	var f state.InsuranceFund
	if err := t.getDoc(&f, `SELECT doc FROM risk_state.insurance_fund WHERE id = 1`); err != nil {
		return nil, err
	}
	return &f, nil
}

func (t *pgTx) PutInsuranceFund(f *state.InsuranceFund) error {
	doc, err := marshalDoc(f)
	if err != nil {
		return err
	}
	return t.exec(`INSERT INTO risk_state.insurance_fund (id, doc) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, doc)
}

func (t *pgTx) GetOraclePrice(feed string) (*state.OraclePrice, error) {
	var o state.OraclePrice
	if err := t.getDoc(&o, `SELECT doc FROM risk_state.oracle_prices WHERE feed = $1`, feed); err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) PutOraclePrice(o *state.OraclePrice) error {
	doc, err := marshalDoc(o)
	if err != nil {
		return err
	}
	return t.exec(`INSERT INTO risk_state.oracle_prices (feed, doc) VALUES ($1, $2)
		ON CONFLICT (feed) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()`, o.Feed, doc)
}
