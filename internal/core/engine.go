// Package core is the risk engine: every public operation is one atomic
// transition over the store records and the ledger.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

// Clock supplies the engine time in unix seconds.
type Clock interface {
	Now() int64
}

type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().Unix() }

// Output is everything one committed operation produced.
type Output struct {
	Envelopes []*event.Envelope
	Batch     *ledger.Batch
}

// Sink receives committed outputs. Publish must not block.
type Sink interface {
	Publish(out Output)
}

// Options wires an Engine.
type Options struct {
	Store   store.Store
	Ledger  *ledger.Service
	Clock   Clock
	Metrics *observability.Metrics
	Logger  zerolog.Logger
	NodeID  int64

	// Resume point of the event chain (zero values start from genesis).
	StartSequence int64
	ChainTip      *event.Hash

	// Persist receives every output with a blocking send. Optional.
	Persist chan<- Output
	Sinks   []Sink
}

// Engine serializes all operations behind one mutex.
type Engine struct {
	mu sync.Mutex

	store   store.Store
	ledger  *ledger.Service
	clock   Clock
	ids     *event.IDGenerator
	hasher  *StateHasher
	seq     int64
	metrics *observability.Metrics
	logger  zerolog.Logger

	persist chan<- Output
	sinks   []Sink
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("core: store is required")
	}
	if opts.Ledger == nil {
		opts.Ledger = ledger.NewService(opts.Logger)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewTestMetrics()
	}
	ids, err := event.NewIDGenerator(opts.NodeID)
	if err != nil {
		return nil, err
	}
	hasher := NewStateHasher()
	if opts.ChainTip != nil {
		hasher = RestoreStateHasher(*opts.ChainTip)
	}
	return &Engine{
		store:   opts.Store,
		ledger:  opts.Ledger,
		clock:   opts.Clock,
		ids:     ids,
		hasher:  hasher,
		seq:     opts.StartSequence,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "core").Logger(),
		persist: opts.Persist,
		sinks:   opts.Sinks,
	}, nil
}

// AddSink registers a sink for subsequent outputs.
func (e *Engine) AddSink(s Sink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, s)
}

func (e *Engine) Ledger() *ledger.Service { return e.ledger }
func (e *Engine) Store() store.Store      { return e.store }

// Checkpoint is the engine position needed to resume after restart.
type Checkpoint struct {
	Sequence int64                      `json:"sequence"`
	ChainTip event.Hash                 `json:"chain_tip"`
	Balances map[ledger.AccountKey]int64 `json:"-"`
}

// Checkpoint captures the sequence, chain tip and ledger balances atomically
// with respect to operations.
func (e *Engine) Checkpoint() Checkpoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Checkpoint{
		Sequence: e.seq,
		ChainTip: e.hasher.Tip(),
		Balances: e.ledger.Tracker().Snapshot(),
	}
}

// Sequence returns the last assigned event sequence.
func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// opCtx carries the state of one operation inside its store transaction.
type opCtx struct {
	tx     store.Tx
	now    int64
	cfg    *state.Config
	asset  ledger.AssetID
	batch  *ledger.Batch
	events []event.Event

	// One validated price per market per operation.
	prices map[string]int64

	onCommit  []func()
	followUps []func(ctx context.Context) error
}

func (oc *opCtx) emit(evts ...event.Event) {
	oc.events = append(oc.events, evts...)
}

func (oc *opCtx) transfer(from, to ledger.AccountKey, authority uuid.UUID, amount int64, jt ledger.JournalType) {
	oc.batch.Add(from, to, authority, amount, jt)
}

func (oc *opCtx) wallet(owner uuid.UUID) ledger.AccountKey {
	return ledger.WalletKey(owner, oc.asset)
}

func (oc *opCtx) custody() ledger.AccountKey {
	return ledger.CustodyVaultKey(oc.asset)
}

func (oc *opCtx) insuranceVault() ledger.AccountKey {
	return ledger.InsuranceVaultKey(oc.cfg.InsuranceVault, oc.asset)
}

// loadConfig reads the protocol config and resolves the quote asset.
func (oc *opCtx) loadConfig() error {
	cfg, err := oc.tx.GetConfig()
	if errors.Is(err, store.ErrNotFound) {
		return riskerr.Wrap(riskerr.InvalidProtocolConfig, "protocol not initialized")
	}
	if err != nil {
		return err
	}
	asset, ok := ledger.GetAssetID(cfg.QuoteAsset)
	if !ok {
		return riskerr.Wrap(riskerr.InvalidTokenMint, "quote asset %q", cfg.QuoteAsset)
	}
	oc.cfg = cfg
	oc.asset = asset
	return nil
}

func (oc *opCtx) market(symbol string) (*state.Market, error) {
	m, err := oc.tx.GetMarket(symbol)
	if errors.Is(err, store.ErrNotFound) {
		return nil, riskerr.Wrap(riskerr.MarketNotFound, "market %q", symbol)
	}
	return m, err
}

// openPosition loads the owner's position; empty slots fail PositionNotFound.
func (oc *opCtx) openPosition(owner uuid.UUID, symbol string) (*state.UserPosition, error) {
	p, err := oc.tx.GetPosition(owner, symbol)
	if errors.Is(err, store.ErrNotFound) || (err == nil && p.IsEmpty()) {
		return nil, riskerr.Wrap(riskerr.PositionNotFound, "%s:%s", owner, symbol)
	}
	return p, err
}

func (oc *opCtx) isAdmin(who uuid.UUID) bool {
	return oc.cfg != nil && who == oc.cfg.Admin
}

// run executes fn in a store transaction, checks the staged ledger batch
// before the commit and applies it after, then sequences and emits events.
func (e *Engine) run(ctx context.Context, op string, fn func(oc *opCtx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runLocked(ctx, op, fn)
}

func (e *Engine) runLocked(ctx context.Context, op string, fn func(oc *opCtx) error) error {
	start := time.Now()
	now := e.clock.Now()

	var oc *opCtx
	err := e.store.Update(ctx, func(tx store.Tx) error {
		oc = &opCtx{
			tx:     tx,
			now:    now,
			batch:  ledger.NewBatch(op, e.seq+1, now),
			prices: make(map[string]int64),
		}
		if err := fn(oc); err != nil {
			return err
		}
		if err := oc.batch.Validate(); err != nil {
			return err
		}
		return e.ledger.Check(oc.batch)
	})
	if err != nil {
		e.reject(op, err)
		return err
	}

	if err := e.ledger.Apply(oc.batch); err != nil {
		// The records are committed; a ledger diverging from them cannot be repaired here.
		e.logger.Error().Err(err).Str("op", op).Msg("ledger apply failed after commit")
		panic(fmt.Sprintf("ledger apply failed after commit of %s: %v", op, err))
	}

	out := Output{Batch: oc.batch}
	for _, evt := range oc.events {
		env, err := e.sequence(now, evt)
		if err != nil {
			// Payloads are plain structs; marshal failure is a programming error.
			panic(err)
		}
		out.Envelopes = append(out.Envelopes, env)
	}
	e.emit(out)

	for _, f := range oc.onCommit {
		f()
	}
	for _, j := range oc.batch.Journals {
		e.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
	}
	e.metrics.OpsApplied.WithLabelValues(op).Inc()
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	e.metrics.Sequence.Set(float64(e.seq))

	for _, f := range oc.followUps {
		if err := f(ctx); err != nil {
			e.logger.Error().Err(err).Str("op", op).Msg("follow-up failed")
		}
	}
	return nil
}

func (e *Engine) reject(op string, err error) {
	code := "internal"
	if c, ok := riskerr.CodeOf(err); ok {
		code = c.Name()
	}
	e.metrics.OpsRejected.WithLabelValues(op, code).Inc()
	e.logger.Debug().Err(err).Str("op", op).Str("code", code).Msg("operation rejected")
}

// sequence assigns the next sequence number and chains the envelope hash.
func (e *Engine) sequence(now int64, evt event.Event) (*event.Envelope, error) {
	seq := e.seq + 1
	env, err := event.NewEnvelope(e.ids.Next(), seq, now, evt)
	if err != nil {
		return nil, err
	}
	env.PrevHash = e.hasher.Tip()
	env.StateHash = e.hasher.ComputeHash(seq, env.Digest())
	e.seq = seq
	return env, nil
}

// emit hands the output to persistence (blocking) and sinks (non-blocking).
func (e *Engine) emit(out Output) {
	if len(out.Envelopes) == 0 && out.Batch.IsEmpty() {
		return
	}
	if e.persist != nil {
		e.persist <- out
	}
	for _, s := range e.sinks {
		s.Publish(out)
	}
}
