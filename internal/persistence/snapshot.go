package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/observability"
)

// SnapshotData is the engine state needed to resume without a full replay:
// the chain position, ledger balances and ingestion sequence state.
type SnapshotData struct {
	Sequence       int64            `json:"sequence"`
	ChainTip       event.Hash       `json:"chain_tip"`
	Balances       []BalanceEntry   `json:"balances"`
	PriceSequences map[string]int64 `json:"price_sequences,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// BalanceEntry is one ledger account balance keyed by its account path.
type BalanceEntry struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}

// NewSnapshotData captures a checkpoint. Balances are sorted by path so
// equal states encode identically.
func NewSnapshotData(cp core.Checkpoint, priceSequences map[string]int64) *SnapshotData {
	entries := make([]BalanceEntry, 0, len(cp.Balances))
	for k, v := range cp.Balances {
		entries = append(entries, BalanceEntry{Account: k.AccountPath(), Balance: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Account < entries[j].Account })
	return &SnapshotData{
		Sequence:       cp.Sequence,
		ChainTip:       cp.ChainTip,
		Balances:       entries,
		PriceSequences: priceSequences,
		CreatedAt:      time.Now().UTC(),
	}
}

// BalanceMap decodes the balances back into ledger keys.
func (s *SnapshotData) BalanceMap() (map[ledger.AccountKey]int64, error) {
	out := make(map[ledger.AccountKey]int64, len(s.Balances))
	for _, b := range s.Balances {
		key, err := ledger.ParseAccountPath(b.Account)
		if err != nil {
			return nil, err
		}
		out[key] = b.Balance
	}
	return out, nil
}

// SnapshotManager creates and loads snapshots and reads the event log back
// for recovery.
type SnapshotManager struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
	logger  zerolog.Logger
}

func NewSnapshotManager(pool *pgxpool.Pool, metrics *observability.Metrics, logger zerolog.Logger) *SnapshotManager {
	if metrics == nil {
		metrics = observability.NewTestMetrics()
	}
	return &SnapshotManager{pool: pool, metrics: metrics, logger: logger.With().Str("component", "snapshots").Logger()}
}

// Save persists a snapshot.
func (sm *SnapshotManager) Save(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = sm.pool.Exec(ctx, `
		INSERT INTO event_log.snapshots (snapshot_id, sequence, state_hash, data, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.New(), snap.Sequence, snap.ChainTip[:], data, snap.CreatedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	sm.metrics.SnapshotTaken.Inc()
	sm.logger.Info().Int64("sequence", snap.Sequence).Int("accounts", len(snap.Balances)).Msg("snapshot saved")
	return nil
}

// LoadLatest returns the newest snapshot, or nil on a cold start.
func (sm *SnapshotManager) LoadLatest(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.pool.QueryRow(ctx, `
		SELECT data FROM event_log.snapshots ORDER BY sequence DESC, created_at DESC LIMIT 1
	`).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LatestEvent returns the highest persisted sequence and its state hash.
func (sm *SnapshotManager) LatestEvent(ctx context.Context) (int64, event.Hash, error) {
	var (
		seq  int64
		raw  []byte
		hash event.Hash
	)
	err := sm.pool.QueryRow(ctx, `
		SELECT sequence, state_hash FROM event_log.events ORDER BY sequence DESC LIMIT 1
	`).Scan(&seq, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, hash, nil
	}
	if err != nil {
		return 0, hash, fmt.Errorf("latest event: %w", err)
	}
	copy(hash[:], raw)
	return seq, hash, nil
}

// JournalsAfter loads journal entries with sequence > after in write order.
func (sm *SnapshotManager) JournalsAfter(ctx context.Context, after int64) ([]JournalRow, error) {
	rows, err := sm.pool.Query(ctx, `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       authority, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE sequence > $1
		ORDER BY sequence ASC, journal_id ASC
	`, after)
	if err != nil {
		return nil, fmt.Errorf("load journals: %w", err)
	}
	defer rows.Close()

	var out []JournalRow
	for rows.Next() {
		var j JournalRow
		if err := rows.Scan(&j.JournalID, &j.BatchID, &j.EventRef, &j.Sequence, &j.DebitAccount,
			&j.CreditAccount, &j.Authority, &j.AssetID, &j.Amount, &j.JournalType, &j.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// EventsFrom loads envelopes with sequence >= from for chain verification.
func (sm *SnapshotManager) EventsFrom(ctx context.Context, from int64, limit int) ([]*event.Envelope, error) {
	rows, err := sm.pool.Query(ctx, `
		SELECT sequence, event_id, event_type, COALESCE(symbol, ''), payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	defer rows.Close()

	var out []*event.Envelope
	for rows.Next() {
		var (
			env       event.Envelope
			typ       string
			state, pv []byte
			ts        time.Time
		)
		if err := rows.Scan(&env.Sequence, &env.ID, &typ, &env.Symbol, &env.Payload, &state, &pv, &ts); err != nil {
			return nil, err
		}
		if err := env.Type.UnmarshalText([]byte(typ)); err != nil {
			return nil, err
		}
		copy(env.StateHash[:], state)
		copy(env.PrevHash[:], pv)
		env.Timestamp = ts.Unix()
		out = append(out, &env)
	}
	return out, rows.Err()
}

// RecoveryPoint is where a restarted engine resumes.
type RecoveryPoint struct {
	Sequence       int64
	ChainTip       *event.Hash
	Balances       map[ledger.AccountKey]int64
	PriceSequences map[string]int64
	Replayed       int
}

// Recover rebuilds the ledger from the latest snapshot plus the journals
// written after it, and resumes the chain from the newest persisted event.
func (sm *SnapshotManager) Recover(ctx context.Context) (*RecoveryPoint, error) {
	rp := &RecoveryPoint{Balances: make(map[ledger.AccountKey]int64)}

	snap, err := sm.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	if snap != nil {
		if rp.Balances, err = snap.BalanceMap(); err != nil {
			return nil, err
		}
		rp.Sequence = snap.Sequence
		tip := snap.ChainTip
		rp.ChainTip = &tip
		rp.PriceSequences = snap.PriceSequences
	}

	journals, err := sm.JournalsAfter(ctx, rp.Sequence)
	if err != nil {
		return nil, err
	}
	if err := ReplayJournals(rp.Balances, journals); err != nil {
		return nil, err
	}
	rp.Replayed = len(journals)

	seq, tip, err := sm.LatestEvent(ctx)
	if err != nil {
		return nil, err
	}
	if seq > rp.Sequence {
		rp.Sequence = seq
		rp.ChainTip = &tip
	}
	sm.logger.Info().
		Int64("sequence", rp.Sequence).
		Bool("from_snapshot", snap != nil).
		Int("journals_replayed", rp.Replayed).
		Msg("recovery point loaded")
	return rp, nil
}

// ReplayJournals applies persisted transfers to a balance map.
func ReplayJournals(balances map[ledger.AccountKey]int64, journals []JournalRow) error {
	for _, j := range journals {
		debit, err := ledger.ParseAccountPath(j.DebitAccount)
		if err != nil {
			return fmt.Errorf("journal %s: %w", j.JournalID, err)
		}
		credit, err := ledger.ParseAccountPath(j.CreditAccount)
		if err != nil {
			return fmt.Errorf("journal %s: %w", j.JournalID, err)
		}
		balances[debit] += j.Amount
		balances[credit] -= j.Amount
	}
	return nil
}

// Snapshotter saves a snapshot every interval persisted events. It is
// driven by the worker's flush callback.
type Snapshotter struct {
	manager  *SnapshotManager
	interval int64
	capture  func() *SnapshotData
	last     int64
}

func NewSnapshotter(manager *SnapshotManager, interval int64, capture func() *SnapshotData) *Snapshotter {
	return &Snapshotter{manager: manager, interval: interval, capture: capture}
}

// SetLast sets the sequence of the snapshot the engine resumed from.
func (s *Snapshotter) SetLast(seq int64) { s.last = seq }

// Due reports whether a snapshot should be taken at lastSequence.
func (s *Snapshotter) Due(lastSequence int64) bool {
	return s.interval > 0 && lastSequence-s.last >= s.interval
}

// OnFlush is a Worker flush callback.
func (s *Snapshotter) OnFlush(ctx context.Context, lastSequence int64) {
	if !s.Due(lastSequence) {
		return
	}
	snap := s.capture()
	if err := s.manager.Save(ctx, snap); err != nil {
		s.manager.logger.Warn().Err(err).Int64("sequence", snap.Sequence).Msg("snapshot failed")
		return
	}
	s.last = snap.Sequence
}
