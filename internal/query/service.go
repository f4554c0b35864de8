package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
)

const (
	DefaultPageSize = 100
	MaxPageSize     = 1000
	maxReported     = 10
)

// QueryService provides read-only access to the persisted event log and
// journal. Live state (positions, markets, the fund) is read from the
// engine; this service answers history and audit questions.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// ClampLimit bounds a requested page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

// Events returns persisted events in sequence order.
func (qs *QueryService) Events(ctx context.Context, f EventFilter) ([]EventRecord, error) {
	query := `
		SELECT sequence, event_id, event_type, COALESCE(symbol, ''), payload, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence > $1
	`
	args := []interface{}{f.AfterSequence}
	argIdx := 2

	if f.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, f.Symbol)
		argIdx++
	}
	if f.Type != "" {
		if _, ok := event.ParseEventType(f.Type); !ok {
			return nil, fmt.Errorf("unknown event type %q", f.Type)
		}
		query += fmt.Sprintf(" AND event_type = $%d", argIdx)
		args = append(args, f.Type)
		argIdx++
	}

	query += " ORDER BY sequence ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(f.Limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var (
			r         EventRecord
			payload   []byte
			state, pv []byte
			ts        time.Time
		)
		if err := rows.Scan(&r.Sequence, &r.EventID, &r.Type, &r.Symbol, &payload, &state, &pv, &ts); err != nil {
			return nil, err
		}
		r.Payload = payload
		copy(r.StateHash[:], state)
		copy(r.PrevHash[:], pv)
		r.Timestamp = ts.Unix()
		records = append(records, r)
	}
	return records, rows.Err()
}

// Envelope rebuilds the envelope the chain hash was computed over.
func (r EventRecord) Envelope() (*event.Envelope, error) {
	typ, ok := event.ParseEventType(r.Type)
	if !ok {
		return nil, fmt.Errorf("unknown event type %q at sequence %d", r.Type, r.Sequence)
	}
	return &event.Envelope{
		ID:        r.EventID,
		Sequence:  r.Sequence,
		Type:      typ,
		Symbol:    r.Symbol,
		Timestamp: r.Timestamp,
		Payload:   r.Payload,
		StateHash: r.StateHash,
		PrevHash:  r.PrevHash,
	}, nil
}

// GetJournalHistory returns journal entries touching a user's wallet,
// newest first, with sequence < beforeSequence when it is set.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	beforeSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		       authority, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e       JournalHistoryEntry
			assetID int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Authority, &assetID,
			&e.Amount, &e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Asset, _ = ledger.GetAssetName(ledger.AssetID(assetID))
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AccountBalance replays one account's balance from the journal.
func (qs *QueryService) AccountBalance(ctx context.Context, account string) (int64, error) {
	if _, err := ledger.ParseAccountPath(account); err != nil {
		return 0, err
	}
	var balance int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN debit_account = $1 THEN amount ELSE 0 END), 0) -
			COALESCE(SUM(CASE WHEN credit_account = $1 THEN amount ELSE 0 END), 0)
		FROM event_log.journal
		WHERE debit_account = $1 OR credit_account = $1
	`, account).Scan(&balance)
	return balance, err
}

// LastSequence is the newest persisted sequence.
func (qs *QueryService) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) FROM event_log.events
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return seq, err
}

// --- Admin APIs ---

// VerifyIntegrity recomputes the hash chain over the persisted events and
// checks the journal: every journal belongs to a persisted event and no
// internal account replays to a negative balance.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	var (
		prev    event.Hash
		started bool
		after   int64
	)
	for {
		page, err := qs.Events(ctx, EventFilter{AfterSequence: after, Limit: MaxPageSize})
		if err != nil {
			return nil, err
		}
		for _, r := range page {
			env, err := r.Envelope()
			if err != nil {
				return nil, err
			}
			if !started {
				// A pruned log is verified from its first retained event.
				prev = env.PrevHash
				if env.Sequence == 1 {
					prev = core.GenesisHash()
				}
				started = true
			}
			broken := env.Sequence != after+1 && after != 0
			if env.PrevHash != prev {
				broken = true
			}
			if core.RestoreStateHasher(env.PrevHash).ComputeHash(env.Sequence, env.Digest()) != env.StateHash {
				broken = true
			}
			if broken && len(report.HashChainBreaks) < maxReported {
				report.HashChainBreaks = append(report.HashChainBreaks, env.Sequence)
			}
			prev = env.StateHash
			after = env.Sequence
			report.CheckedEvents++
		}
		if len(page) < MaxPageSize {
			break
		}
	}
	report.LastSequence = after

	orphans, err := qs.db.QueryContext(ctx, `
		SELECT DISTINCT j.sequence
		FROM event_log.journal j
		LEFT JOIN event_log.events e ON e.sequence = j.sequence
		WHERE e.sequence IS NULL
		ORDER BY j.sequence
		LIMIT $1
	`, maxReported)
	if err != nil {
		return nil, err
	}
	defer orphans.Close()
	for orphans.Next() {
		var seq int64
		if err := orphans.Scan(&seq); err != nil {
			return nil, err
		}
		report.OrphanJournals = append(report.OrphanJournals, seq)
	}
	if err := orphans.Err(); err != nil {
		return nil, err
	}

	negatives, err := qs.db.QueryContext(ctx, `
		WITH moves AS (
			SELECT debit_account AS account, amount FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account, -amount FROM event_log.journal
		)
		SELECT account, SUM(amount)
		FROM moves
		WHERE account NOT LIKE 'external:%'
		GROUP BY account
		HAVING SUM(amount) < 0
		ORDER BY account
		LIMIT $1
	`, maxReported)
	if err != nil {
		return nil, err
	}
	defer negatives.Close()
	for negatives.Next() {
		var b AccountBalance
		if err := negatives.Scan(&b.Account, &b.Balance); err != nil {
			return nil, err
		}
		report.NegativeAccounts = append(report.NegativeAccounts, b)
	}
	if err := negatives.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 &&
		len(report.OrphanJournals) == 0 &&
		len(report.NegativeAccounts) == 0
	return report, nil
}

// ParseCursor parses an optional sequence cursor from a query string.
func ParseCursor(s string) (*int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	seq, err := strconv.ParseInt(s, 10, 64)
	if err != nil || seq < 0 {
		return nil, fmt.Errorf("invalid cursor %q", s)
	}
	return &seq, nil
}
