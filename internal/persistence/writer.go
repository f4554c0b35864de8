package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
)

// EventRow is a row of event_log.events.
type EventRow struct {
	Sequence  int64
	EventID   int64
	EventType string
	Symbol    *string
	Payload   []byte
	StateHash []byte
	PrevHash  []byte
	Timestamp time.Time
}

// JournalRow is a row of event_log.journal.
type JournalRow struct {
	JournalID     uuid.UUID
	BatchID       uuid.UUID
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Authority     uuid.UUID
	AssetID       int32
	Amount        int64
	JournalType   string
	Timestamp     int64
}

// EventRowFrom flattens an envelope.
func EventRowFrom(env *event.Envelope) EventRow {
	row := EventRow{
		Sequence:  env.Sequence,
		EventID:   env.ID,
		EventType: env.Type.String(),
		Payload:   env.Payload,
		StateHash: env.StateHash[:],
		PrevHash:  env.PrevHash[:],
		Timestamp: time.Unix(env.Timestamp, 0).UTC(),
	}
	if env.Symbol != "" {
		s := env.Symbol
		row.Symbol = &s
	}
	return row
}

// RowsFrom flattens one engine output.
func RowsFrom(out core.Output) ([]EventRow, []JournalRow) {
	events := make([]EventRow, 0, len(out.Envelopes))
	for _, env := range out.Envelopes {
		events = append(events, EventRowFrom(env))
	}
	if out.Batch == nil {
		return events, nil
	}
	journals := make([]JournalRow, 0, len(out.Batch.Journals))
	for _, j := range out.Batch.Journals {
		journals = append(journals, JournalRow{
			JournalID:     j.JournalID,
			BatchID:       j.BatchID,
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Authority:     j.Authority,
			AssetID:       int32(j.AssetID),
			Amount:        j.Amount,
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return events, journals
}

var (
	eventColumns = []string{
		"sequence", "event_id", "event_type", "symbol", "payload", "state_hash", "prev_hash", "timestamp",
	}
	journalColumns = []string{
		"journal_id", "batch_id", "event_ref", "sequence", "debit_account", "credit_account",
		"authority", "asset_id", "amount", "journal_type", "timestamp",
	}
)

// EventLogWriter writes events and journals with the COPY protocol. Rows are
// copied into transaction-scoped staging tables and merged with ON CONFLICT
// DO NOTHING, so a batch retried after an ambiguous commit is a no-op.
type EventLogWriter struct {
	pool *pgxpool.Pool
}

func NewEventLogWriter(pool *pgxpool.Pool) *EventLogWriter {
	return &EventLogWriter{pool: pool}
}

// WriteBatch writes events and journals in one transaction.
func (w *EventLogWriter) WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error {
	if len(events) == 0 && len(journals) == 0 {
		return nil
	}
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := copyMerge(ctx, tx, "events", eventColumns, len(events), func(i int) []any {
		e := events[i]
		return []any{e.Sequence, e.EventID, e.EventType, e.Symbol, e.Payload, e.StateHash, e.PrevHash, e.Timestamp}
	}); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := copyMerge(ctx, tx, "journal", journalColumns, len(journals), func(i int) []any {
		j := journals[i]
		return []any{j.JournalID, j.BatchID, j.EventRef, j.Sequence, j.DebitAccount, j.CreditAccount,
			j.Authority, j.AssetID, j.Amount, j.JournalType, j.Timestamp}
	}); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	return tx.Commit(ctx)
}

func copyMerge(ctx context.Context, tx pgx.Tx, table string, columns []string, n int, row func(int) []any) error {
	if n == 0 {
		return nil
	}
	stage := "stage_" + table
	if _, err := tx.Exec(ctx, fmt.Sprintf(
		"CREATE TEMP TABLE IF NOT EXISTS %s (LIKE event_log.%s INCLUDING DEFAULTS) ON COMMIT DELETE ROWS", stage, table,
	)); err != nil {
		return err
	}
	if _, err := tx.CopyFrom(ctx, pgx.Identifier{stage}, columns, pgx.CopyFromSlice(n, func(i int) ([]any, error) {
		return row(i), nil
	})); err != nil {
		return err
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	cols := strings.Join(quoted, ", ")
	_, err := tx.Exec(ctx, fmt.Sprintf(
		"INSERT INTO event_log.%s (%s) SELECT %s FROM %s ON CONFLICT DO NOTHING", table, cols, cols, stage,
	))
	return err
}
