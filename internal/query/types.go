package query

import (
	"encoding/json"

	"github.com/google/uuid"

	"PerpRisk/internal/event"
)

// EventFilter selects persisted events. Zero fields match everything.
type EventFilter struct {
	Symbol        string
	Type          string
	AfterSequence int64
	Limit         int
}

// EventRecord is a persisted event for API queries.
type EventRecord struct {
	Sequence  int64           `json:"sequence"`
	EventID   int64           `json:"event_id"`
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	StateHash event.Hash      `json:"state_hash"`
	PrevHash  event.Hash      `json:"prev_hash"`
	Timestamp int64           `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     uuid.UUID `json:"journal_id"`
	BatchID       uuid.UUID `json:"batch_id"`
	EventRef      string    `json:"event_ref"`
	Sequence      int64     `json:"sequence"`
	DebitAccount  string    `json:"debit_account"`
	CreditAccount string    `json:"credit_account"`
	Authority     uuid.UUID `json:"authority"`
	Asset         string    `json:"asset"`
	Amount        int64     `json:"amount"`
	JournalType   string    `json:"journal_type"`
	Timestamp     int64     `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool             `json:"is_healthy"`
	LastSequence     int64            `json:"last_sequence"`
	CheckedEvents    int64            `json:"checked_events"`
	HashChainBreaks  []int64          `json:"hash_chain_breaks,omitempty"`
	OrphanJournals   []int64          `json:"orphan_journals,omitempty"`
	NegativeAccounts []AccountBalance `json:"negative_accounts,omitempty"`
}

// AccountBalance is a balance replayed from the journal.
type AccountBalance struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
}
