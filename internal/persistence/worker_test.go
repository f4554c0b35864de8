package persistence_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/persistence"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int
	calls    int
	events   []persistence.EventRow
	journals []persistence.JournalRow
}

func (f *fakeWriter) WriteBatch(_ context.Context, events []persistence.EventRow, journals []persistence.JournalRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection refused")
	}
	f.events = append(f.events, events...)
	f.journals = append(f.journals, journals...)
	return nil
}

func (f *fakeWriter) written() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events), len(f.journals)
}

func usdc(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC not registered")
	}
	return id
}

func output(t *testing.T, seq int64, owner uuid.UUID) core.Output {
	t.Helper()
	batch := ledger.NewBatch("open_position", seq, 1_700_000_000)
	batch.Add(ledger.WalletKey(owner, usdc(t)), ledger.CustodyVaultKey(usdc(t)), owner, 100, ledger.JournalTypeMarginDeposit)
	env := &event.Envelope{
		ID:        seq * 10,
		Sequence:  seq,
		Type:      event.EventTypePositionOpened,
		Symbol:    "BTC-PERP",
		Timestamp: 1_700_000_000,
		Payload:   json.RawMessage(`{}`),
	}
	return core.Output{Envelopes: []*event.Envelope{env}, Batch: batch}
}

// ============================================================================
// Test: row mapping
// ============================================================================

func TestRowsFrom(t *testing.T) {
	owner := uuid.New()
	events, journals := persistence.RowsFrom(output(t, 3, owner))
	if len(events) != 1 || len(journals) != 1 {
		t.Fatalf("rows: %d events, %d journals", len(events), len(journals))
	}
	if events[0].Sequence != 3 || events[0].EventType != "PositionOpened" || *events[0].Symbol != "BTC-PERP" {
		t.Errorf("event row: %+v", events[0])
	}
	if !events[0].Timestamp.Equal(time.Unix(1_700_000_000, 0)) {
		t.Errorf("timestamp: got %v", events[0].Timestamp)
	}
	j := journals[0]
	if j.CreditAccount != ledger.WalletKey(owner, usdc(t)).AccountPath() || j.DebitAccount != "system:custody_vault:USDC" {
		t.Errorf("journal accounts: credit %s debit %s", j.CreditAccount, j.DebitAccount)
	}
	if j.Amount != 100 || j.Sequence != 3 || j.JournalType != ledger.JournalTypeMarginDeposit.String() {
		t.Errorf("journal row: %+v", j)
	}

	protocol := core.Output{Envelopes: []*event.Envelope{{Sequence: 4, Type: event.EventTypeConfigUpdated}}}
	events, journals = persistence.RowsFrom(protocol)
	if events[0].Symbol != nil || journals != nil {
		t.Errorf("protocol-wide output: symbol %v journals %v", events[0].Symbol, journals)
	}
}

// ============================================================================
// Test: worker batching and retry
// ============================================================================

func TestWorker_FlushesFullBatch(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan core.Output, 8)
	worker := persistence.NewWorker(w, in, persistence.WorkerConfig{BatchSize: 2, FlushTimeout: time.Hour}, nil, zerolog.Nop())

	var flushed []int64
	worker.OnFlush(func(_ context.Context, last int64) { flushed = append(flushed, last) })

	owner := uuid.New()
	for seq := int64(1); seq <= 3; seq++ {
		in <- output(t, seq, owner)
	}
	close(in)
	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	events, journals := w.written()
	if events != 3 || journals != 3 {
		t.Errorf("written: %d events, %d journals", events, journals)
	}
	// One full batch, then the remainder on close.
	if len(flushed) != 2 || flushed[0] != 2 || flushed[1] != 3 {
		t.Errorf("flush sequences: %v", flushed)
	}
}

func TestWorker_FlushesOnTimeout(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan core.Output, 1)
	worker := persistence.NewWorker(w, in, persistence.WorkerConfig{BatchSize: 100, FlushTimeout: 5 * time.Millisecond}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	in <- output(t, 1, uuid.New())
	deadline := time.Now().Add(2 * time.Second)
	for {
		if n, _ := w.written(); n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for a timeout flush")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("run: got %v, want context.Canceled", err)
	}
}

func TestWorker_RetriesUntilWritten(t *testing.T) {
	w := &fakeWriter{failures: 2}
	in := make(chan core.Output, 1)
	worker := persistence.NewWorker(w, in, persistence.WorkerConfig{BatchSize: 1, FlushTimeout: time.Hour, MaxBackoff: 200 * time.Millisecond}, nil, zerolog.Nop())

	in <- output(t, 1, uuid.New())
	close(in)
	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if n, _ := w.written(); n != 1 {
		t.Errorf("events written: got %d, want 1", n)
	}
	if w.calls != 3 {
		t.Errorf("write attempts: got %d, want 3", w.calls)
	}
}
