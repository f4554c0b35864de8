package ledger_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/ledger"
	"PerpRisk/internal/riskerr"
)

func usdc(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("USDC")
	if !ok {
		t.Fatal("USDC should be a known asset")
	}
	return id
}

func newService() *ledger.Service {
	return ledger.NewService(zerolog.Nop())
}

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_WalletPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.WalletKey(userID, usdc(t))

	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:USDC"
	if path := key.AccountPath(); path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_SystemPaths(t *testing.T) {
	if path := ledger.CustodyVaultKey(usdc(t)).AccountPath(); path != "system:custody_vault:USDC" {
		t.Errorf("custody: got %q", path)
	}

	vault := uuid.MustParse("00000000-0000-0000-0000-000000000042")
	want := "system:insurance_vault:00000000-0000-0000-0000-000000000042:USDC"
	if path := ledger.InsuranceVaultKey(vault, usdc(t)).AccountPath(); path != want {
		t.Errorf("insurance: got %q", path)
	}
}

func TestAccountKey_ExternalPath(t *testing.T) {
	key := ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc(t))
	if path := key.AccountPath(); path != "external:deposits:USDC" {
		t.Errorf("got %q, want %q", path, "external:deposits:USDC")
	}
	if !key.IsExternal() {
		t.Error("deposits boundary is external")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.WalletKey(uuid.New(), usdc(t)),
		ledger.CustodyVaultKey(usdc(t)),
		ledger.InsuranceVaultKey(uuid.New(), usdc(t)),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, usdc(t)),
		ledger.NewExternalAccountKey(ledger.SubTypeExternalWithdrawals, usdc(t)),
	}
	for _, key := range keys {
		got, err := ledger.ParseAccountPath(key.AccountPath())
		if err != nil {
			t.Errorf("%s: %v", key.AccountPath(), err)
			continue
		}
		if got != key {
			t.Errorf("%s: parsed key differs", key.AccountPath())
		}
	}

	for _, bad := range []string{"", "user:nope:wallet:USDC", "system:custody_vault:DOGE", "external:fees:USDC"} {
		if _, err := ledger.ParseAccountPath(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Batch
// ============================================================================

func TestBatch_AddSkipsZero(t *testing.T) {
	asset := usdc(t)
	b := ledger.NewBatch("op", 1, 100)
	b.Add(ledger.CustodyVaultKey(asset), ledger.WalletKey(uuid.New(), asset), ledger.ProtocolAuthority, 0, ledger.JournalTypeSettlement)
	if !b.IsEmpty() {
		t.Error("zero-amount leg should be dropped")
	}
}

func TestBatch_ValidateSelfTransfer(t *testing.T) {
	asset := usdc(t)
	key := ledger.CustodyVaultKey(asset)
	b := ledger.NewBatch("op", 1, 100)
	b.Add(key, key, ledger.ProtocolAuthority, 5, ledger.JournalTypeSettlement)
	if err := b.Validate(); err == nil {
		t.Error("self transfer should be rejected")
	}
}

// ============================================================================
// Test: Service
// ============================================================================

func TestService_DepositAndTransfer(t *testing.T) {
	s := newService()
	asset := usdc(t)
	user := uuid.New()

	if _, err := s.DepositExternal(user, asset, 1_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := s.Transfer(ledger.WalletKey(user, asset), ledger.CustodyVaultKey(asset), user, 400, ledger.JournalTypeMarginDeposit); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := s.Tracker().GetWalletBalance(user, asset); got != 600 {
		t.Errorf("wallet: got %d, want 600", got)
	}
	if got := s.Balance(ledger.CustodyVaultKey(asset)); got != 400 {
		t.Errorf("vault: got %d, want 400", got)
	}
	if err := s.ValidateInvariants(); err != nil {
		t.Errorf("invariants: %v", err)
	}
}

func TestService_InsufficientBalanceIsAtomic(t *testing.T) {
	s := newService()
	asset := usdc(t)
	user := uuid.New()
	recipient := uuid.New()
	_, _ = s.DepositExternal(user, asset, 100)

	b := ledger.NewBatch("op", 1, 100)
	b.Add(ledger.WalletKey(user, asset), ledger.CustodyVaultKey(asset), user, 60, ledger.JournalTypeMarginDeposit)
	b.Add(ledger.CustodyVaultKey(asset), ledger.WalletKey(recipient, asset), ledger.ProtocolAuthority, 80, ledger.JournalTypeSettlement)

	err := s.Apply(b)
	if !errors.Is(err, riskerr.InsufficientBalance) {
		t.Fatalf("got %v, want InsufficientBalance", err)
	}
	if got := s.Tracker().GetWalletBalance(user, asset); got != 100 {
		t.Errorf("no leg may apply: wallet %d", got)
	}
}

func TestService_NetBatchMayRouteThroughVault(t *testing.T) {
	s := newService()
	asset := usdc(t)
	user := uuid.New()
	_, _ = s.DepositExternal(user, asset, 100)

	// margin in then straight out again within one operation
	b := ledger.NewBatch("op", 1, 100)
	b.Add(ledger.WalletKey(user, asset), ledger.CustodyVaultKey(asset), user, 100, ledger.JournalTypeMarginDeposit)
	b.Add(ledger.CustodyVaultKey(asset), ledger.WalletKey(user, asset), ledger.ProtocolAuthority, 90, ledger.JournalTypeSettlement)

	if err := s.Check(b); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := s.Apply(b); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := s.Balance(ledger.CustodyVaultKey(asset)); got != 10 {
		t.Errorf("vault: got %d", got)
	}
}

func TestService_Authority(t *testing.T) {
	s := newService()
	asset := usdc(t)
	user := uuid.New()
	_, _ = s.DepositExternal(user, asset, 100)

	tests := []struct {
		name      string
		from      ledger.AccountKey
		authority uuid.UUID
	}{
		{"other user spends wallet", ledger.WalletKey(user, asset), uuid.New()},
		{"protocol spends wallet", ledger.WalletKey(user, asset), ledger.ProtocolAuthority},
		{"user spends vault", ledger.CustodyVaultKey(asset), user},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := ledger.NewBatch("op", 1, 1)
			b.Add(tt.from, ledger.WalletKey(uuid.New(), asset), tt.authority, 1, ledger.JournalTypeSettlement)
			if err := s.Check(b); !errors.Is(err, riskerr.InvalidSigner) {
				t.Errorf("got %v, want InvalidSigner", err)
			}
		})
	}
}

func TestService_TransferRejectsNonPositive(t *testing.T) {
	s := newService()
	asset := usdc(t)
	_, err := s.Transfer(ledger.CustodyVaultKey(asset), ledger.WalletKey(uuid.New(), asset), ledger.ProtocolAuthority, 0, ledger.JournalTypeSettlement)
	if !errors.Is(err, riskerr.TokenTransferFailed) {
		t.Errorf("got %v", err)
	}
}

// ============================================================================
// Test: BalanceTracker snapshot/restore
// ============================================================================

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	s := newService()
	asset := usdc(t)
	user := uuid.New()
	_, _ = s.DepositExternal(user, asset, 250)

	snap := s.Tracker().Snapshot()
	restored := ledger.NewBalanceTracker()
	restored.Restore(snap)

	if got := restored.GetWalletBalance(user, asset); got != 250 {
		t.Errorf("restored wallet: got %d", got)
	}
	if totals := restored.ComputeGlobalBalance(); totals[asset] != 0 {
		t.Errorf("zero-sum after restore: %d", totals[asset])
	}

	// snapshot is a copy
	snap[ledger.WalletKey(user, asset)] = 1
	if got := s.Tracker().GetWalletBalance(user, asset); got != 250 {
		t.Errorf("snapshot aliasing: %d", got)
	}
}
