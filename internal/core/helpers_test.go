package core_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/ledger"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

// --- Test helpers ---

const (
	testSymbol = "BTC-PERP"
	testFeed   = "BTC/USD"
	testAsset  = "USDC"
	startTs    = 1_700_000_000

	price100 = 100_000_000
)

type fixedClock struct{ now int64 }

func (c *fixedClock) Now() int64        { return c.now }
func (c *fixedClock) advance(secs int64) { c.now += secs }

type fixture struct {
	t       *testing.T
	ctx     context.Context
	eng     *core.Engine
	clock   *fixedClock
	persist chan core.Output
	asset   ledger.AssetID

	admin   uuid.UUID
	feeDest uuid.UUID
	vault   uuid.UUID
}

// newFixture boots an engine with a USDC config (10 bps trade fee, 5%
// liquidation fee), one BTC market (6.25% maintenance, 20x cap) priced at
// 100, and a seeded custody vault.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	persist := make(chan core.Output, 4096)
	clock := &fixedClock{now: startTs}
	eng, err := core.NewEngine(core.Options{
		Store:   store.NewMemoryStore(),
		Clock:   clock,
		Logger:  zerolog.Nop(),
		Persist: persist,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	asset, _ := ledger.GetAssetID(testAsset)
	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		eng:     eng,
		clock:   clock,
		persist: persist,
		asset:   asset,
		admin:   uuid.New(),
		feeDest: uuid.New(),
		vault:   uuid.New(),
	}

	if _, err := eng.InitializeConfig(f.ctx, core.InitializeConfigRequest{
		Admin:          f.admin,
		QuoteAsset:     testAsset,
		FeeBps:         10,
		LiqFeeBps:      500,
		FeeDestination: f.feeDest,
		InsuranceVault: f.vault,
	}); err != nil {
		t.Fatalf("initialize config: %v", err)
	}
	if _, err := eng.CreateMarket(f.ctx, f.admin, marketParams(testSymbol, testFeed, "")); err != nil {
		t.Fatalf("create market: %v", err)
	}
	if err := eng.SeedVault(f.ctx, f.admin, 1_000_000); err != nil {
		t.Fatalf("seed vault: %v", err)
	}
	f.setPrice(testFeed, price100)
	drainOutputs(persist)
	return f
}

func marketParams(symbol, primary, secondary string) state.MarketParams {
	return state.MarketParams{
		Symbol:               symbol,
		BaseDecimals:         6,
		PrimaryFeed:          primary,
		SecondaryFeed:        secondary,
		SkewKBps:             100,
		MaxPositionBase:      1_000_000_000, // 1000 base
		MaintenanceMarginBps: 625,
		TakerLeverageCap:     20,
		BaseReserveFP:        1_000_000_000_000,
		QuoteReserveFP:       1_000_000_000_000,
	}
}

func (f *fixture) setPrice(feed string, priceFP int64) {
	f.t.Helper()
	if _, err := f.eng.UpdateOraclePrice(f.ctx, core.PriceUpdate{
		Publisher:     ledger.ProtocolAuthority,
		Feed:          feed,
		PriceFP:       priceFP,
		ConfidenceFP:  priceFP / 10_000,
		NumPublishers: 5,
	}); err != nil {
		f.t.Fatalf("set price %d on %s: %v", priceFP, feed, err)
	}
}

// movePrice walks the feed to target in steps the circuit breaker accepts.
func (f *fixture) movePrice(targets ...int64) {
	f.t.Helper()
	for _, p := range targets {
		f.setPrice(testFeed, p)
	}
}

func (f *fixture) trader(deposit int64) uuid.UUID {
	f.t.Helper()
	owner := uuid.New()
	if err := f.eng.DepositWallet(f.ctx, f.admin, owner, deposit); err != nil {
		f.t.Fatalf("deposit wallet: %v", err)
	}
	return owner
}

func (f *fixture) open(owner uuid.UUID, isLong bool, quote, leverage int64) *state.UserPosition {
	f.t.Helper()
	p, err := f.eng.OpenPosition(f.ctx, core.OpenPositionRequest{
		Owner:        owner,
		Symbol:       testSymbol,
		IsLong:       isLong,
		QuoteToSpend: quote,
		Leverage:     leverage,
	})
	if err != nil {
		f.t.Fatalf("open position: %v", err)
	}
	return p
}

func (f *fixture) position(owner uuid.UUID) *state.UserPosition {
	f.t.Helper()
	p, err := f.eng.Position(f.ctx, owner, testSymbol)
	if err != nil {
		f.t.Fatalf("get position: %v", err)
	}
	return p
}

func (f *fixture) market() *state.Market {
	f.t.Helper()
	m, err := f.eng.Market(f.ctx, testSymbol)
	if err != nil {
		f.t.Fatalf("get market: %v", err)
	}
	return m
}

func (f *fixture) wallet(owner uuid.UUID) int64 {
	return f.eng.Ledger().Balance(ledger.WalletKey(owner, f.asset))
}

func (f *fixture) custody() int64 {
	return f.eng.Ledger().Balance(ledger.CustodyVaultKey(f.asset))
}

func (f *fixture) insuranceVault() int64 {
	return f.eng.Ledger().Balance(ledger.InsuranceVaultKey(f.vault, f.asset))
}

// updateConfig edits the stored config directly, for knobs no admin
// operation exposes.
func (f *fixture) updateConfig(fn func(cfg *state.Config)) {
	f.t.Helper()
	err := f.eng.Store().Update(f.ctx, func(tx store.Tx) error {
		cfg, err := tx.GetConfig()
		if err != nil {
			return err
		}
		fn(cfg)
		return tx.PutConfig(cfg)
	})
	if err != nil {
		f.t.Fatalf("update config: %v", err)
	}
}

func drainOutputs(ch chan core.Output) []core.Output {
	var outputs []core.Output
	for {
		select {
		case o := <-ch:
			outputs = append(outputs, o)
		default:
			return outputs
		}
	}
}

func envelopes(outputs []core.Output) []*event.Envelope {
	var envs []*event.Envelope
	for _, o := range outputs {
		envs = append(envs, o.Envelopes...)
	}
	return envs
}

func hasEvent(outputs []core.Output, typ event.EventType) bool {
	for _, env := range envelopes(outputs) {
		if env.Type == typ {
			return true
		}
	}
	return false
}

func unmarshalPayload(env *event.Envelope, v interface{}) error {
	return json.Unmarshal(env.Payload, v)
}

func requireCode(t *testing.T, err error, want riskerr.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", want.Name())
	}
	got, ok := riskerr.CodeOf(err)
	if !ok {
		t.Fatalf("expected %s, got uncoded error: %v", want.Name(), err)
	}
	if got != want {
		t.Fatalf("expected %s, got %s (%v)", want.Name(), got.Name(), err)
	}
}
