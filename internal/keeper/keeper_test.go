package keeper_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpRisk/internal/core"
	"PerpRisk/internal/keeper"
	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

type call struct {
	op     string
	owner  uuid.UUID
	symbol string
	pct    int64
}

type fakeEngine struct {
	markets    []*state.Market
	candidates map[string]*core.Candidates
	candErr    map[string]error
	fundingErr error
	liqErr     error
	calls      []call
}

func (f *fakeEngine) Markets(context.Context) ([]*state.Market, error) { return f.markets, nil }

func (f *fakeEngine) Candidates(_ context.Context, symbol string) (*core.Candidates, error) {
	if err := f.candErr[symbol]; err != nil {
		return nil, err
	}
	return f.candidates[symbol], nil
}

func (f *fakeEngine) ExecuteStopLoss(_ context.Context, _, owner uuid.UUID, symbol string) (*core.CloseResult, error) {
	f.calls = append(f.calls, call{op: "stop_loss", owner: owner, symbol: symbol})
	return &core.CloseResult{}, nil
}

func (f *fakeEngine) Liquidate(_ context.Context, _, owner uuid.UUID, symbol string) (*core.LiquidationResult, error) {
	f.calls = append(f.calls, call{op: "liquidate", owner: owner, symbol: symbol, pct: 100})
	return &core.LiquidationResult{}, f.liqErr
}

func (f *fakeEngine) EnhancedLiquidate(_ context.Context, _, owner uuid.UUID, symbol string, pct int64) (*core.LiquidationResult, error) {
	f.calls = append(f.calls, call{op: "liquidate", owner: owner, symbol: symbol, pct: pct})
	return &core.LiquidationResult{}, f.liqErr
}

func (f *fakeEngine) SettleFunding(_ context.Context, symbol string) (*core.FundingResult, error) {
	f.calls = append(f.calls, call{op: "funding", symbol: symbol})
	return &core.FundingResult{}, f.fundingErr
}

func TestSweep_StopLossBeforeLiquidation(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	eng := &fakeEngine{
		markets: []*state.Market{{Symbol: "BTC-PERP"}, {Symbol: "ETH-PERP", IsPaused: true}},
		candidates: map[string]*core.Candidates{
			"BTC-PERP": {Liquidatable: []uuid.UUID{b}, StopLosses: []uuid.UUID{a}},
		},
	}
	k := keeper.New(eng, keeper.Config{Liquidator: uuid.New()}, zerolog.Nop())

	rep, err := k.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keeper.Report{StopLosses: 1, Liquidations: 1}, rep)
	require.Len(t, eng.calls, 2, "paused markets are skipped")
	assert.Equal(t, call{op: "stop_loss", owner: a, symbol: "BTC-PERP"}, eng.calls[0])
	assert.Equal(t, call{op: "liquidate", owner: b, symbol: "BTC-PERP", pct: 100}, eng.calls[1])
}

func TestSweep_PartialLiquidationAndFunding(t *testing.T) {
	owner := uuid.New()
	eng := &fakeEngine{
		markets:    []*state.Market{{Symbol: "BTC-PERP"}},
		candidates: map[string]*core.Candidates{"BTC-PERP": {Liquidatable: []uuid.UUID{owner}}},
		fundingErr: riskerr.Wrap(riskerr.FundingRateError, "interval not elapsed"),
	}
	k := keeper.New(eng, keeper.Config{MaxLiquidationPct: 25, SettleFunding: true}, zerolog.Nop())

	rep, err := k.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keeper.Report{Liquidations: 1}, rep, "an early funding call is not a failure")
	require.Len(t, eng.calls, 2)
	assert.Equal(t, "funding", eng.calls[0].op)
	assert.Equal(t, int64(25), eng.calls[1].pct)
}

func TestSweep_Failures(t *testing.T) {
	owner := uuid.New()
	eng := &fakeEngine{
		markets: []*state.Market{{Symbol: "BTC-PERP"}, {Symbol: "SOL-PERP"}},
		candidates: map[string]*core.Candidates{
			"BTC-PERP": {Liquidatable: []uuid.UUID{owner}},
		},
		candErr: map[string]error{"SOL-PERP": riskerr.Wrap(riskerr.BadOracle, "stale")},
		liqErr:  riskerr.Wrap(riskerr.PositionNotFound, "closed by stop loss"),
	}
	k := keeper.New(eng, keeper.Config{}, zerolog.Nop())

	rep, err := k.Sweep(context.Background())
	require.NoError(t, err)
	// A stale oracle and an already closed position are both expected races.
	assert.Equal(t, keeper.Report{}, rep)
}
