package projection_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpRisk/internal/core"
	"PerpRisk/internal/event"
	"PerpRisk/internal/observability"
	"PerpRisk/internal/projection"
)

const (
	timeoutWait = 2 * time.Second
	tick        = time.Millisecond
)

func envelope(t *testing.T, seq int64, evt event.Event) *event.Envelope {
	t.Helper()
	env, err := event.NewEnvelope(seq, seq, 1_700_000_000+seq, evt)
	require.NoError(t, err)
	return env
}

type fakeSource struct{ envs []*event.Envelope }

func (f *fakeSource) EventsFrom(_ context.Context, from int64, limit int) ([]*event.Envelope, error) {
	var out []*event.Envelope
	for _, env := range f.envs {
		if env.Sequence >= from && len(out) < limit {
			out = append(out, env)
		}
	}
	return out, nil
}

func history(t *testing.T, user, liquidator uuid.UUID) []*event.Envelope {
	t.Helper()
	return []*event.Envelope{
		envelope(t, 1, &event.FundingPaid{User: user, Market: "BTC-PERP", FundingAmountFP: 1_500_000, FundingRateFP: 100}),
		envelope(t, 2, &event.FundingPaid{User: user, Market: "ETH-PERP", FundingAmountFP: -250_000, FundingRateFP: -40}),
		envelope(t, 3, &event.LiquidationExecuted{
			Liquidator: liquidator, LiquidatedUser: user, Market: "BTC-PERP", Percentage: 50,
			LiquidationSize: 500_000, LiquidationPriceFP: 90_000_000, LiquidatorReward: 3, InsuranceFundContribution: 7,
		}),
		envelope(t, 4, &event.PartialLiquidation{User: user, Market: "BTC-PERP", Liquidator: liquidator, RemainingSize: 500_000}),
		envelope(t, 5, &event.FundingPaid{User: user, Market: "BTC-PERP", FundingAmountFP: 500_000, FundingRateFP: 80}),
	}
}

func TestWorker_Rebuild(t *testing.T) {
	user, liquidator := uuid.New(), uuid.New()
	w := projection.NewWorker(8, 10, nil, zerolog.Nop())

	n, err := w.Rebuild(context.Background(), &fakeSource{envs: history(t, user, liquidator)}, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), w.LastSequence())

	funding := w.Funding.QueryByUser(user, "", 10)
	require.Len(t, funding, 3)
	assert.Equal(t, int64(5), funding[0].Sequence, "newest first")
	assert.Len(t, w.Funding.QueryByUser(user, "ETH-PERP", 10), 1)
	assert.Equal(t, int64(2_000_000), w.Funding.NetPaidFP(user, "BTC-PERP"))

	liqs := w.Liquidations.QueryByUser(user, "BTC-PERP", 10)
	require.Len(t, liqs, 1)
	assert.True(t, liqs[0].Partial())
	assert.Equal(t, int64(500_000), liqs[0].RemainingSize)
	assert.Equal(t, liquidator, liqs[0].Liquidator)
	assert.Equal(t, int64(7), w.Liquidations.DeficitTotal("BTC-PERP"))

	// A second rebuild starts from scratch.
	_, err = w.Rebuild(context.Background(), &fakeSource{envs: history(t, user, liquidator)}, 100)
	require.NoError(t, err)
	assert.Len(t, w.Funding.QueryByUser(user, "", 10), 3)
	assert.Equal(t, int64(7), w.Liquidations.DeficitTotal("BTC-PERP"))
}

func TestWorker_RunSkipsAppliedSequences(t *testing.T) {
	user := uuid.New()
	w := projection.NewWorker(8, 10, nil, zerolog.Nop())
	envs := history(t, user, uuid.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	w.Publish(core.Output{Envelopes: envs[:2]})
	w.Publish(core.Output{Envelopes: envs[:2]})
	w.Publish(core.Output{Envelopes: envs[2:]})
	require.Eventually(t, func() bool { return w.LastSequence() == 5 }, timeoutWait, tick)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, w.Funding.QueryByUser(user, "", 10), 3)
}

func TestWorker_PublishDropsWhenFull(t *testing.T) {
	m := observability.NewTestMetrics()
	w := projection.NewWorker(1, 10, m, zerolog.Nop())
	w.Publish(core.Output{})
	w.Publish(core.Output{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishDrops.WithLabelValues("projection")))
}

func TestFundingHistory_CapPerUser(t *testing.T) {
	p := projection.NewFundingHistoryProjection(2)
	user := uuid.New()
	for seq := int64(1); seq <= 3; seq++ {
		p.AddEntry(projection.FundingHistoryEntry{User: user, Market: "BTC-PERP", Sequence: seq})
	}
	got := p.QueryByUser(user, "", 10)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].Sequence)
	assert.Equal(t, int64(2), got[1].Sequence)
}
