package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

var errAbort = errors.New("abort")

// runConformance exercises the Tx contract against any backend.
func runConformance(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	bob := uuid.MustParse("00000000-0000-0000-0000-00000000000b")

	t.Run("missing records", func(t *testing.T) {
		err := s.View(ctx, func(tx store.Tx) error {
			_, err := tx.GetMarket("NOPE")
			assert.ErrorIs(t, err, store.ErrNotFound)
			_, err = tx.GetPosition(alice, "NOPE")
			assert.ErrorIs(t, err, store.ErrNotFound)

			p, err := tx.GetOrCreatePosition(alice, "NOPE")
			require.NoError(t, err)
			assert.True(t, p.IsEmpty())
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("commit and read back", func(t *testing.T) {
		err := s.Update(ctx, func(tx store.Tx) error {
			require.NoError(t, tx.PutMarket(&state.Market{Symbol: "BTC", MaintenanceMarginBps: 625}))
			require.NoError(t, tx.PutPosition(&state.UserPosition{Owner: bob, Symbol: "BTC", IsLong: true, BaseSize: 5}))
			require.NoError(t, tx.PutPosition(&state.UserPosition{Owner: alice, Symbol: "BTC", BaseSize: -3}))
			require.NoError(t, tx.PutPosition(state.NewUserPosition(alice, "ETH")))
			return tx.PutInsuranceFund(&state.InsuranceFund{TotalDeposits: 10})
		})
		require.NoError(t, err)

		err = s.View(ctx, func(tx store.Tx) error {
			m, err := tx.GetMarket("BTC")
			require.NoError(t, err)
			assert.Equal(t, int64(625), m.MaintenanceMarginBps)

			open, err := tx.ListPositions("BTC")
			require.NoError(t, err)
			require.Len(t, open, 2)
			assert.Equal(t, alice, open[0].Owner, "sorted by owner")

			n, err := tx.CountOpenPositions(alice)
			require.NoError(t, err)
			assert.Equal(t, int64(1), n, "empty ETH position is not counted")

			f, err := tx.GetInsuranceFund()
			require.NoError(t, err)
			assert.Equal(t, uint64(10), f.TotalDeposits)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("failed update leaves no trace", func(t *testing.T) {
		err := s.Update(ctx, func(tx store.Tx) error {
			m, err := tx.GetMarket("BTC")
			require.NoError(t, err)
			m.IsPaused = true
			require.NoError(t, tx.PutMarket(m))
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		_ = s.View(ctx, func(tx store.Tx) error {
			m, err := tx.GetMarket("BTC")
			require.NoError(t, err)
			assert.False(t, m.IsPaused)
			return nil
		})
	})

	t.Run("view is read-only", func(t *testing.T) {
		err := s.View(ctx, func(tx store.Tx) error {
			return tx.PutMarket(&state.Market{Symbol: "X"})
		})
		assert.Error(t, err)
	})

	t.Run("stop loss listing", func(t *testing.T) {
		err := s.Update(ctx, func(tx store.Tx) error {
			o, err := tx.GetOrCreateStopLoss(alice, "BTC")
			require.NoError(t, err)
			o.Activate(90_000_000, 50, false, 1)
			require.NoError(t, tx.PutStopLoss(o))
			return tx.PutStopLoss(state.NewStopLossOrder(bob, "BTC"))
		})
		require.NoError(t, err)

		_ = s.View(ctx, func(tx store.Tx) error {
			active, err := tx.ListActiveStopLosses("BTC")
			require.NoError(t, err)
			require.Len(t, active, 1)
			assert.Equal(t, int64(50), active[0].ClosePercentage)
			return nil
		})
	})

	t.Run("oracle history round trip", func(t *testing.T) {
		o := state.NewOraclePrice("BTC")
		o.PriceFP = 100
		o.PushHistory(100)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error { return tx.PutOraclePrice(o) }))

		_ = s.View(ctx, func(tx store.Tx) error {
			got, err := tx.GetOraclePrice("BTC")
			require.NoError(t, err)
			assert.Equal(t, []int64{100}, got.History)
			return nil
		})
	})
}
