package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpRisk/internal/state"
	"PerpRisk/internal/store"
)

func TestMemoryStore_Conformance(t *testing.T) {
	runConformance(t, store.NewMemoryStore())
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.PutMarket(&state.Market{Symbol: "BTC"})
	}))

	_ = s.View(ctx, func(tx store.Tx) error {
		m, _ := tx.GetMarket("BTC")
		m.TotalLongSize = 99
		return nil
	})
	_ = s.View(ctx, func(tx store.Tx) error {
		m, _ := tx.GetMarket("BTC")
		assert.Zero(t, m.TotalLongSize, "mutation outside Put must not leak")
		return nil
	})
}

func TestMemoryStore_ReadYourWrites(t *testing.T) {
	s := store.NewMemoryStore()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		require.NoError(t, tx.PutMarket(&state.Market{Symbol: "ETH", TotalShortSize: 7}))
		m, err := tx.GetMarket("ETH")
		require.NoError(t, err)
		assert.Equal(t, int64(7), m.TotalShortSize)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := store.NewMemoryStore().Update(ctx, func(store.Tx) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
