package store_test

import (
	"testing"

	"github.com/rs/zerolog"

	"PerpRisk/internal/store"
	"PerpRisk/internal/testutil"
)

func TestPostgresStore_Conformance(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	runConformance(t, store.NewPostgresStore(db, zerolog.Nop()))
}

func TestCachedStore_Conformance(t *testing.T) {
	rdb := testutil.SetupTestRedis(t)
	defer rdb.Close()

	runConformance(t, store.NewCachedStore(store.NewMemoryStore(), rdb, testutil.CacheTTL))
}
