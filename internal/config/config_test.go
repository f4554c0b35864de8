package config_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpRisk/internal/config"
	"PerpRisk/internal/core"
	"PerpRisk/internal/store"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.GRPCAddr)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.SinkNone, cfg.EventSink)
	assert.Equal(t, 50, cfg.PersistBatchSize)
	assert.EqualValues(t, 100_000, cfg.SnapshotInterval)
	assert.Empty(t, cfg.PostgresDSN)
	assert.False(t, cfg.KeeperEnabled)
}

func TestLoadFrom_Overrides(t *testing.T) {
	liq := uuid.New()
	cfg, err := config.LoadFrom(envMap(map[string]string{
		"PERP_EVENT_SINK":        "Kafka",
		"PERP_KAFKA_BROKERS":     "k1:9092, k2:9092,",
		"PERP_PERSIST_BATCH":     "200",
		"PERP_KEEPER_ENABLED":    "true",
		"PERP_KEEPER_LIQUIDATOR": liq.String(),
		"PERP_KEEPER_INTERVAL":   "250ms",
		"PERP_NODE_ID":           "7",
		"PERP_SNAPSHOT_INTERVAL": "0",
		"PERP_REDIS_URL":         "redis://localhost:6379/0",
	}))
	require.NoError(t, err)
	assert.Equal(t, config.SinkKafka, cfg.EventSink)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 200, cfg.PersistBatchSize)
	assert.True(t, cfg.KeeperEnabled)
	assert.Equal(t, liq, cfg.KeeperLiquidator)
	assert.Equal(t, 250*time.Millisecond, cfg.KeeperInterval)
	assert.EqualValues(t, 7, cfg.NodeID)
	assert.Zero(t, cfg.SnapshotInterval)
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad int", map[string]string{"PERP_PERSIST_BATCH": "many"}},
		{"bad duration", map[string]string{"PERP_KEEPER_INTERVAL": "soon"}},
		{"unknown sink", map[string]string{"PERP_EVENT_SINK": "carrier-pigeon"}},
		{"nats sink without url", map[string]string{"PERP_EVENT_SINK": "nats"}},
		{"kafka sink without brokers", map[string]string{"PERP_EVENT_SINK": "kafka"}},
		{"node id range", map[string]string{"PERP_NODE_ID": "4096"}},
		{"keeper without liquidator", map[string]string{"PERP_KEEPER_ENABLED": "true"}},
		{"bad liquidator", map[string]string{"PERP_KEEPER_LIQUIDATOR": "nobody"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadFrom(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

const bootstrapYAML = `
config:
  admin: 6f1c1d3e-9a4b-4c55-8f0e-2a7d4b1e9c01
  quote_asset: USDC
  fee_bps: 10
  liq_fee_bps: 500
  fee_destination: 0b9e0c4a-3f7d-4e2b-9a61-5c8d2e7f1a30
seed_vault: 1000000
markets:
  - symbol: BTC-PERP
    base_decimals: 6
    primary_feed: BTC/USD
    skew_k_bps: 100
    max_position_base: 1000000000
    maintenance_margin_bps: 625
    taker_leverage_cap: 20
    base_reserve_fp: 1000000000000
    quote_reserve_fp: 1000000000000
prices:
  - feed: BTC/USD
    price: "100.5"
`

func TestParseBootstrap(t *testing.T) {
	b, err := config.ParseBootstrap([]byte(bootstrapYAML))
	require.NoError(t, err)
	assert.Equal(t, uuid.MustParse("6f1c1d3e-9a4b-4c55-8f0e-2a7d4b1e9c01"), b.Config.Admin)
	assert.Equal(t, "USDC", b.Config.QuoteAsset)
	require.Len(t, b.Markets, 1)
	assert.Equal(t, "BTC-PERP", b.Markets[0].Symbol)
	assert.EqualValues(t, 625, b.Markets[0].MaintenanceMarginBps)
	require.Len(t, b.Prices, 1)

	_, err = config.ParseBootstrap([]byte("markets: []\n"))
	assert.Error(t, err, "quote asset is required")

	_, err = config.ParseBootstrap([]byte("config: {quote_asset: USDC}\nprices: [{feed: BTC/USD}]\n"))
	assert.Error(t, err, "price is required")
}

func TestBootstrap_ApplyIsIdempotent(t *testing.T) {
	ctx := context.Background()
	eng, err := core.NewEngine(core.Options{Store: store.NewMemoryStore(), Logger: zerolog.Nop()})
	require.NoError(t, err)

	b, err := config.ParseBootstrap([]byte(bootstrapYAML))
	require.NoError(t, err)

	rep, err := b.Apply(ctx, eng, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, rep.Initialized)
	assert.Equal(t, 1, rep.MarketsCreated)
	assert.Equal(t, 1, rep.PricesSet)

	price, err := eng.MarketPrice(ctx, "BTC-PERP")
	require.NoError(t, err)
	assert.Positive(t, price)

	rep, err = b.Apply(ctx, eng, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, config.ApplyReport{}, rep)
}
