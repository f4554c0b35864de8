package oracle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PerpRisk/internal/riskerr"
	"PerpRisk/internal/state"
)

const now int64 = 1_700_000_000

func freshRecord(price int64) *state.OraclePrice {
	return &state.OraclePrice{Feed: "BTC", PriceFP: price, LastUpdatedTs: now, IsValid: true}
}

func externalOn(f ExternalFeed) *state.OraclePrice {
	return &state.OraclePrice{Feed: "BTC-EXT", External: f.Encode()}
}

func goodExternal(price int64) ExternalFeed {
	return ExternalFeed{
		Magic:         ExternalMagic,
		Version:       2,
		Status:        StatusTrading,
		Size:          ExternalRecordSize,
		Price:         price, // expo -6: already FP
		Confidence:    uint64(price / 1000),
		PublishTime:   now,
		MinPublishers: 3,
		NumPublishers: 5,
		Expo:          -6,
	}
}

func TestValidateStalenessBoundary(t *testing.T) {
	cfg := DefaultConfig()
	o := freshRecord(100_000_000)
	o.LastUpdatedTs = now - 60

	price, err := Validate(o, cfg, now)
	require.NoError(t, err, "age equal to max staleness is accepted")
	assert.Equal(t, int64(100_000_000), price)

	o.LastUpdatedTs = now - 61
	_, err = Validate(o, cfg, now)
	assert.ErrorIs(t, err, riskerr.BadOracle)
}

func TestValidateRejectsNonPositive(t *testing.T) {
	_, err := Validate(freshRecord(0), DefaultConfig(), now)
	assert.ErrorIs(t, err, riskerr.BadOracle)

	_, err = Validate(nil, DefaultConfig(), now)
	assert.ErrorIs(t, err, riskerr.OracleFeedNotFound)
}

func TestValidateRejectsInvalidRecord(t *testing.T) {
	o := freshRecord(100_000_000)
	o.IsValid = false
	_, err := Validate(o, DefaultConfig(), now)
	assert.ErrorIs(t, err, riskerr.BadOracle)

	_, err = Aggregate(PrimaryOnly{Primary: o}, DefaultConfig(), now)
	assert.ErrorIs(t, err, riskerr.BadOracle)
}

func TestExternalRoundTrip(t *testing.T) {
	f := goodExternal(101_000_000)
	decoded, err := DecodeExternalFeed(f.Encode())
	require.NoError(t, err)
	assert.Equal(t, f, decoded)

	_, err = DecodeExternalFeed(make([]byte, 10))
	assert.ErrorIs(t, err, riskerr.BadOracle)
}

func TestReadExternal(t *testing.T) {
	cfg := DefaultConfig()

	price, err := ReadExternal(goodExternal(101_000_000), cfg, now)
	require.NoError(t, err)
	assert.Equal(t, int64(101_000_000), price)

	tests := []struct {
		name   string
		mutate func(*ExternalFeed)
		want   riskerr.Code
	}{
		{"bad magic", func(f *ExternalFeed) { f.Magic = 1 }, riskerr.BadOracle},
		{"halted", func(f *ExternalFeed) { f.Status = 0 }, riskerr.BadOracle},
		{"stale", func(f *ExternalFeed) { f.PublishTime = now - 61 }, riskerr.BadOracle},
		{"negative price", func(f *ExternalFeed) { f.Price = -5 }, riskerr.BadOracle},
		{"few publishers", func(f *ExternalFeed) { f.NumPublishers = 2 }, riskerr.OracleConfidenceLow},
		{"wide confidence", func(f *ExternalFeed) { f.Confidence = 6_000_000 }, riskerr.OracleConfidenceLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := goodExternal(101_000_000)
			tt.mutate(&f)
			_, err := ReadExternal(f, cfg, now)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReadExternalRescalesExponent(t *testing.T) {
	f := goodExternal(0)
	f.Price = 10_150 // 101.50 at expo -2
	f.Confidence = 10
	f.Expo = -2

	price, err := ReadExternal(f, DefaultConfig(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(101_500_000), price)

	f.Price = 101_500_000_000 // expo -9
	f.Confidence = 1000
	f.Expo = -9
	price, err = ReadExternal(f, DefaultConfig(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(101_500_000), price)
}

// ============================================================================
// Aggregation
// ============================================================================

func TestAggregatePrimaryOnly(t *testing.T) {
	res, err := Aggregate(PrimaryOnly{Primary: freshRecord(100_000_000)}, DefaultConfig(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), res.PriceFP)
	assert.Zero(t, res.SecondaryFP)
}

func TestAggregateWeighted(t *testing.T) {
	src := PrimaryWithSecondary{
		Primary:   freshRecord(100_000_000),
		Secondary: externalOn(goodExternal(101_000_000)),
	}
	res, err := Aggregate(src, DefaultConfig(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(100_300_000), res.PriceFP)
	assert.Equal(t, int64(99), res.DeviationBps)
}

func TestAggregateDeviationTooHigh(t *testing.T) {
	src := PrimaryWithSecondary{
		Primary:   freshRecord(100_000_000),
		Secondary: externalOn(goodExternal(103_000_000)),
	}
	_, err := Aggregate(src, DefaultConfig(), now)
	assert.ErrorIs(t, err, riskerr.OraclePriceDeviation)
}

func TestAggregateFallsBackToPrimary(t *testing.T) {
	bad := goodExternal(150_000_000)
	bad.NumPublishers = 1

	src := PrimaryWithSecondary{Primary: freshRecord(100_000_000), Secondary: externalOn(bad)}
	res, err := Aggregate(src, DefaultConfig(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(100_000_000), res.PriceFP)
	assert.ErrorIs(t, res.SecondaryErr, riskerr.OracleConfidenceLow)
}

func TestAggregateSecondaryRecordSources(t *testing.T) {
	stale := freshRecord(101_000_000)
	stale.LastUpdatedTs = now - 61

	tests := []struct {
		name      string
		secondary *state.OraclePrice
		wantPrice int64
		wantErr   error
	}{
		{"plain secondary price", freshRecord(101_000_000), 100_300_000, nil},
		{"external record wins over plain price", &state.OraclePrice{
			Feed: "BTC-EXT", PriceFP: 150_000_000, LastUpdatedTs: now, IsValid: true,
			External: goodExternal(101_000_000).Encode(),
		}, 100_300_000, nil},
		{"stale plain secondary", stale, 100_000_000, riskerr.BadOracle},
		{"missing secondary", nil, 100_000_000, riskerr.OracleFeedNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := PrimaryWithSecondary{Primary: freshRecord(100_000_000), Secondary: tt.secondary}
			res, err := Aggregate(src, DefaultConfig(), now)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrice, res.PriceFP)
			if tt.wantErr == nil {
				assert.NoError(t, res.SecondaryErr)
			} else {
				assert.ErrorIs(t, res.SecondaryErr, tt.wantErr)
			}
		})
	}
}

func TestAggregateStalePrimaryFails(t *testing.T) {
	o := freshRecord(100_000_000)
	o.LastUpdatedTs = now - 600
	_, err := Aggregate(PrimaryWithSecondary{Primary: o, Secondary: externalOn(goodExternal(100_000_000))}, DefaultConfig(), now)
	assert.ErrorIs(t, err, riskerr.BadOracle)
}

// ============================================================================
// Fallback, circuit breaker, health
// ============================================================================

func TestEmergencyFallback(t *testing.T) {
	p, err := EmergencyFallback([]int64{100, 0, 110, 120, 0})
	require.NoError(t, err)
	assert.Equal(t, int64(110), p)

	_, err = EmergencyFallback([]int64{100, 0, 110, 0, 0})
	assert.ErrorIs(t, err, riskerr.OracleFeedNotFound)

	_, err = EmergencyFallback(nil)
	assert.ErrorIs(t, err, riskerr.OracleFeedNotFound)
}

func TestCircuitBreaker(t *testing.T) {
	o := state.NewOraclePrice("BTC")

	dev, err := UpdateWithCircuitBreaker(o, 100_000_000, 1000, now)
	require.NoError(t, err, "first price always accepted")
	assert.Zero(t, dev)

	_, err = UpdateWithCircuitBreaker(o, 112_000_000, 1000, now+1)
	assert.ErrorIs(t, err, riskerr.CircuitBreakerTriggered)
	assert.Equal(t, int64(100_000_000), o.PriceFP, "rejected update leaves record unchanged")
	assert.Equal(t, now, o.LastUpdatedTs)

	dev, err = UpdateWithCircuitBreaker(o, 105_000_000, 1000, now+2)
	require.NoError(t, err)
	assert.Equal(t, int64(476), dev)
	assert.Equal(t, []int64{100_000_000, 105_000_000}, o.History)
	assert.True(t, o.IsValid)
}

func TestHealthCheck(t *testing.T) {
	o := freshRecord(100_000_000)

	rep, err := HealthCheck(o, 100_000_000, now+300)
	require.NoError(t, err)
	assert.False(t, rep.Warn)

	_, err = HealthCheck(o, 100_000_000, now+301)
	assert.ErrorIs(t, err, riskerr.BadOracle)

	rep, err = HealthCheck(o, 115_000_000, now)
	require.NoError(t, err)
	assert.True(t, rep.Warn)

	_, err = HealthCheck(o, 250_000_000, now)
	assert.ErrorIs(t, err, riskerr.OraclePriceDeviation)

	_, err = HealthCheck(o, 0, now)
	assert.ErrorIs(t, err, riskerr.BadOracle)
}

func TestConfigFromProtocol(t *testing.T) {
	cfg := ConfigFrom(&state.Config{MaxStalenessSeconds: 30})
	assert.Equal(t, int64(30), cfg.MaxStalenessSeconds)
	assert.Equal(t, int64(3), cfg.MinPublishers)
	assert.Equal(t, DefaultConfig(), ConfigFrom(nil))
}
