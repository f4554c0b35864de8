package event

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeNamesRoundTrip(t *testing.T) {
	for et, name := range typeNames {
		got, ok := ParseEventType(name)
		require.True(t, ok, name)
		assert.Equal(t, et, got)
	}
	_, ok := ParseEventType("Nope")
	assert.False(t, ok)
	assert.Equal(t, "Unknown", EventTypeUnknown.String())
}

func TestEnvelopeJSON(t *testing.T) {
	evt := &PositionOpened{Owner: uuid.New(), Market: "BTC", IsLong: true, BaseSize: 10_000_000}
	env, err := NewEnvelope(42, 7, 1_700_000_000, evt)
	require.NoError(t, err)
	assert.Equal(t, "BTC", env.Symbol)
	env.StateHash[0] = 0xab

	raw, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type":"PositionOpened"`)
	assert.Contains(t, string(raw), `"state_hash":"ab00`)

	var back Envelope
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, env.Type, back.Type)
	assert.Equal(t, env.StateHash, back.StateHash)

	var payload PositionOpened
	require.NoError(t, json.Unmarshal(back.Payload, &payload))
	assert.Equal(t, *evt, payload)
}

func TestDigestSeparatesFields(t *testing.T) {
	a := &Envelope{Type: EventTypeOracleUpdated, Symbol: "AB", Payload: []byte("C")}
	b := &Envelope{Type: EventTypeOracleUpdated, Symbol: "A", Payload: []byte("BC")}
	assert.NotEqual(t, a.Digest(), b.Digest())
}

func TestIDGeneratorMonotonic(t *testing.T) {
	g, err := NewIDGenerator(1)
	require.NoError(t, err)
	prev := g.Next()
	for i := 0; i < 100; i++ {
		next := g.Next()
		assert.Greater(t, next, prev)
		prev = next
	}

	_, err = NewIDGenerator(5000)
	assert.Error(t, err)
}
