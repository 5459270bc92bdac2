package bus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-relay/internal/common/log"
	"delivery-relay/internal/relay/contracts"
)

func TestRedisBusIgnoresOwnEnvelopes(t *testing.T) {
	b := NewRedisBus(nil, log.New("bus-test"))
	ctx := context.Background()

	evt, err := contracts.NewEvent(contracts.EventNewOrder, map[string]string{"orderId": "o1"})
	require.NoError(t, err)

	var handled int
	handler := func(topics []string, evt contracts.Event) { handled++ }

	own, err := json.Marshal(Envelope{Origin: b.origin, Topics: []string{"t"}, Event: evt})
	require.NoError(t, err)
	b.dispatch(ctx, own, handler)
	assert.Zero(t, handled, "a process must not re-deliver its own broadcasts")

	foreign, err := json.Marshal(Envelope{Origin: "another-process", Topics: []string{"t"}, Event: evt})
	require.NoError(t, err)
	b.dispatch(ctx, foreign, handler)
	assert.Equal(t, 1, handled)
}

func TestRedisBusDropsMalformedEnvelopes(t *testing.T) {
	b := NewRedisBus(nil, log.New("bus-test"))

	var handled int
	b.dispatch(context.Background(), []byte("garbage"), func([]string, contracts.Event) { handled++ })
	assert.Zero(t, handled)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	evt, err := contracts.NewEvent(contracts.EventRiderLocation, contracts.LocationPayload{Lat: 1.25, Lng: -2.5})
	require.NoError(t, err)

	raw, err := json.Marshal(Envelope{Origin: "p1", Topics: []string{"a", "b"}, Event: evt})
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, json.Unmarshal(raw, &env))
	assert.Equal(t, "p1", env.Origin)
	assert.Equal(t, []string{"a", "b"}, env.Topics)
	assert.Equal(t, contracts.EventRiderLocation, env.Event.Name)
}
