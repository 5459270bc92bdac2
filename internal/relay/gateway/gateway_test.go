package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"delivery-relay/internal/common/log"
	"delivery-relay/internal/relay/contracts"
	"delivery-relay/internal/relay/registry"
	"delivery-relay/internal/relay/router"
)

type fakeStore struct {
	mu      sync.Mutex
	data    map[string]contracts.LocationPayload
	setErr  error
	getErr  error
	cleared []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]contracts.LocationPayload)}
}

func (f *fakeStore) SetBatch(_ context.Context, orderIDs []string, loc contracts.LocationPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	for _, id := range orderIDs {
		f.data[id] = loc
	}
	return nil
}

func (f *fakeStore) Get(_ context.Context, orderID string) (*contracts.LocationPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	loc, ok := f.data[orderID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (f *fakeStore) Clear(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, orderID)
	f.cleared = append(f.cleared, orderID)
	return nil
}

type captureSender struct {
	mu     sync.Mutex
	events []contracts.Event
}

func (c *captureSender) Deliver(evt contracts.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *captureSender) received() []contracts.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contracts.Event(nil), c.events...)
}

type fixture struct {
	gw    *Gateway
	reg   *registry.Registry
	rt    *router.Router
	store *fakeStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New("gateway-test")
	rt := router.New(logger)
	reg := registry.New(logger, rt)
	store := newFakeStore()
	return &fixture{
		gw:    New(logger, reg, rt, store),
		reg:   reg,
		rt:    rt,
		store: store,
	}
}

func (f *fixture) connect(ctx context.Context) (*registry.Session, *captureSender) {
	sender := &captureSender{}
	return f.reg.Connect(ctx, sender), sender
}

func TestBatchLocationFanoutAndCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rider, _ := f.connect(ctx)
	f.reg.Identify(ctx, rider, "rider-1")

	subA, senderA := f.connect(ctx)
	subB, senderB := f.connect(ctx)
	subBoth, senderBoth := f.connect(ctx)
	f.rt.Join(subA, "order-a")
	f.rt.Join(subB, "order-b")
	f.rt.Join(subBoth, "order-a")
	f.rt.Join(subBoth, "order-b")

	point := contracts.LocationPayload{Lat: 24.86, Lng: 67.01}
	err := f.gw.BatchLocation(ctx, rider, contracts.BatchLocationPayload{
		OrderIDs: []string{"order-a", "order-b"},
		Location: point,
	})
	require.NoError(t, err)

	assert.Equal(t, point, f.store.data["order-a"])
	assert.Equal(t, point, f.store.data["order-b"])

	require.Len(t, senderA.received(), 1)
	require.Len(t, senderB.received(), 1)
	require.Len(t, senderBoth.received(), 1, "member of both order rooms must receive the point once")

	var got contracts.LocationPayload
	require.NoError(t, json.Unmarshal(senderBoth.received()[0].Data, &got))
	assert.Equal(t, point, got)
	assert.Equal(t, contracts.EventRiderLocation, senderBoth.received()[0].Name)
}

func TestBatchLocationFromUnidentifiedSessionDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	anon, _ := f.connect(ctx)
	sub, sender := f.connect(ctx)
	f.rt.Join(sub, "order-a")

	err := f.gw.BatchLocation(ctx, anon, contracts.BatchLocationPayload{
		OrderIDs: []string{"order-a"},
		Location: contracts.LocationPayload{Lat: 1, Lng: 2},
	})
	require.NoError(t, err, "unauthenticated update is dropped, not an error")
	assert.Empty(t, sender.received())
	assert.Empty(t, f.store.data)
}

func TestBatchLocationCacheFailureDoesNotStopFanout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rider, _ := f.connect(ctx)
	f.reg.Identify(ctx, rider, "rider-1")
	sub, sender := f.connect(ctx)
	f.rt.Join(sub, "order-a")

	f.store.setErr = errors.New("store unreachable")
	err := f.gw.BatchLocation(ctx, rider, contracts.BatchLocationPayload{
		OrderIDs: []string{"order-a"},
		Location: contracts.LocationPayload{Lat: 5, Lng: 6},
	})
	require.Error(t, err)
	assert.Len(t, sender.received(), 1, "live fan-out is independent of the cache write")
}

func TestJoinOrderCatchUpGoesToRequesterOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	point := contracts.LocationPayload{Lat: 31.5, Lng: 74.3}
	f.store.data["order-x"] = point

	member, memberSender := f.connect(ctx)
	f.rt.Join(member, "order-x")

	late, lateSender := f.connect(ctx)
	require.NoError(t, f.gw.JoinOrder(ctx, late, "order-x"))

	require.Len(t, lateSender.received(), 1)
	assert.Equal(t, contracts.EventRiderLocation, lateSender.received()[0].Name)
	assert.Empty(t, memberSender.received(), "catch-up is a read, never a broadcast")

	assert.Equal(t, 2, f.rt.MemberCount("order-x"))
}

func TestJoinOrderCacheFailureKeepsMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.getErr = errors.New("store unreachable")
	sess, sender := f.connect(ctx)

	err := f.gw.JoinOrder(ctx, sess, "order-x")
	require.Error(t, err)
	assert.Empty(t, sender.received())
	assert.Equal(t, 1, f.rt.MemberCount("order-x"), "a cache failure must not undo the join")
}

func TestJoinOrderWithoutCachedLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, sender := f.connect(ctx)
	require.NoError(t, f.gw.JoinOrder(ctx, sess, "order-unknown"))
	assert.Empty(t, sender.received())
	assert.Equal(t, 1, f.rt.MemberCount("order-unknown"))
}

func TestInjectNewOrderReachesFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, sender := f.connect(ctx)
	require.NoError(t, f.gw.HandleClientEvent(ctx, sess, contracts.Event{Name: contracts.EventJoinOrdersFeed}))

	order := json.RawMessage(`{"orderId":"ord-7","status":"PLACED"}`)
	require.NoError(t, f.gw.Inject(ctx, contracts.InjectNewOrder, order))

	require.Len(t, sender.received(), 1)
	assert.Equal(t, contracts.EventNewOrder, sender.received()[0].Name)
	assert.JSONEq(t, string(order), string(sender.received()[0].Data))
}

func TestLeaveFeedStopsDeliveries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, sender := f.connect(ctx)
	require.NoError(t, f.gw.HandleClientEvent(ctx, sess, contracts.Event{Name: contracts.EventJoinOrdersFeed}))
	require.NoError(t, f.gw.HandleClientEvent(ctx, sess, contracts.Event{Name: contracts.EventLeaveOrdersFeed}))

	require.NoError(t, f.gw.Inject(ctx, contracts.InjectOrderAccepted, json.RawMessage(`{"orderId":"ord-1"}`)))
	assert.Empty(t, sender.received())
}

func TestInjectStatusUpdateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, sender := f.connect(ctx)
	f.reg.Identify(ctx, sess, "rider-9")

	err := f.gw.Inject(ctx, contracts.InjectOrderStatusUpdate, json.RawMessage(`{"payload":{"orderId":"o1","status":"ACCEPTED"}}`))
	assert.ErrorIs(t, err, ErrMissingRider)

	err = f.gw.Inject(ctx, contracts.InjectOrderStatusUpdate, json.RawMessage(`{"riderId":"rider-9"}`))
	assert.ErrorIs(t, err, ErrMissingPayload)

	assert.Empty(t, sender.received(), "rejected injections must leave no side effects")
	assert.Empty(t, f.store.cleared)
}

func TestInjectUnknownEvent(t *testing.T) {
	f := newFixture(t)
	err := f.gw.Inject(context.Background(), "order_exploded", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestTerminalStatusClearsCachedLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, sender := f.connect(ctx)
	f.reg.Identify(ctx, sess, "rider-9")
	f.store.data["ord-3"] = contracts.LocationPayload{Lat: 1, Lng: 1}

	data := json.RawMessage(`{"riderId":"rider-9","payload":{"orderId":"ord-3","status":"DELIVERED"}}`)
	require.NoError(t, f.gw.Inject(ctx, contracts.InjectOrderStatusUpdate, data))

	require.Len(t, sender.received(), 1, "rider's private room receives exactly one status update")
	assert.Equal(t, contracts.EventOrderStatusUpdated, sender.received()[0].Name)

	var payload contracts.StatusUpdatePayload
	require.NoError(t, json.Unmarshal(sender.received()[0].Data, &payload))
	assert.Equal(t, "ord-3", payload.OrderID)
	assert.Equal(t, contracts.StatusDelivered, payload.Status)

	assert.Equal(t, []string{"ord-3"}, f.store.cleared)
	assert.NotContains(t, f.store.data, "ord-3")
}

func TestNonTerminalStatusKeepsCachedLocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, _ := f.connect(ctx)
	f.reg.Identify(ctx, sess, "rider-9")
	f.store.data["ord-4"] = contracts.LocationPayload{Lat: 2, Lng: 2}

	data := json.RawMessage(`{"riderId":"rider-9","payload":{"orderId":"ord-4","status":"PICKED UP"}}`)
	require.NoError(t, f.gw.Inject(ctx, contracts.InjectOrderStatusUpdate, data))

	assert.Empty(t, f.store.cleared)
	assert.Contains(t, f.store.data, "ord-4")
}

func TestHandleClientEventDispatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, _ := f.connect(ctx)

	require.NoError(t, f.gw.HandleClientEvent(ctx, sess, contracts.Event{
		Name: contracts.EventAuthenticateRider,
		Data: json.RawMessage(`"rider-55"`),
	}))
	assert.Equal(t, "rider-55", sess.RiderID())

	require.NoError(t, f.gw.HandleClientEvent(ctx, sess, contracts.Event{
		Name: contracts.EventJoinOrderRoom,
		Data: json.RawMessage(`"order-55"`),
	}))
	assert.Equal(t, 1, f.rt.MemberCount("order-55"))

	err := f.gw.HandleClientEvent(ctx, sess, contracts.Event{Name: "no_such_event"})
	assert.ErrorIs(t, err, ErrUnknownEvent)

	err = f.gw.HandleClientEvent(ctx, sess, contracts.Event{
		Name: contracts.EventBatchLocation,
		Data: json.RawMessage(`"not an object"`),
	})
	assert.ErrorIs(t, err, ErrBadPayload)
}
