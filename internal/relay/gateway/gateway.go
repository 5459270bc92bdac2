package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"delivery-relay/internal/common/contextx"
	"delivery-relay/internal/common/log"
	"delivery-relay/internal/relay/contracts"
	"delivery-relay/internal/relay/registry"
	"delivery-relay/internal/relay/router"
)

// Validation failures on injected events. The caller maps these to a
// bad-request outcome; nothing was mutated when they are returned.
var (
	ErrUnknownEvent   = errors.New("invalid event name")
	ErrMissingRider   = errors.New("missing riderId for status update")
	ErrMissingPayload = errors.New("missing payload for status update")
	ErrBadPayload     = errors.New("malformed event payload")
)

// LocationStore is the ephemeral last-known-location cache. The redis
// implementation lives in the locations package; tests swap in a fake.
type LocationStore interface {
	SetBatch(ctx context.Context, orderIDs []string, loc contracts.LocationPayload) error
	Get(ctx context.Context, orderID string) (*contracts.LocationPayload, error)
	Clear(ctx context.Context, orderID string) error
}

// Gateway is the single entry point for client-originated and
// service-originated events. It validates payloads and drives the
// registry, router and location cache.
type Gateway struct {
	logger    *slog.Logger
	registry  *registry.Registry
	router    *router.Router
	locations LocationStore
}

func New(logger *slog.Logger, reg *registry.Registry, rt *router.Router, locs LocationStore) *Gateway {
	return &Gateway{
		logger:    logger,
		registry:  reg,
		router:    rt,
		locations: locs,
	}
}

// HandleClientEvent dispatches one inbound message from a live connection.
// A malformed or unknown message is a protocol error: the caller logs it
// and keeps the connection open.
func (g *Gateway) HandleClientEvent(ctx context.Context, sess *registry.Session, evt contracts.Event) error {
	switch evt.Name {
	case contracts.EventAuthenticateRider:
		var riderID string
		if err := json.Unmarshal(evt.Data, &riderID); err != nil {
			return fmt.Errorf("%w: %s", ErrBadPayload, evt.Name)
		}
		g.registry.Identify(ctx, sess, riderID)
		return nil

	case contracts.EventJoinOrderRoom:
		var orderID string
		if err := json.Unmarshal(evt.Data, &orderID); err != nil {
			return fmt.Errorf("%w: %s", ErrBadPayload, evt.Name)
		}
		return g.JoinOrder(ctx, sess, orderID)

	case contracts.EventBatchLocation:
		var batch contracts.BatchLocationPayload
		if err := json.Unmarshal(evt.Data, &batch); err != nil {
			return fmt.Errorf("%w: %s", ErrBadPayload, evt.Name)
		}
		return g.BatchLocation(ctx, sess, batch)

	case contracts.EventJoinOrdersFeed:
		g.router.Join(sess, contracts.OrdersFeedTopic)
		log.Info(ctx, g.logger, "feed_joined", fmt.Sprintf("Client %s joined orders feed", sess.ID()))
		return nil

	case contracts.EventLeaveOrdersFeed:
		g.router.Leave(sess, contracts.OrdersFeedTopic)
		log.Info(ctx, g.logger, "feed_left", fmt.Sprintf("Client %s left orders feed", sess.ID()))
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, evt.Name)
	}
}

// JoinOrder subscribes the session to the order's room, then replays the
// last cached rider location to this session only. The replay is a
// best-effort catch-up: a concurrent batch update may or may not be
// observed, and a cache failure does not undo the join.
func (g *Gateway) JoinOrder(ctx context.Context, sess *registry.Session, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("%w: empty order id", ErrBadPayload)
	}
	ctx = contextx.WithOrderID(ctx, orderID)

	g.router.Join(sess, orderID)
	log.Info(ctx, g.logger, "order_room_joined",
		fmt.Sprintf("Client %s joined room for order %s", sess.ID(), orderID))

	loc, err := g.locations.Get(ctx, orderID)
	if err != nil {
		log.Error(ctx, g.logger, "location_catchup_failed", "Could not read cached location", err)
		return err
	}
	if loc == nil {
		return nil
	}

	evt, err := contracts.NewEvent(contracts.EventRiderLocation, loc)
	if err != nil {
		return err
	}
	sess.Deliver(evt)
	log.Info(ctx, g.logger, "location_catchup_sent",
		fmt.Sprintf("Sent last known location for order %s to client %s", orderID, sess.ID()))
	return nil
}

// BatchLocation fans one rider position out to every named order room and
// refreshes the cached location for each order. The two effects are
// independent: a cache failure does not stop the live broadcast and vice
// versa. Updates from unidentified sessions are dropped with a warning.
func (g *Gateway) BatchLocation(ctx context.Context, sess *registry.Session, batch contracts.BatchLocationPayload) error {
	riderID := sess.RiderID()
	if riderID == "" {
		log.Warn(ctx, g.logger, "location_unauthenticated",
			fmt.Sprintf("Location received from unauthenticated session %s", sess.ID()))
		return nil
	}
	if len(batch.OrderIDs) == 0 {
		return nil
	}

	evt, err := contracts.NewEvent(contracts.EventRiderLocation, batch.Location)
	if err != nil {
		return err
	}

	pubErr := g.router.Publish(ctx, batch.OrderIDs, evt)
	if pubErr != nil {
		log.Error(ctx, g.logger, "location_broadcast_failed", "Bus broadcast failed", pubErr)
	}

	cacheErr := g.locations.SetBatch(ctx, batch.OrderIDs, batch.Location)
	if cacheErr != nil {
		log.Error(ctx, g.logger, "location_cache_failed", "Could not cache rider location", cacheErr)
	}

	if pubErr == nil && cacheErr == nil {
		log.Info(ctx, g.logger, "location_updated",
			fmt.Sprintf("Rider %s location for %d orders cached and broadcast", riderID, len(batch.OrderIDs)))
	}
	return errors.Join(pubErr, cacheErr)
}

// Inject processes one service-originated event from the injection
// endpoint. Validation errors report a bad request and leave no side
// effects behind.
func (g *Gateway) Inject(ctx context.Context, event string, data json.RawMessage) error {
	switch event {
	case contracts.InjectNewOrder:
		err := g.router.Publish(ctx, []string{contracts.OrdersFeedTopic}, contracts.RawEvent(contracts.EventNewOrder, data))
		if err == nil {
			log.Info(ctx, g.logger, "new_order_emitted",
				fmt.Sprintf("Emitted new order %s to %s", orderIDOf(data), contracts.OrdersFeedTopic))
		}
		return err

	case contracts.InjectOrderAccepted:
		err := g.router.Publish(ctx, []string{contracts.OrdersFeedTopic}, contracts.RawEvent(contracts.EventOrderAccepted, data))
		if err == nil {
			log.Info(ctx, g.logger, "order_accepted_emitted",
				fmt.Sprintf("Emitted order_accepted for %s to %s", orderIDOf(data), contracts.OrdersFeedTopic))
		}
		return err

	case contracts.InjectOrderStatusUpdate:
		return g.injectStatusUpdate(ctx, data)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
}

func (g *Gateway) injectStatusUpdate(ctx context.Context, data json.RawMessage) error {
	var req struct {
		RiderID string                         `json:"riderId"`
		Payload *contracts.StatusUpdatePayload `json:"payload"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if req.RiderID == "" {
		return ErrMissingRider
	}
	if req.Payload == nil {
		return ErrMissingPayload
	}
	ctx = contextx.WithOrderID(ctx, req.Payload.OrderID)

	evt, err := contracts.NewEvent(contracts.EventOrderStatusUpdated, req.Payload)
	if err != nil {
		return err
	}

	pubErr := g.router.Publish(ctx, []string{req.RiderID}, evt)
	if pubErr == nil {
		log.Info(ctx, g.logger, "status_update_emitted",
			fmt.Sprintf("Emitted order_status_updated for order %s to rider %s", req.Payload.OrderID, req.RiderID))
	}

	// terminal orders must not leave a stale location behind
	var cacheErr error
	if req.Payload.Status.Terminal() {
		cacheErr = g.locations.Clear(ctx, req.Payload.OrderID)
		if cacheErr == nil {
			log.Info(ctx, g.logger, "location_cleaned",
				fmt.Sprintf("Cleaned up location for completed order %s", req.Payload.OrderID))
		} else {
			log.Error(ctx, g.logger, "location_cleanup_failed", "Could not clear cached location", cacheErr)
		}
	}

	return errors.Join(pubErr, cacheErr)
}

// orderIDOf pulls the orderId field out of a pass-through payload, for
// logging only.
func orderIDOf(data json.RawMessage) string {
	var probe struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return "?"
	}
	return probe.OrderID
}
