package contracts

// Client -> server events.
const (
	EventAuthenticateRider = "authenticate_rider"
	EventJoinOrderRoom     = "join_order_room"
	EventBatchLocation     = "rider_sends_batch_location"
	EventJoinOrdersFeed    = "join_orders_feed"
	EventLeaveOrdersFeed   = "leave_orders_feed"
)

// Server -> client events.
const (
	EventNewOrder           = "new_order"
	EventOrderAccepted      = "order_accepted"
	EventOrderStatusUpdated = "order_status_updated"
	EventRiderLocation      = "rider_location_update"
)

// Injection events accepted from backend services on POST /emit.
const (
	InjectNewOrder          = "new_order"
	InjectOrderAccepted     = "order_accepted"
	InjectOrderStatusUpdate = "order_status_update"
)

// OrdersFeedTopic is the well-known room carrying the live order feed.
// Order rooms are named by order id and private rider rooms by rider id.
const OrdersFeedTopic = "delivery_orders_feed"
