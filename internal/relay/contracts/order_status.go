package contracts

// OrderStatus values mirror the order service's lifecycle states.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusPlaced    OrderStatus = "PLACED"
	StatusAccepted  OrderStatus = "ACCEPTED"
	StatusReady     OrderStatus = "READY"
	StatusEnRouteA  OrderStatus = "EN ROUTE A"
	StatusPickedUp  OrderStatus = "PICKED UP"
	StatusEnRouteB  OrderStatus = "EN ROUTE B"
	StatusReachedB  OrderStatus = "REACHED B"
	StatusDelivered OrderStatus = "DELIVERED"
	StatusCanceled  OrderStatus = "CANCELED"
)

// Terminal reports whether the status ends an order's life. Terminal
// statuses also evict the order's cached rider location.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCanceled
}

// StatusUpdatePayload is delivered to a rider's private room.
type StatusUpdatePayload struct {
	OrderID string      `json:"orderId"`
	Status  OrderStatus `json:"status"`
}

// OrderAcceptedPayload is broadcast on the orders feed when a rider takes
// an order.
type OrderAcceptedPayload struct {
	OrderID string `json:"orderId"`
}
