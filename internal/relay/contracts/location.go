package contracts

// LocationPayload is a rider position as reported by the mobile client and
// echoed to every subscriber of the affected order rooms.
type LocationPayload struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BatchLocationPayload carries one position for many in-flight orders.
// A rider stacking deliveries sends a single point tagged with every
// order they are currently carrying.
type BatchLocationPayload struct {
	OrderIDs []string        `json:"orderIds"`
	Location LocationPayload `json:"location"`
}
