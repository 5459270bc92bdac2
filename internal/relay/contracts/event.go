package contracts

import (
	"encoding/json"
	"fmt"
)

// Event is the single wire envelope used in both directions on a client
// connection and on the broadcast bus. Name is the event name, Data the
// event-specific payload kept raw so relays never re-encode pass-through
// payloads.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an Event from a marshalable payload.
func NewEvent(name string, payload any) (Event, error) {
	if payload == nil {
		return Event{Name: name}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Event{Name: name, Data: raw}, nil
}

// RawEvent wraps an already-encoded payload without copying.
func RawEvent(name string, data json.RawMessage) Event {
	return Event{Name: name, Data: data}
}
