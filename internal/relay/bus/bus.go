package bus

import (
	"context"

	"delivery-relay/internal/relay/contracts"
)

// Envelope is the wire format carried between relay processes. Origin is
// the publishing instance's id; a process ignores envelopes it published
// itself, since its local members were already served synchronously.
type Envelope struct {
	Origin string          `json:"origin"`
	Topics []string        `json:"topics"`
	Event  contracts.Event `json:"event"`
}

// Handler is invoked for every envelope that originated on another process.
type Handler func(topics []string, evt contracts.Event)

// Bus makes a published event visible to router instances in every relay
// process. Implementations rely on the substrate's single-stream ordering,
// so events on one topic arrive everywhere in publish order. There are no
// retries: an unreachable substrate surfaces as a Broadcast error.
type Bus interface {
	Broadcast(ctx context.Context, topics []string, evt contracts.Event) error
	Start(ctx context.Context, h Handler) error
	Close() error
}
