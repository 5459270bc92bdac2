package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/contracts"
)

// Subscriber is a local destination for fanned-out events. Deliver must not
// block; transports enqueue into a bounded outbound buffer and drop on
// overflow rather than stalling a publish.
type Subscriber interface {
	ID() string
	Deliver(evt contracts.Event)
}

// Bus propagates a publish to router instances in other relay processes.
type Bus interface {
	Broadcast(ctx context.Context, topics []string, evt contracts.Event) error
}

// Router owns the topic -> member mapping for one process. Membership on
// other processes is never tracked here; cross-process reach is delegated
// to the Bus, whose deliveries re-enter through Fanout.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	topics   map[string]map[string]Subscriber
	byMember map[string]map[string]struct{}

	bus Bus
}

func New(logger *slog.Logger) *Router {
	return &Router{
		logger:   logger,
		topics:   make(map[string]map[string]Subscriber),
		byMember: make(map[string]map[string]struct{}),
	}
}

// AttachBus wires the cross-process bus. Before this is called the router
// fans out to local members only.
func (r *Router) AttachBus(b Bus) {
	r.mu.Lock()
	r.bus = b
	r.mu.Unlock()
}

// Join adds sub to the topic's member set. Joining a topic twice is a no-op.
func (r *Router) Join(sub Subscriber, topic string) {
	if topic == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.topics[topic]
	if !ok {
		members = make(map[string]Subscriber)
		r.topics[topic] = members
		metrics.ActiveTopics.Inc()
	}
	members[sub.ID()] = sub

	joined, ok := r.byMember[sub.ID()]
	if !ok {
		joined = make(map[string]struct{})
		r.byMember[sub.ID()] = joined
	}
	joined[topic] = struct{}{}
}

// Leave removes sub from the topic. Leaving a topic it never joined is a
// no-op.
func (r *Router) Leave(sub Subscriber, topic string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sub.ID(), topic)
}

// LeaveAll removes the member from every topic it had joined and returns
// the topics left. Used by the registry's disconnect cleanup.
func (r *Router) LeaveAll(subID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.byMember[subID]
	left := make([]string, 0, len(joined))
	for topic := range joined {
		r.leaveLocked(subID, topic)
		left = append(left, topic)
	}
	return left
}

func (r *Router) leaveLocked(subID, topic string) {
	members, ok := r.topics[topic]
	if !ok {
		return
	}
	if _, ok := members[subID]; !ok {
		return
	}
	delete(members, subID)
	if len(members) == 0 {
		delete(r.topics, topic)
		metrics.ActiveTopics.Dec()
	}
	if joined, ok := r.byMember[subID]; ok {
		delete(joined, topic)
		if len(joined) == 0 {
			delete(r.byMember, subID)
		}
	}
}

// Topics returns the topics the member currently belongs to.
func (r *Router) Topics(subID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	joined := r.byMember[subID]
	out := make([]string, 0, len(joined))
	for topic := range joined {
		out = append(out, topic)
	}
	return out
}

// MemberCount returns the number of local members of a topic.
func (r *Router) MemberCount(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Publish delivers evt once to every local member of any of the named
// topics, then hands the event to the bus for other processes. Local
// delivery is synchronous with the call; remote delivery is not awaited.
// A bus failure is returned after local fan-out already happened.
func (r *Router) Publish(ctx context.Context, topics []string, evt contracts.Event) error {
	r.Fanout(topics, evt)

	r.mu.RLock()
	bus := r.bus
	r.mu.RUnlock()
	if bus == nil {
		return nil
	}

	if err := bus.Broadcast(ctx, topics, evt); err != nil {
		return fmt.Errorf("broadcast %s: %w", evt.Name, err)
	}
	metrics.BusPublished.Inc()
	return nil
}

// Fanout delivers evt to local members only, de-duplicated across the
// named topics so a member of several of them receives it once. Bus
// deliveries from other processes enter here.
func (r *Router) Fanout(topics []string, evt contracts.Event) {
	r.mu.RLock()
	targets := make(map[string]Subscriber)
	for _, topic := range topics {
		for id, sub := range r.topics[topic] {
			targets[id] = sub
		}
	}
	r.mu.RUnlock()

	for _, sub := range targets {
		sub.Deliver(evt)
		metrics.EventsDelivered.WithLabelValues(evt.Name).Inc()
	}
}
