package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"delivery-relay/internal/common/log"
	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/contracts"
	"delivery-relay/internal/relay/router"
)

// Sender pushes an event toward one client. Implementations must not block.
type Sender interface {
	Deliver(evt contracts.Event)
}

// Session is one live client connection. The id is transient and scoped to
// the connection; a rider identity is attached separately and dies with
// the session.
type Session struct {
	id     string
	sender Sender

	mu      sync.Mutex
	riderID string
	closed  bool
}

func (s *Session) ID() string { return s.id }

// RiderID returns the attached identity, or "" for an anonymous session.
func (s *Session) RiderID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.riderID
}

// Deliver implements router.Subscriber. Events for a closed session are
// discarded.
func (s *Session) Deliver(evt contracts.Event) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.sender.Deliver(evt)
}

// Registry owns the live sessions of this process and their lifecycle.
// Topic membership itself lives in the router; the registry drives the
// join/leave calls tied to connect, identify and disconnect.
type Registry struct {
	logger *slog.Logger
	router *router.Router

	mu       sync.RWMutex
	sessions map[string]*Session
}

func New(logger *slog.Logger, rt *router.Router) *Registry {
	return &Registry{
		logger:   logger,
		router:   rt,
		sessions: make(map[string]*Session),
	}
}

// Connect registers a new session around the given sender.
func (r *Registry) Connect(ctx context.Context, sender Sender) *Session {
	sess := &Session{
		id:     uuid.NewString(),
		sender: sender,
	}

	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.mu.Unlock()

	metrics.ActiveConnections.Inc()
	log.Info(ctx, r.logger, "client_connected", fmt.Sprintf("Client connected: %s", sess.id))
	return sess
}

// Disconnect removes the session from every topic it had joined and drops
// its identity. Safe to call more than once; only the first call cleans up.
func (r *Registry) Disconnect(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	sess.closed = true
	sess.riderID = ""
	sess.mu.Unlock()

	r.mu.Lock()
	delete(r.sessions, sess.id)
	r.mu.Unlock()

	left := r.router.LeaveAll(sess.id)
	metrics.ActiveConnections.Dec()
	log.Info(ctx, r.logger, "client_disconnected",
		fmt.Sprintf("Client disconnected: %s (left %d rooms)", sess.id, len(left)))
}

// Identify attaches a stable rider identity and subscribes the session to
// the private room named after it. Re-identifying under a different id
// moves the session out of the previous private room first.
func (r *Registry) Identify(ctx context.Context, sess *Session, riderID string) {
	if riderID == "" {
		return
	}

	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	prev := sess.riderID
	sess.riderID = riderID
	sess.mu.Unlock()

	if prev != "" && prev != riderID {
		r.router.Leave(sess, prev)
	}
	r.router.Join(sess, riderID)

	log.Info(ctx, r.logger, "rider_authenticated",
		fmt.Sprintf("Rider %s authenticated and joined their private room", riderID))
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
