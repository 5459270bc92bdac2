package ws

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"delivery-relay/internal/common/contextx"
	"delivery-relay/internal/common/log"
	"delivery-relay/internal/relay/gateway"
	"delivery-relay/internal/relay/registry"
)

// Handler upgrades client connections and runs their read/write pumps.
type Handler struct {
	logger   *slog.Logger
	gateway  *gateway.Gateway
	registry *registry.Registry
	upgrader websocket.Upgrader

	mu       sync.Mutex
	clients  map[*client]struct{}
	draining bool
}

// NewHandler builds the websocket endpoint. allowedOrigin of "*" accepts
// any browser origin; anything else must match the Origin header exactly.
// Requests without an Origin header (service clients) are always accepted.
func NewHandler(logger *slog.Logger, gw *gateway.Gateway, reg *registry.Registry, allowedOrigin string) *Handler {
	h := &Handler{
		logger:   logger,
		gateway:  gw,
		registry: reg,
		clients:  make(map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowedOrigin == "*" || origin == allowedOrigin
		},
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := contextx.WithNewRequestID(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(ctx, h.logger, "ws_upgrade_failed", "Failed to upgrade to WebSocket", err)
		return
	}

	c := newClient(h, conn)
	if !h.track(c) {
		// shutting down: refuse new sessions
		_ = conn.Close()
		return
	}

	c.sess = h.registry.Connect(ctx, c)

	go c.writePump(ctx)
	c.readPump(ctx)

	// teardown: one path for explicit close, read error and ping expiry
	close(c.done)
	_ = conn.Close()
	h.untrack(c)
	h.registry.Disconnect(ctx, c.sess)
}

// CloseAll force-closes every live connection; their pumps unwind through
// the normal disconnect path. Further upgrades are refused.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	h.draining = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	}
}

func (h *Handler) track(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.draining {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Handler) untrack(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}
