package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"delivery-relay/internal/common/log"
	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/contracts"
	"delivery-relay/internal/relay/registry"
)

const (
	// writeWait bounds a single outbound frame write.
	writeWait = 5 * time.Second
	// pongWait is how long a silent peer is considered alive; its expiry
	// is the sole dead-connection detector and funnels into the same
	// cleanup as an explicit close.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 25 * time.Second

	readLimit = 1 << 20 // 1 MiB
	outBuffer = 64
)

// client binds one websocket connection to its session. Outbound events go
// through a bounded buffer so a slow consumer drops events instead of
// stalling publishers.
type client struct {
	handler *Handler
	conn    *websocket.Conn
	sess    *registry.Session

	out  chan contracts.Event
	done chan struct{}
}

func newClient(h *Handler, conn *websocket.Conn) *client {
	return &client{
		handler: h,
		conn:    conn,
		out:     make(chan contracts.Event, outBuffer),
		done:    make(chan struct{}),
	}
}

// Deliver implements registry.Sender. Never blocks.
func (c *client) Deliver(evt contracts.Event) {
	select {
	case <-c.done:
	case c.out <- evt:
	default:
		metrics.EventsDropped.Inc()
	}
}

// readPump consumes inbound frames until the connection dies. Runs on the
// connection's handler goroutine; every message is dispatched through the
// gateway's single tagged-union entry point.
func (c *client) readPump(ctx context.Context) {
	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error(ctx, c.handler.logger, "ws_unexpected_close", "Connection closed unexpectedly", err)
			} else {
				log.Info(ctx, c.handler.logger, "ws_closed", "Connection closed")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var evt contracts.Event
		if err := json.Unmarshal(payload, &evt); err != nil {
			// protocol error: log and keep the connection open
			log.Error(ctx, c.handler.logger, "ws_bad_message", "Malformed client message", err)
			continue
		}

		if err := c.handler.gateway.HandleClientEvent(ctx, c.sess, evt); err != nil {
			log.Error(ctx, c.handler.logger, "ws_event_failed",
				"Client event "+evt.Name+" failed", err)
		}
	}
}

// writePump owns all writes to the connection: queued events plus the
// liveness pings.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case evt := <-c.out:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(evt); err != nil {
				log.Error(ctx, c.handler.logger, "ws_write_failed", "Outbound write failed", err)
				_ = c.conn.Close() // unblocks the read pump
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		}
	}
}
