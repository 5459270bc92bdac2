package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"delivery-relay/internal/common/contextx"
	"delivery-relay/internal/common/log"
	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/gateway"
)

// Handler serves the backend-facing surface: the authenticated injection
// endpoint plus the unauthenticated liveness probes.
type Handler struct {
	logger  *slog.Logger
	gateway *gateway.Gateway
	secret  string
	started time.Time
}

func NewHandler(logger *slog.Logger, gw *gateway.Gateway, secret string) *Handler {
	return &Handler{
		logger:  logger,
		gateway: gw,
		secret:  secret,
		started: time.Now(),
	}
}

// Router mounts all routes. wsEndpoint, when non-nil, is served on /ws.
func (h *Handler) Router(wsEndpoint http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", h.handleHealth)
	r.Get("/keep-alive", h.handleKeepAlive)
	r.Post("/emit", h.handleEmit)
	r.Handle("/metrics", promhttp.Handler())
	if wsEndpoint != nil {
		r.Handle("/ws", wsEndpoint)
	}
	return r
}

type emitRequest struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (h *Handler) handleEmit(w http.ResponseWriter, r *http.Request) {
	ctx := contextx.WithNewRequestID(r.Context())

	// shared-secret check comes before the body is even read
	auth := r.Header.Get("Authorization")
	want := "Bearer " + h.secret
	if subtle.ConstantTimeCompare([]byte(auth), []byte(want)) != 1 {
		metrics.Injections.WithLabelValues("unknown", "unauthorized").Inc()
		writeJSONError(ctx, w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req emitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Error(ctx, h.logger, "emit_invalid_body", "Unable to decode emit request body", err)
		metrics.Injections.WithLabelValues("unknown", "bad_request").Inc()
		writeJSONError(ctx, w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.gateway.Inject(ctx, req.Event, req.Data); err != nil {
		h.handleInjectError(ctx, w, req.Event, err)
		return
	}

	metrics.Injections.WithLabelValues(req.Event, "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("Event '%s' emitted successfully.", req.Event),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Seconds(),
		"memory": map[string]string{
			"heapAlloc": fmt.Sprintf("%.2f MB", float64(ms.HeapAlloc)/1024/1024),
			"heapSys":   fmt.Sprintf("%.2f MB", float64(ms.HeapSys)/1024/1024),
			"sys":       fmt.Sprintf("%.2f MB", float64(ms.Sys)/1024/1024),
		},
		"goroutines": runtime.NumGoroutine(),
	})
}

func (h *Handler) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Server is alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
