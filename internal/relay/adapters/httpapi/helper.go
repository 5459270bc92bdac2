package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"delivery-relay/internal/common/contextx"
	"delivery-relay/internal/common/log"
	"delivery-relay/internal/common/metrics"
	"delivery-relay/internal/relay/gateway"
)

func (h *Handler) handleInjectError(ctx context.Context, w http.ResponseWriter, event string, err error) {
	switch {
	case errors.Is(err, gateway.ErrUnknownEvent):
		metrics.Injections.WithLabelValues(event, "bad_request").Inc()
		writeJSONError(ctx, w, http.StatusBadRequest, "Invalid event name")
	case errors.Is(err, gateway.ErrMissingRider), errors.Is(err, gateway.ErrMissingPayload):
		metrics.Injections.WithLabelValues(event, "bad_request").Inc()
		writeJSONError(ctx, w, http.StatusBadRequest, "Missing riderId or payload for status update")
	case errors.Is(err, gateway.ErrBadPayload):
		metrics.Injections.WithLabelValues(event, "bad_request").Inc()
		writeJSONError(ctx, w, http.StatusBadRequest, "malformed event payload")
	default:
		log.Error(ctx, h.logger, "emit_failed", "Event injection failed", err)
		metrics.Injections.WithLabelValues(event, "error").Inc()
		writeJSONError(ctx, w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSONError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]any{
		"error":      message,
		"code":       status,
		"request_id": contextx.GetRequestID(ctx),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
