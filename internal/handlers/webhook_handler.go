package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
)

// maxWebhookBytes bounds a gateway event payload.
const maxWebhookBytes = 1 << 16

// EventHandler verifies and applies a raw gateway event.
// *services.Reconciler implements it.
type EventHandler interface {
	HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (gateway.Event, error)
}

// WebhookHandler serves POST /api/webhooks/stripe. It acknowledges only
// after the event is verified and applied so the gateway redelivers on
// failure.
type WebhookHandler struct {
	Events EventHandler
	Logger *slog.Logger
}

func (h *WebhookHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read body"})
		return
	}
	sig := r.Header.Get("Stripe-Signature")
	if sig == "" {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "missing signature"})
		return
	}

	ev, err := h.Events.HandleGatewayEvent(r.Context(), payload, sig)
	if errors.Is(err, gateway.ErrInvalidSignature) {
		h.logger().Warn("rejected webhook with invalid signature")
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid signature"})
		return
	}
	if err != nil {
		attrs := []any{"error", err}
		if ev != nil {
			attrs = append(attrs, "event_id", ev.EventID(), "event_type", ev.EventType())
		}
		h.logger().Error("apply webhook event failed", attrs...)
		WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "event processing failed"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
