package payouts

import (
	"log/slog"
	"net/http"

	"github.com/evansmunsha/testforpay-sub001/internal/handlers"
)

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// Onboard handles POST /payouts/onboard.
func (h *Handler) Onboard(w http.ResponseWriter, r *http.Request) {
	userID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	ob, err := h.svc.Onboard(r.Context(), userID)
	if err != nil {
		handlers.WriteError(w, h.log, "payout onboarding", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, ob)
}

// Status handles GET /payouts/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	userID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	st, err := h.svc.Status(r.Context(), userID)
	if err != nil {
		handlers.WriteError(w, h.log, "payout status", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, st)
}
