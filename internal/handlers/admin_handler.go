package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

// Operations are the operator fallback controls. *services.Operator implements it.
type Operations interface {
	RunSettlement(ctx context.Context) ([]services.SettlementResult, error)
	RetryFailedPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error)
	ActivateUnconfirmedJobs(ctx context.Context, developerID uuid.UUID) (int64, error)
}

// SettlementQueue enqueues a background settlement run. *execution.Enqueuer implements it.
type SettlementQueue interface {
	EnqueueSettlement(ctx context.Context) (int64, error)
}

// AdminHandler serves /api/v1/admin. Routes are restricted to ADMIN.
type AdminHandler struct {
	Operator Operations
	// Queue is optional; without it async runs are refused.
	Queue  SettlementQueue
	Logger *slog.Logger
}

type settlementRunResponse struct {
	Processed int                        `json:"processed"`
	Succeeded int                        `json:"succeeded"`
	Failed    int                        `json:"failed"`
	Skipped   int                        `json:"skipped"`
	Results   []services.SettlementResult `json:"results"`
}

func (h *AdminHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// RunSettlement handles POST /admin/settlements/run. With ?async=true the
// run is queued and 202 returned with the job id.
func (h *AdminHandler) RunSettlement(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if h.Queue == nil {
			WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "background settlement unavailable"})
			return
		}
		id, err := h.Queue.EnqueueSettlement(r.Context())
		if err != nil {
			WriteError(w, h.logger(), "enqueue settlement", err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]int64{"job_id": id})
		return
	}
	results, err := h.Operator.RunSettlement(r.Context())
	if err != nil {
		WriteError(w, h.logger(), "settlement run", err)
		return
	}
	resp := settlementRunResponse{Processed: len(results), Results: results}
	if resp.Results == nil {
		resp.Results = []services.SettlementResult{}
	}
	for _, res := range results {
		switch {
		case res.Skipped:
			resp.Skipped++
		case res.Success:
			resp.Succeeded++
		default:
			resp.Failed++
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// RetryPayment handles POST /admin/payments/{id}/retry.
func (h *AdminHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	p, err := h.Operator.RetryFailedPayment(r.Context(), paymentID)
	if err != nil {
		WriteError(w, h.logger(), "retry payment", err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// ActivateJobs handles POST /admin/developers/{id}/activate-jobs. It skips
// funding verification and is logged as such.
func (h *AdminHandler) ActivateJobs(w http.ResponseWriter, r *http.Request) {
	developerID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	n, err := h.Operator.ActivateUnconfirmedJobs(r.Context(), developerID)
	if err != nil {
		WriteError(w, h.logger(), "activate jobs", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int64{"activated": n})
}
