package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/handlers"
	"github.com/evansmunsha/testforpay-sub001/internal/ledger"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

type JobLister interface {
	ListByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*models.Job, error)
}

type ApplicationLister interface {
	ListByTester(ctx context.Context, testerID uuid.UUID) ([]*models.Application, error)
}

type PaymentLister interface {
	ListByTester(ctx context.Context, testerID uuid.UUID) ([]*models.Payment, error)
}

type Handler struct {
	ledger   ledger.Service
	jobs     JobLister
	apps     ApplicationLister
	payments PaymentLister
	log      *slog.Logger
}

func NewHandler(ledgerSvc ledger.Service, jobs JobLister, apps ApplicationLister, payments PaymentLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledgerSvc, jobs: jobs, apps: apps, payments: payments, log: log}
}

// GET /api/v1/dashboard/developer
func (h *Handler) Developer(w http.ResponseWriter, r *http.Request) {
	developerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	summary, err := h.ledger.DeveloperSummary(r.Context(), developerID)
	if err != nil {
		handlers.WriteError(w, h.log, "developer dashboard", err)
		return
	}
	jobs, err := h.jobs.ListByDeveloper(r.Context(), developerID)
	if err != nil {
		handlers.WriteError(w, h.log, "developer dashboard", err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]any{
		"summary": summary,
		"jobs":    jobs,
	})
}

// GET /api/v1/dashboard/tester
func (h *Handler) Tester(w http.ResponseWriter, r *http.Request) {
	testerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	summary, err := h.ledger.TesterSummary(r.Context(), testerID)
	if err != nil {
		handlers.WriteError(w, h.log, "tester dashboard", err)
		return
	}
	apps, err := h.apps.ListByTester(r.Context(), testerID)
	if err != nil {
		handlers.WriteError(w, h.log, "tester dashboard", err)
		return
	}
	payments, err := h.payments.ListByTester(r.Context(), testerID)
	if err != nil {
		handlers.WriteError(w, h.log, "tester dashboard", err)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	if payments == nil {
		payments = []*models.Payment{}
	}
	handlers.WriteJSON(w, http.StatusOK, map[string]any{
		"summary":      summary,
		"applications": apps,
		"payments":     payments,
	})
}
