package jobs

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/evansmunsha/testforpay-sub001/internal/handlers"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

// Request/response structs use snake_case JSON.

type JobResponse struct {
	ID                    string     `json:"id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description,omitempty"`
	AppPackage            string     `json:"app_package"`
	OptInURL              string     `json:"opt_in_url,omitempty"`
	Status                string     `json:"status"`
	TestersNeeded         int        `json:"testers_needed"`
	PaymentPerTesterCents int64      `json:"payment_per_tester_cents"`
	TotalBudgetCents      int64      `json:"total_budget_cents"`
	PlatformFeeCents      int64      `json:"platform_fee_cents"`
	FundingAmountCents    int64      `json:"funding_amount_cents"`
	TestDurationDays      float64    `json:"test_duration_days"`
	PublishedAt           *time.Time `json:"published_at,omitempty"`
}

type FundingResponse struct {
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
}

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

// CreateJob handles POST /jobs. The body was schema-checked by middleware.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	developerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	var req CreateJobInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	job, err := h.svc.CreateJob(r.Context(), developerID, req)
	if err != nil {
		handlers.WriteError(w, h.log, "create job", err)
		return
	}
	handlers.WriteJSON(w, http.StatusCreated, jobToResponse(job))
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	developerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	list, err := h.svc.ListByDeveloper(r.Context(), developerID)
	if err != nil {
		handlers.WriteError(w, h.log, "list jobs", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, jobsToResponse(list))
}

func (h *Handler) ListActive(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	list, err := h.svc.ListActive(r.Context(), limit)
	if err != nil {
		handlers.WriteError(w, h.log, "list active jobs", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, jobsToResponse(list))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, ok := handlers.PathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.svc.GetJob(r.Context(), jobID)
	if err != nil {
		handlers.WriteError(w, h.log, "get job", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, jobToResponse(job))
}

func (h *Handler) FundJob(w http.ResponseWriter, r *http.Request) {
	developerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	jobID, ok := handlers.PathID(w, r, "id")
	if !ok {
		return
	}
	intent, err := h.svc.FundJob(r.Context(), developerID, jobID)
	if err != nil {
		handlers.WriteError(w, h.log, "fund job", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, FundingResponse{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountCents:  intent.AmountCents,
		Currency:     intent.Currency,
		Status:       intent.Status,
	})
}

func (h *Handler) ConfirmFunding(w http.ResponseWriter, r *http.Request) {
	developerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	jobID, ok := handlers.PathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.svc.ConfirmFunding(r.Context(), developerID, jobID)
	if err != nil {
		handlers.WriteError(w, h.log, "confirm funding", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, jobToResponse(job))
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	developerID, ok := handlers.Caller(w, r)
	if !ok {
		return
	}
	jobID, ok := handlers.PathID(w, r, "id")
	if !ok {
		return
	}
	job, err := h.svc.CancelJob(r.Context(), developerID, jobID)
	if err != nil {
		handlers.WriteError(w, h.log, "cancel job", err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, jobToResponse(job))
}

func jobsToResponse(list []*models.Job) []JobResponse {
	resp := make([]JobResponse, 0, len(list))
	for _, j := range list {
		resp = append(resp, jobToResponse(j))
	}
	return resp
}

func jobToResponse(j *models.Job) JobResponse {
	return JobResponse{
		ID:                    j.ID.String(),
		Title:                 j.Title,
		Description:           j.Description,
		AppPackage:            j.AppPackage,
		OptInURL:              j.OptInURL,
		Status:                j.Status,
		TestersNeeded:         j.TestersNeeded,
		PaymentPerTesterCents: j.PaymentPerTesterCents,
		TotalBudgetCents:      j.TotalBudgetCents,
		PlatformFeeCents:      j.PlatformFeeCents,
		FundingAmountCents:    j.FundingAmountCents(),
		TestDurationDays:      j.TestDurationDays,
		PublishedAt:           j.PublishedAt,
	}
}
