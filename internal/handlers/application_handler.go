package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

// Engagements is the engagement lifecycle used by the handler.
// *services.EngagementService implements it.
type Engagements interface {
	Apply(ctx context.Context, testerID, jobID uuid.UUID) (*models.Application, error)
	Approve(ctx context.Context, developerID, appID uuid.UUID) (*models.Application, error)
	Reject(ctx context.Context, developerID, appID uuid.UUID) (*models.Application, error)
	OptIn(ctx context.Context, testerID, appID uuid.UUID) (*models.Application, error)
	Verify(ctx context.Context, testerID, appID uuid.UUID, imageRef string) (*models.Application, error)
	StartTesting(ctx context.Context, actorID, appID uuid.UUID) (*models.Application, error)
	SubmitFeedback(ctx context.Context, testerID, appID uuid.UUID, feedback string, rating int) (*models.Application, error)
	RecordUsage(ctx context.Context, testerID, appID uuid.UUID, events []services.UsageEvent) (int64, error)
	ListForTester(ctx context.Context, testerID uuid.UUID) ([]*models.Application, error)
	ListForJob(ctx context.Context, developerID, jobID uuid.UUID) ([]*models.Application, error)
}

// ApplicationHandler serves /api/v1/applications and /api/v1/jobs/{id}/applications.
// Bodies are schema-checked by middleware before they reach it.
type ApplicationHandler struct {
	Engagements Engagements
	Logger      *slog.Logger
}

type verifyRequest struct {
	VerificationImage string `json:"verification_image"`
}

type feedbackRequest struct {
	Feedback string `json:"feedback"`
	Rating   int    `json:"rating"`
}

type usageRequest struct {
	Events []services.UsageEvent `json:"events"`
}

type usageResponse struct {
	Recorded int64 `json:"recorded"`
}

func (h *ApplicationHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Apply handles POST /jobs/{id}/applications.
func (h *ApplicationHandler) Apply(w http.ResponseWriter, r *http.Request) {
	testerID, ok := Caller(w, r)
	if !ok {
		return
	}
	jobID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	app, err := h.Engagements.Apply(r.Context(), testerID, jobID)
	if err != nil {
		WriteError(w, h.logger(), "apply", err)
		return
	}
	WriteJSON(w, http.StatusCreated, app)
}

// ListForJob handles GET /jobs/{id}/applications for the job owner.
func (h *ApplicationHandler) ListForJob(w http.ResponseWriter, r *http.Request) {
	developerID, ok := Caller(w, r)
	if !ok {
		return
	}
	jobID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	apps, err := h.Engagements.ListForJob(r.Context(), developerID, jobID)
	if err != nil {
		WriteError(w, h.logger(), "list applications", err)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	WriteJSON(w, http.StatusOK, apps)
}

// ListMine handles GET /applications for the calling tester.
func (h *ApplicationHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	testerID, ok := Caller(w, r)
	if !ok {
		return
	}
	apps, err := h.Engagements.ListForTester(r.Context(), testerID)
	if err != nil {
		WriteError(w, h.logger(), "list applications", err)
		return
	}
	if apps == nil {
		apps = []*models.Application{}
	}
	WriteJSON(w, http.StatusOK, apps)
}

type transitionFunc func(ctx context.Context, actorID, appID uuid.UUID) (*models.Application, error)

// transition serves the body-less lifecycle endpoints.
func (h *ApplicationHandler) transition(w http.ResponseWriter, r *http.Request, op string, fn transitionFunc) {
	actorID, ok := Caller(w, r)
	if !ok {
		return
	}
	appID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	app, err := fn(r.Context(), actorID, appID)
	if err != nil {
		WriteError(w, h.logger(), op, err)
		return
	}
	WriteJSON(w, http.StatusOK, app)
}

// Approve handles POST /applications/{id}/approve.
func (h *ApplicationHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "approve", h.Engagements.Approve)
}

// Reject handles POST /applications/{id}/reject.
func (h *ApplicationHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reject", h.Engagements.Reject)
}

// OptIn handles POST /applications/{id}/opt-in.
func (h *ApplicationHandler) OptIn(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "opt in", h.Engagements.OptIn)
}

// Start handles POST /applications/{id}/start.
func (h *ApplicationHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "start testing", h.Engagements.StartTesting)
}

// Verify handles POST /applications/{id}/verify.
func (h *ApplicationHandler) Verify(w http.ResponseWriter, r *http.Request) {
	testerID, ok := Caller(w, r)
	if !ok {
		return
	}
	appID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	app, err := h.Engagements.Verify(r.Context(), testerID, appID, req.VerificationImage)
	if err != nil {
		WriteError(w, h.logger(), "verify", err)
		return
	}
	WriteJSON(w, http.StatusOK, app)
}

// Feedback handles POST /applications/{id}/feedback.
func (h *ApplicationHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	testerID, ok := Caller(w, r)
	if !ok {
		return
	}
	appID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	app, err := h.Engagements.SubmitFeedback(r.Context(), testerID, appID, req.Feedback, req.Rating)
	if err != nil {
		WriteError(w, h.logger(), "submit feedback", err)
		return
	}
	WriteJSON(w, http.StatusOK, app)
}

// Usage handles POST /applications/{id}/usage.
func (h *ApplicationHandler) Usage(w http.ResponseWriter, r *http.Request) {
	testerID, ok := Caller(w, r)
	if !ok {
		return
	}
	appID, ok := PathID(w, r, "id")
	if !ok {
		return
	}
	var req usageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return
	}
	n, err := h.Engagements.RecordUsage(r.Context(), testerID, appID, req.Events)
	if err != nil {
		WriteError(w, h.logger(), "record usage", err)
		return
	}
	WriteJSON(w, http.StatusAccepted, usageResponse{Recorded: n})
}
