package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/ledger"
	"github.com/evansmunsha/testforpay-sub001/internal/middleware"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubLedger struct {
	dev    *ledger.DeveloperSummary
	tester *ledger.TesterSummary
	err    error
}

func (s *stubLedger) DeveloperSummary(context.Context, uuid.UUID) (*ledger.DeveloperSummary, error) {
	return s.dev, s.err
}

func (s *stubLedger) TesterSummary(context.Context, uuid.UUID) (*ledger.TesterSummary, error) {
	return s.tester, s.err
}

type stubLists struct {
	jobs     []*models.Job
	apps     []*models.Application
	payments []*models.Payment
	gotID    uuid.UUID
}

func (s *stubLists) ListByDeveloper(_ context.Context, id uuid.UUID) ([]*models.Job, error) {
	s.gotID = id
	return s.jobs, nil
}

type appLister struct{ *stubLists }

func (a appLister) ListByTester(_ context.Context, id uuid.UUID) ([]*models.Application, error) {
	a.gotID = id
	return a.apps, nil
}

type paymentLister struct{ *stubLists }

func (p paymentLister) ListByTester(_ context.Context, id uuid.UUID) ([]*models.Payment, error) {
	return p.payments, nil
}

func authed(method, path string, userID uuid.UUID, role string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	return req.WithContext(middleware.WithPrincipal(req.Context(), &middleware.Principal{UserID: userID, Role: role}))
}

// ---------------------------------------------------------------------------
// Developer dashboard
// ---------------------------------------------------------------------------

func TestDeveloperDashboard(t *testing.T) {
	lists := &stubLists{jobs: []*models.Job{{ID: uuid.New(), Title: "Beta", Status: models.JobStatusActive}}}
	h := NewHandler(&stubLedger{dev: &ledger.DeveloperSummary{EscrowedCents: 5000, FeesCents: 750}}, lists, appLister{lists}, paymentLister{lists}, nil)
	devID := uuid.New()

	rec := httptest.NewRecorder()
	h.Developer(rec, authed(http.MethodGet, "/api/v1/dashboard/developer", devID, models.RoleDeveloper))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if lists.gotID != devID {
		t.Errorf("jobs listed for %s, want caller %s", lists.gotID, devID)
	}
	var body struct {
		Summary ledger.DeveloperSummary `json:"summary"`
		Jobs    []models.Job            `json:"jobs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Summary.EscrowedCents != 5000 || body.Summary.FeesCents != 750 {
		t.Errorf("unexpected summary %+v", body.Summary)
	}
	if len(body.Jobs) != 1 || body.Jobs[0].Title != "Beta" {
		t.Errorf("unexpected jobs %+v", body.Jobs)
	}
}

func TestDeveloperDashboard_LedgerError(t *testing.T) {
	lists := &stubLists{}
	h := NewHandler(&stubLedger{err: errors.New("db down")}, lists, appLister{lists}, paymentLister{lists}, nil)

	rec := httptest.NewRecorder()
	h.Developer(rec, authed(http.MethodGet, "/api/v1/dashboard/developer", uuid.New(), models.RoleDeveloper))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

// ---------------------------------------------------------------------------
// Tester dashboard
// ---------------------------------------------------------------------------

func TestTesterDashboard_EmptyListsAreArrays(t *testing.T) {
	lists := &stubLists{}
	h := NewHandler(&stubLedger{tester: &ledger.TesterSummary{EarnedCents: 1000}}, lists, appLister{lists}, paymentLister{lists}, nil)

	rec := httptest.NewRecorder()
	h.Tester(rec, authed(http.MethodGet, "/api/v1/dashboard/tester", uuid.New(), models.RoleTester))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(body["applications"]) != "[]" || string(body["payments"]) != "[]" {
		t.Errorf("expected empty arrays, got %s / %s", body["applications"], body["payments"])
	}
}

func TestDashboard_RequiresPrincipal(t *testing.T) {
	lists := &stubLists{}
	h := NewHandler(&stubLedger{}, lists, appLister{lists}, paymentLister{lists}, nil)

	rec := httptest.NewRecorder()
	h.Tester(rec, httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/tester", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}
