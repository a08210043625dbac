package router

import (
	"net/http"

	"github.com/evansmunsha/testforpay-sub001/internal/auth"
	"github.com/evansmunsha/testforpay-sub001/internal/dashboard"
	"github.com/evansmunsha/testforpay-sub001/internal/handlers"
	"github.com/evansmunsha/testforpay-sub001/internal/jobs"
	"github.com/evansmunsha/testforpay-sub001/internal/middleware"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/payouts"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

// Handlers groups the HTTP handlers mounted by New.
type Handlers struct {
	Auth         *auth.Handler
	Jobs         *jobs.Handler
	Applications *handlers.ApplicationHandler
	Payouts      *payouts.Handler
	Dashboard    *dashboard.Handler
	Admin        *handlers.AdminHandler
	Webhook      *handlers.WebhookHandler
}

// New returns an http.Handler that serves the API under /api/v1 and the
// gateway webhook under /api/webhooks.
func New(h Handlers, tokens middleware.TokenValidator, bodies middleware.BodyValidator) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"

	// as wraps fn so only authenticated callers holding one of roles reach it.
	as := func(fn http.HandlerFunc, roles ...string) http.Handler {
		return middleware.Authenticate(tokens)(middleware.RequireRole(roles...)(fn))
	}
	// withBody validates the JSON body against schema before fn runs.
	withBody := func(schema string, fn http.HandlerFunc) http.HandlerFunc {
		return middleware.ValidateBody(bodies, schema)(fn).ServeHTTP
	}

	const (
		dev    = models.RoleDeveloper
		tester = models.RoleTester
		admin  = models.RoleAdmin
	)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST "+base+"/auth/register", h.Auth.Register)
	mux.HandleFunc("POST "+base+"/auth/login", h.Auth.Login)

	mux.Handle("POST "+base+"/jobs", as(withBody(services.SchemaJobCreate, h.Jobs.CreateJob), dev))
	mux.Handle("GET "+base+"/jobs", as(h.Jobs.ListJobs, dev))
	mux.Handle("GET "+base+"/jobs/active", as(h.Jobs.ListActive, dev, tester, admin))
	mux.Handle("GET "+base+"/jobs/{id}", as(h.Jobs.GetJob, dev, tester, admin))
	mux.Handle("POST "+base+"/jobs/{id}/fund", as(h.Jobs.FundJob, dev))
	mux.Handle("POST "+base+"/jobs/{id}/confirm-funding", as(h.Jobs.ConfirmFunding, dev))
	mux.Handle("POST "+base+"/jobs/{id}/cancel", as(h.Jobs.CancelJob, dev))

	mux.Handle("POST "+base+"/jobs/{id}/applications", as(h.Applications.Apply, tester))
	mux.Handle("GET "+base+"/jobs/{id}/applications", as(h.Applications.ListForJob, dev))
	mux.Handle("GET "+base+"/applications", as(h.Applications.ListMine, tester))
	mux.Handle("POST "+base+"/applications/{id}/approve", as(h.Applications.Approve, dev))
	mux.Handle("POST "+base+"/applications/{id}/reject", as(h.Applications.Reject, dev))
	mux.Handle("POST "+base+"/applications/{id}/opt-in", as(h.Applications.OptIn, tester))
	mux.Handle("POST "+base+"/applications/{id}/verify", as(withBody(services.SchemaVerify, h.Applications.Verify), tester))
	mux.Handle("POST "+base+"/applications/{id}/start", as(h.Applications.Start, dev, tester))
	mux.Handle("POST "+base+"/applications/{id}/feedback", as(withBody(services.SchemaFeedback, h.Applications.Feedback), tester))
	mux.Handle("POST "+base+"/applications/{id}/usage", as(withBody(services.SchemaUsageBatch, h.Applications.Usage), tester))

	mux.Handle("POST "+base+"/payouts/onboard", as(h.Payouts.Onboard, tester))
	mux.Handle("GET "+base+"/payouts/status", as(h.Payouts.Status, tester))

	mux.Handle("GET "+base+"/dashboard/developer", as(h.Dashboard.Developer, dev))
	mux.Handle("GET "+base+"/dashboard/tester", as(h.Dashboard.Tester, tester))

	mux.Handle("POST "+base+"/admin/settlements/run", as(h.Admin.RunSettlement, admin))
	mux.Handle("POST "+base+"/admin/payments/{id}/retry", as(h.Admin.RetryPayment, admin))
	mux.Handle("POST "+base+"/admin/developers/{id}/activate-jobs", as(h.Admin.ActivateJobs, admin))

	// Authenticated by signature, not by token.
	mux.HandleFunc("POST /api/webhooks/stripe", h.Webhook.Stripe)

	return mux
}
