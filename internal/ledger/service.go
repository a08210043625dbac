package ledger

import (
	"context"

	"github.com/google/uuid"
)

// DeveloperSummary is the money view of a developer's account.
type DeveloperSummary struct {
	EscrowedCents  int64 `json:"escrowed_cents"`
	PaidOutCents   int64 `json:"paid_out_cents"`
	PendingCents   int64 `json:"pending_cents"`
	FeesCents      int64 `json:"fees_cents"`
	OpenJobs       int   `json:"open_jobs"`
	FailedPayments int   `json:"failed_payments"`
}

// TesterSummary is the money view of a tester's account.
type TesterSummary struct {
	EarnedCents          int64 `json:"earned_cents"`
	PendingCents         int64 `json:"pending_cents"`
	FailedPayments       int   `json:"failed_payments"`
	CompletedEngagements int   `json:"completed_engagements"`
	ActiveEngagements    int   `json:"active_engagements"`
}

// Totals is implemented by *Repository.
type Totals interface {
	DeveloperTotals(ctx context.Context, developerID uuid.UUID) (DeveloperTotals, error)
	TesterTotals(ctx context.Context, testerID uuid.UUID) (TesterTotals, error)
}

type Service interface {
	DeveloperSummary(ctx context.Context, developerID uuid.UUID) (*DeveloperSummary, error)
	TesterSummary(ctx context.Context, testerID uuid.UUID) (*TesterSummary, error)
}

type service struct {
	repo Totals
}

func NewService(repo Totals) Service {
	return &service{repo: repo}
}

var _ Service = (*service)(nil)

// DeveloperSummary reports escrow as funded budget not yet paid out.
// Fees are never escrowed, and money in flight still counts as escrowed.
func (s *service) DeveloperSummary(ctx context.Context, developerID uuid.UUID) (*DeveloperSummary, error) {
	t, err := s.repo.DeveloperTotals(ctx, developerID)
	if err != nil {
		return nil, err
	}
	escrowed := t.FundedBudgetCents - t.PaidOutCents
	if escrowed < 0 {
		escrowed = 0
	}
	return &DeveloperSummary{
		EscrowedCents:  escrowed,
		PaidOutCents:   t.PaidOutCents,
		PendingCents:   t.PendingCents,
		FeesCents:      t.FeesCents,
		OpenJobs:       t.OpenJobs,
		FailedPayments: t.FailedPayments,
	}, nil
}

func (s *service) TesterSummary(ctx context.Context, testerID uuid.UUID) (*TesterSummary, error) {
	t, err := s.repo.TesterTotals(ctx, testerID)
	if err != nil {
		return nil, err
	}
	return &TesterSummary{
		EarnedCents:          t.EarnedCents,
		PendingCents:         t.PendingCents,
		FailedPayments:       t.FailedPayments,
		CompletedEngagements: t.CompletedEngagements,
		ActiveEngagements:    t.ActiveEngagements,
	}, nil
}
