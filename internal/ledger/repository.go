package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DeveloperTotals are raw sums over a developer's jobs and the payments
// drawn against them.
type DeveloperTotals struct {
	FundedBudgetCents int64
	FeesCents         int64
	OpenJobs          int
	PaidOutCents      int64
	PendingCents      int64
	FailedPayments    int
}

// TesterTotals are raw sums over a tester's payments and engagements.
type TesterTotals struct {
	EarnedCents          int64
	PendingCents         int64
	FailedPayments       int
	CompletedEngagements int
	ActiveEngagements    int
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// DeveloperTotals reads job and payment sums in one round trip. Only jobs
// that were published count as funded.
func (r *Repository) DeveloperTotals(ctx context.Context, developerID uuid.UUID) (DeveloperTotals, error) {
	var t DeveloperTotals
	batch := &pgx.Batch{}
	batch.Queue(`
		SELECT COALESCE(SUM(total_budget_cents) FILTER (WHERE published_at IS NOT NULL), 0),
		       COALESCE(SUM(platform_fee_cents) FILTER (WHERE published_at IS NOT NULL), 0),
		       COUNT(*) FILTER (WHERE status IN ('ACTIVE', 'IN_PROGRESS'))
		FROM jobs WHERE developer_id = $1
	`, developerID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&t.FundedBudgetCents, &t.FeesCents, &t.OpenJobs)
	})
	batch.Queue(`
		SELECT COALESCE(SUM(p.amount_cents) FILTER (WHERE p.status = 'COMPLETED'), 0),
		       COALESCE(SUM(p.amount_cents) FILTER (WHERE p.status IN ('PENDING', 'ESCROWED', 'PROCESSING')), 0),
		       COUNT(*) FILTER (WHERE p.status = 'FAILED')
		FROM payments p JOIN jobs j ON j.id = p.job_id
		WHERE j.developer_id = $1
	`, developerID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&t.PaidOutCents, &t.PendingCents, &t.FailedPayments)
	})
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return DeveloperTotals{}, err
	}
	return t, nil
}

func (r *Repository) TesterTotals(ctx context.Context, testerID uuid.UUID) (TesterTotals, error) {
	var t TesterTotals
	batch := &pgx.Batch{}
	batch.Queue(`
		SELECT COALESCE(SUM(amount_cents) FILTER (WHERE status = 'COMPLETED'), 0),
		       COALESCE(SUM(amount_cents) FILTER (WHERE status IN ('PENDING', 'ESCROWED', 'PROCESSING')), 0),
		       COUNT(*) FILTER (WHERE status = 'FAILED')
		FROM payments WHERE tester_id = $1
	`, testerID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&t.EarnedCents, &t.PendingCents, &t.FailedPayments)
	})
	batch.Queue(`
		SELECT COUNT(*) FILTER (WHERE status = 'COMPLETED'),
		       COUNT(*) FILTER (WHERE status IN ('APPROVED', 'OPTED_IN', 'VERIFIED', 'TESTING'))
		FROM applications WHERE tester_id = $1
	`, testerID).QueryRow(func(row pgx.Row) error {
		return row.Scan(&t.CompletedEngagements, &t.ActiveEngagements)
	})
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return TesterTotals{}, err
	}
	return t, nil
}
