package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

const jobColumns = `id, developer_id, title, description, app_package, opt_in_url, testers_needed, payment_per_tester_cents,
	total_budget_cents, platform_fee_cents, test_duration_days, status, funding_intent_id, published_at, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanJob(row interface{ Scan(...any) error }) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.DeveloperID, &j.Title, &j.Description, &j.AppPackage, &j.OptInURL, &j.TestersNeeded, &j.PaymentPerTesterCents,
		&j.TotalBudgetCents, &j.PlatformFeeCents, &j.TestDurationDays, &j.Status, &j.FundingIntentID, &j.PublishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, repository.Translate(err)
	}
	return &j, nil
}

// Create inserts a DRAFT job. Budget and fee must already be computed.
func (r *Repository) Create(ctx context.Context, j *models.Job) error {
	j.Status = models.JobStatusDraft
	err := r.pool.QueryRow(ctx, `
		INSERT INTO jobs (developer_id, title, description, app_package, opt_in_url, testers_needed, payment_per_tester_cents,
			total_budget_cents, platform_fee_cents, test_duration_days, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, j.DeveloperID, j.Title, j.Description, j.AppPackage, j.OptInURL, j.TestersNeeded, j.PaymentPerTesterCents,
		j.TotalBudgetCents, j.PlatformFeeCents, j.TestDurationDays, j.Status).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	return repository.Translate(err)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (r *Repository) ListByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*models.Job, error) {
	return r.list(ctx, `SELECT `+jobColumns+` FROM jobs WHERE developer_id = $1 ORDER BY created_at DESC`, developerID)
}

// ListActive returns published jobs testers can still apply to.
func (r *Repository) ListActive(ctx context.Context, limit int) ([]*models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status IN ('ACTIVE', 'IN_PROGRESS')
		ORDER BY published_at DESC NULLS LAST, id
		LIMIT $1
	`, limit)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]*models.Job, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// SetFundingIntent records the payment intent created for a DRAFT job.
func (r *Repository) SetFundingIntent(ctx context.Context, id uuid.UUID, intentID string) error {
	return repository.ExpectOne(r.pool.Exec(ctx, `
		UPDATE jobs SET funding_intent_id = $2, updated_at = now()
		WHERE id = $1 AND status = 'DRAFT'
	`, id, intentID))
}

// ActivateFunded publishes a DRAFT job whose funding the gateway confirmed.
// It reports false when the job was not in DRAFT, which makes redelivered
// confirmations no-ops.
func (r *Repository) ActivateFunded(ctx context.Context, id uuid.UUID, intentID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'ACTIVE', published_at = $3,
			funding_intent_id = COALESCE(funding_intent_id, NULLIF($2, '')), updated_at = now()
		WHERE id = $1 AND status = 'DRAFT'
	`, id, intentID, at)
	if err != nil {
		return false, repository.Translate(err)
	}
	return tag.RowsAffected() == 1, nil
}

// ActivateDrafts publishes every DRAFT job of a developer without any funding check.
func (r *Repository) ActivateDrafts(ctx context.Context, developerID uuid.UUID, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'ACTIVE', published_at = $2, updated_at = now()
		WHERE developer_id = $1 AND status = 'DRAFT'
	`, developerID, at)
	if err != nil {
		return 0, repository.Translate(err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) MarkInProgress(ctx context.Context, id uuid.UUID) error {
	return repository.ExpectOne(r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'IN_PROGRESS', updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE'
	`, id))
}

func (r *Repository) Cancel(ctx context.Context, id uuid.UUID) error {
	return repository.ExpectOne(r.pool.Exec(ctx, `
		UPDATE jobs SET status = 'CANCELLED', updated_at = now()
		WHERE id = $1 AND status = 'DRAFT'
	`, id))
}

// CompleteFinished closes IN_PROGRESS jobs among jobIDs that have enough
// completed engagements, nothing still in flight and a payment record for
// every completed engagement.
func (r *Repository) CompleteFinished(ctx context.Context, jobIDs []uuid.UUID) (int64, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs j SET status = 'COMPLETED', updated_at = now()
		WHERE j.id = ANY($1) AND j.status = 'IN_PROGRESS'
		  AND (SELECT count(*) FROM applications a WHERE a.job_id = j.id AND a.status = 'COMPLETED') >= j.testers_needed
		  AND NOT EXISTS (
			SELECT 1 FROM applications a
			WHERE a.job_id = j.id AND a.status IN ('APPROVED', 'OPTED_IN', 'VERIFIED', 'TESTING'))
		  AND NOT EXISTS (
			SELECT 1 FROM applications a
			WHERE a.job_id = j.id AND a.status = 'COMPLETED'
			  AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.application_id = a.id))
	`, jobIDs)
	if err != nil {
		return 0, repository.Translate(err)
	}
	return tag.RowsAffected(), nil
}
