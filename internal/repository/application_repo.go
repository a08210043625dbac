package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

const applicationColumns = `a.id, a.job_id, a.tester_id, a.status, a.verification_image, a.verified_at, a.testing_start_date, a.testing_end_date,
	a.feedback, a.rating, a.engagement_score, a.fraud_flags, a.completed_at, a.created_at, a.updated_at`

type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

func applicationDest(a *models.Application) []any {
	return []any{&a.ID, &a.JobID, &a.TesterID, &a.Status, &a.VerificationImage, &a.VerifiedAt, &a.TestingStartDate, &a.TestingEndDate,
		&a.Feedback, &a.Rating, &a.EngagementScore, &a.FraudFlags, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt}
}

func (r *ApplicationRepo) Create(ctx context.Context, a *models.Application) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO applications (job_id, tester_id, status)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, a.JobID, a.TesterID, a.Status).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	return Translate(err)
}

func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error) {
	var a models.Application
	err := r.pool.QueryRow(ctx, `SELECT `+applicationColumns+` FROM applications a WHERE a.id = $1`, id).Scan(applicationDest(&a)...)
	if err != nil {
		return nil, Translate(err)
	}
	return &a, nil
}

func (r *ApplicationRepo) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+applicationColumns+` FROM applications a WHERE a.job_id = $1 ORDER BY a.created_at`, jobID)
}

func (r *ApplicationRepo) ListByTester(ctx context.Context, testerID uuid.UUID) ([]*models.Application, error) {
	return r.list(ctx, `SELECT `+applicationColumns+` FROM applications a WHERE a.tester_id = $1 ORDER BY a.created_at DESC`, testerID)
}

func (r *ApplicationRepo) list(ctx context.Context, query string, args ...any) ([]*models.Application, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Application
	for rows.Next() {
		var a models.Application
		if err := rows.Scan(applicationDest(&a)...); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// occupyingStatuses are the application states that hold a tester slot.
const occupyingStatuses = `('APPROVED', 'OPTED_IN', 'VERIFIED', 'TESTING', 'COMPLETED')`

// CountOccupyingSlots counts applications that hold one of the job's tester slots.
func (r *ApplicationRepo) CountOccupyingSlots(ctx context.Context, jobID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM applications
		WHERE job_id = $1 AND status IN `+occupyingStatuses, jobID).Scan(&n)
	return n, err
}

// ApproveWithinQuota moves PENDING -> APPROVED while the job still has a free
// slot. The job row is locked for the count and the update, so concurrent
// approvals for one job run one at a time.
func (r *ApplicationRepo) ApproveWithinQuota(ctx context.Context, id uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var jobID uuid.UUID
	var needed int
	err = tx.QueryRow(ctx, `
		SELECT j.id, j.testers_needed
		FROM applications a JOIN jobs j ON j.id = a.job_id
		WHERE a.id = $1
		FOR UPDATE OF j
	`, id).Scan(&jobID, &needed)
	if err != nil {
		return Translate(err)
	}
	var taken int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM applications
		WHERE job_id = $1 AND status IN `+occupyingStatuses, jobID).Scan(&taken); err != nil {
		return err
	}
	if taken >= needed {
		return ErrNoCapacity
	}
	if err := ExpectOne(tx.Exec(ctx, `
		UPDATE applications SET status = 'APPROVED', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`, id)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateStatus is a compare-and-swap on status.
func (r *ApplicationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE applications SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, to))
}

func (r *ApplicationRepo) MarkVerified(ctx context.Context, id uuid.UUID, imageRef string, at time.Time) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE applications SET status = 'VERIFIED', verification_image = $2, verified_at = $3, updated_at = now()
		WHERE id = $1 AND status = 'OPTED_IN'
	`, id, imageRef, at))
}

func (r *ApplicationRepo) StartTesting(ctx context.Context, id uuid.UUID, start, end time.Time) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE applications SET status = 'TESTING', testing_start_date = $2, testing_end_date = $3, updated_at = now()
		WHERE id = $1 AND status = 'VERIFIED'
	`, id, start, end))
}

// SaveFeedback only succeeds once per application and only while testing or completed.
func (r *ApplicationRepo) SaveFeedback(ctx context.Context, id uuid.UUID, feedback string, rating int) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE applications SET feedback = $2, rating = $3, updated_at = now()
		WHERE id = $1 AND status IN ('TESTING', 'COMPLETED') AND feedback IS NULL AND rating IS NULL
	`, id, feedback, rating))
}

// MarkCompleted moves TESTING -> COMPLETED. Exactly one concurrent caller wins;
// the rest get ErrConflict.
func (r *ApplicationRepo) MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE applications SET status = 'COMPLETED', completed_at = $2, updated_at = now()
		WHERE id = $1 AND status = 'TESTING'
	`, id, at))
}

func (r *ApplicationRepo) SetEngagementScore(ctx context.Context, id uuid.UUID, score int, flags []string) error {
	if flags == nil {
		flags = []string{}
	}
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE applications SET engagement_score = $2, fraud_flags = $3, updated_at = now()
		WHERE id = $1
	`, id, score, flags))
}

// Candidate pairs an engagement with the job fields settlement needs.
type Candidate struct {
	Application models.Application
	Job         models.Job
}

// ListSettlementCandidates returns engagements whose test window has elapsed
// at now, plus completed engagements that have no payment row at all.
func (r *ApplicationRepo) ListSettlementCandidates(ctx context.Context, now time.Time) ([]*Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+applicationColumns+`,
			j.id, j.developer_id, j.title, j.status, j.testers_needed, j.payment_per_tester_cents, j.test_duration_days
		FROM applications a
		JOIN jobs j ON j.id = a.job_id
		WHERE (
			a.status = 'TESTING'
			AND a.testing_start_date IS NOT NULL
			AND a.testing_start_date + make_interval(secs => j.test_duration_days * 86400) <= $1
		) OR (
			a.status = 'COMPLETED'
			AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.application_id = a.id)
		)
		ORDER BY a.testing_start_date NULLS LAST, a.id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*Candidate
	for rows.Next() {
		var c Candidate
		dest := append(applicationDest(&c.Application),
			&c.Job.ID, &c.Job.DeveloperID, &c.Job.Title, &c.Job.Status, &c.Job.TestersNeeded, &c.Job.PaymentPerTesterCents, &c.Job.TestDurationDays)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
