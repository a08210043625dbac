package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
)

const paymentColumns = `id, application_id, job_id, tester_id, amount_cents, platform_fee_cents, total_amount_cents, currency, status,
	payment_intent_id, transfer_id, failure_reason, escrowed_at, completed_at, failed_at, created_at, updated_at`

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.ApplicationID, &p.JobID, &p.TesterID, &p.AmountCents, &p.PlatformFeeCents, &p.TotalAmountCents, &p.Currency, &p.Status,
		&p.PaymentIntentID, &p.TransferID, &p.FailureReason, &p.EscrowedAt, &p.CompletedAt, &p.FailedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, Translate(err)
	}
	return &p, nil
}

// Create inserts a payment. A second open payment for the same application
// violates payments_one_open_per_application and yields ErrDuplicate.
func (r *PaymentRepo) Create(ctx context.Context, p *models.Payment) error {
	if p.Status == "" {
		p.Status = models.PaymentStatusPending
	}
	var failedAt *time.Time
	if p.Status == models.PaymentStatusFailed {
		now := time.Now()
		failedAt = &now
		p.FailedAt = failedAt
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO payments (application_id, job_id, tester_id, amount_cents, platform_fee_cents, total_amount_cents,
			currency, status, payment_intent_id, failure_reason, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at
	`, p.ApplicationID, p.JobID, p.TesterID, p.AmountCents, p.PlatformFeeCents, p.TotalAmountCents,
		p.Currency, p.Status, p.PaymentIntentID, p.FailureReason, failedAt).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return Translate(err)
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id))
}

// GetOpenByApplication returns the single non-failed, non-refunded payment
// for an application, or ErrNotFound.
func (r *PaymentRepo) GetOpenByApplication(ctx context.Context, applicationID uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE application_id = $1 AND status IN ('PENDING', 'ESCROWED', 'PROCESSING', 'COMPLETED')
	`, applicationID))
}

func (r *PaymentRepo) ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]*models.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE application_id = $1 ORDER BY created_at`, applicationID)
}

func (r *PaymentRepo) ListByTester(ctx context.Context, testerID uuid.UUID) ([]*models.Payment, error) {
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE tester_id = $1 ORDER BY created_at DESC`, testerID)
}

func (r *PaymentRepo) ListByStatus(ctx context.Context, status string, limit int) ([]*models.Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.list(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY updated_at DESC LIMIT $2`, status, limit)
}

func (r *PaymentRepo) list(ctx context.Context, query string, args ...any) ([]*models.Payment, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// Claim moves PENDING -> ESCROWED. Only the claimant may call the gateway.
func (r *PaymentRepo) Claim(ctx context.Context, id uuid.UUID) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE payments SET status = 'ESCROWED', escrowed_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`, id))
}

// MarkProcessing records an accepted transfer.
func (r *PaymentRepo) MarkProcessing(ctx context.Context, id uuid.UUID, transferID string) error {
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE payments SET status = 'PROCESSING', transfer_id = $2, failure_reason = NULL, updated_at = now()
		WHERE id = $1 AND status = 'ESCROWED'
	`, id, transferID))
}

// MarkFailed moves a payment from the expected status to FAILED with a reason.
func (r *PaymentRepo) MarkFailed(ctx context.Context, id uuid.UUID, from, reason string) error {
	if !models.CanTransitionPayment(from, models.PaymentStatusFailed) {
		return fmt.Errorf("%w: payment cannot fail from %s", ErrConflict, from)
	}
	return ExpectOne(r.pool.Exec(ctx, `
		UPDATE payments SET status = 'FAILED', failure_reason = $3, failed_at = now(), updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, from, reason))
}

// FailStaleClaims marks ESCROWED payments that were claimed before the
// cutoff and never got a transfer id as FAILED. Such a claim belongs to a
// settlement attempt that died or could not record its outcome.
func (r *PaymentRepo) FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payments SET status = 'FAILED', failure_reason = $2, failed_at = now(), updated_at = now()
		WHERE status = 'ESCROWED' AND transfer_id IS NULL AND escrowed_at < $1
	`, claimedBefore, reason)
	if err != nil {
		return 0, Translate(err)
	}
	return tag.RowsAffected(), nil
}

// RetryFailed moves FAILED -> PROCESSING and clears the failure reason.
// Fails with ErrDuplicate if another open payment exists for the application.
func (r *PaymentRepo) RetryFailed(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		UPDATE payments SET status = 'PROCESSING', failure_reason = NULL, failed_at = NULL, updated_at = now()
		WHERE id = $1 AND status = 'FAILED'
		RETURNING `+paymentColumns, id))
}

// CompleteForTransfer marks the payment behind a confirmed transfer as
// COMPLETED. The payment is located by application id when known, otherwise
// by transfer id. Open payments are preferred over failed ones. It returns
// the completed payment, or ErrNotFound when nothing was left to complete
// (already completed, refunded, or unknown).
func (r *PaymentRepo) CompleteForTransfer(ctx context.Context, applicationID *uuid.UUID, transferID string, at time.Time) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `
		UPDATE payments SET status = 'COMPLETED', transfer_id = $2, completed_at = $3, failure_reason = NULL, updated_at = now()
		WHERE id = (
			SELECT id FROM payments
			WHERE (($1::uuid IS NOT NULL AND application_id = $1) OR ($1::uuid IS NULL AND transfer_id = $2))
			  AND status IN ('PENDING', 'ESCROWED', 'PROCESSING', 'FAILED')
			ORDER BY CASE status WHEN 'PROCESSING' THEN 0 WHEN 'ESCROWED' THEN 1 WHEN 'PENDING' THEN 2 ELSE 3 END, created_at DESC
			LIMIT 1
			FOR UPDATE
		)
		AND NOT EXISTS (
			SELECT 1 FROM payments c
			WHERE c.status = 'COMPLETED'
			  AND (($1::uuid IS NOT NULL AND c.application_id = $1) OR c.transfer_id = $2)
		)
		RETURNING `+paymentColumns, applicationID, transferID, at))
}
