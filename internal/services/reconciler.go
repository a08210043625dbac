package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

type ReconcilerJobRepo interface {
	// ActivateFunded moves a DRAFT job to ACTIVE and stamps published_at.
	// It reports false when the job was not in DRAFT.
	ActivateFunded(ctx context.Context, jobID uuid.UUID, intentID string, at time.Time) (bool, error)
}

type ReconcilerPaymentRepo interface {
	CompleteForTransfer(ctx context.Context, applicationID *uuid.UUID, transferID string, at time.Time) (*models.Payment, error)
}

type ReconcilerUserRepo interface {
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, accountID string, payoutsEnabled bool) error
	UpdatePayoutStatusByAccount(ctx context.Context, accountID string, payoutsEnabled bool) (int64, error)
}

// Reconciler applies verified gateway events to the ledger. It is the only
// writer that moves a payment to COMPLETED.
type Reconciler struct {
	Gateway  gateway.Gateway
	Jobs     ReconcilerJobRepo
	Payments ReconcilerPaymentRepo
	Users    ReconcilerUserRepo
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewReconciler(gw gateway.Gateway, jobs ReconcilerJobRepo, payments ReconcilerPaymentRepo, users ReconcilerUserRepo, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{Gateway: gw, Jobs: jobs, Payments: payments, Users: users, Logger: logger, Now: time.Now}
}

// HandleGatewayEvent verifies the payload and applies it. Verification
// failures return gateway.ErrInvalidSignature before anything is written.
func (r *Reconciler) HandleGatewayEvent(ctx context.Context, payload []byte, signature string) (gateway.Event, error) {
	ev, err := r.Gateway.VerifyEvent(payload, signature)
	if err != nil {
		return nil, err
	}
	return ev, r.Apply(ctx, ev)
}

// Apply dispatches a verified event. Every branch is idempotent so the
// gateway may redeliver freely.
func (r *Reconciler) Apply(ctx context.Context, ev gateway.Event) error {
	log := r.Logger.With("event_id", ev.EventID(), "event_type", ev.EventType())
	switch e := ev.(type) {
	case gateway.FundingSucceeded:
		if e.JobID == nil {
			log.Warn("funding event without job reference", "intent_id", e.IntentID)
			return nil
		}
		activated, err := r.Jobs.ActivateFunded(ctx, *e.JobID, e.IntentID, r.Now())
		if err != nil {
			return fmt.Errorf("activate job %s: %w", *e.JobID, err)
		}
		log.Info("job funding confirmed", "job_id", *e.JobID, "activated", activated)

	case gateway.FundingFailed:
		log.Warn("job funding failed", "job_id", e.JobID, "intent_id", e.IntentID, "reason", e.Reason)

	case gateway.TransferConfirmed:
		if e.ApplicationID == nil && e.TransferID == "" {
			log.Warn("transfer event without correlation key")
			return nil
		}
		p, err := r.Payments.CompleteForTransfer(ctx, e.ApplicationID, e.TransferID, r.Now())
		if errors.Is(err, repository.ErrNotFound) {
			log.Info("no open payment for transfer", "transfer_id", e.TransferID, "application_id", e.ApplicationID)
			return nil
		}
		if err != nil {
			return fmt.Errorf("complete payment for transfer %s: %w", e.TransferID, err)
		}
		log.Info("payment completed", "payment_id", p.ID, "application_id", p.ApplicationID, "transfer_id", e.TransferID)

	case gateway.AccountUpdated:
		if e.UserID != nil {
			err := r.Users.UpdatePayoutStatus(ctx, *e.UserID, e.AccountID, e.PayoutsEnabled)
			if errors.Is(err, repository.ErrConflict) || errors.Is(err, repository.ErrDuplicate) {
				log.Warn("account event not applied", "user_id", *e.UserID, "account_id", e.AccountID, "error", err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("update payout status for user %s: %w", *e.UserID, err)
			}
			return nil
		}
		n, err := r.Users.UpdatePayoutStatusByAccount(ctx, e.AccountID, e.PayoutsEnabled)
		if err != nil {
			return fmt.Errorf("update payout status for account %s: %w", e.AccountID, err)
		}
		if n == 0 {
			log.Debug("account event without matching user", "account_id", e.AccountID)
		}

	default:
		log.Debug("ignoring unrecognized event")
	}
	return nil
}
