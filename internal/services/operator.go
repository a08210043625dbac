package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

type OperatorPaymentRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	RetryFailed(ctx context.Context, id uuid.UUID) (*models.Payment, error)
}

type OperatorJobRepo interface {
	ActivateDrafts(ctx context.Context, developerID uuid.UUID, at time.Time) (int64, error)
}

// Settler runs one settlement scan.
type Settler interface {
	ProcessCompletedEngagements(ctx context.Context) ([]SettlementResult, error)
}

// Operator holds the admin-only controls for unsticking ledger state.
type Operator struct {
	Payments   OperatorPaymentRepo
	Jobs       OperatorJobRepo
	Settlement Settler
	Logger     *slog.Logger
	Now        func() time.Time
}

func NewOperator(payments OperatorPaymentRepo, jobs OperatorJobRepo, settlement Settler, logger *slog.Logger) *Operator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Operator{Payments: payments, Jobs: jobs, Settlement: settlement, Logger: logger, Now: time.Now}
}

// RetryFailedPayment puts a FAILED payment back into PROCESSING so a later
// gateway confirmation can complete it. It does not call the gateway.
func (o *Operator) RetryFailedPayment(ctx context.Context, paymentID uuid.UUID) (*models.Payment, error) {
	current, err := o.Payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if current.Status != models.PaymentStatusFailed {
		return nil, fmt.Errorf("%w: payment is %s", repository.ErrConflict, current.Status)
	}
	p, err := o.Payments.RetryFailed(ctx, paymentID)
	switch {
	case err == nil:
		o.Logger.Info("failed payment re-queued", "payment_id", paymentID, "application_id", p.ApplicationID)
		return p, nil
	case errors.Is(err, repository.ErrDuplicate):
		return nil, fmt.Errorf("%w: application already has an open payment", repository.ErrConflict)
	case errors.Is(err, repository.ErrNotFound):
		// Lost a race with a concurrent retry or confirmation.
		return nil, fmt.Errorf("%w: payment changed concurrently", repository.ErrConflict)
	}
	return nil, err
}

// ActivateUnconfirmedJobs activates every DRAFT job of a developer without
// checking the gateway. Unpaid jobs may go live; prefer a verified funding
// confirmation.
func (o *Operator) ActivateUnconfirmedJobs(ctx context.Context, developerID uuid.UUID) (int64, error) {
	n, err := o.Jobs.ActivateDrafts(ctx, developerID, o.Now())
	if err != nil {
		return 0, err
	}
	o.Logger.Warn("jobs activated without gateway-confirmed funding", "developer_id", developerID, "count", n)
	return n, nil
}

func (o *Operator) RunSettlement(ctx context.Context) ([]SettlementResult, error) {
	return o.Settlement.ProcessCompletedEngagements(ctx)
}
