package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/config"
	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

// CreateJobInput carries the developer-supplied fields of a new job.
type CreateJobInput struct {
	Title                 string  `json:"title"`
	Description           string  `json:"description"`
	AppPackage            string  `json:"app_package"`
	OptInURL              string  `json:"opt_in_url"`
	TestersNeeded         int     `json:"testers_needed"`
	PaymentPerTesterCents int64   `json:"payment_per_tester_cents"`
	TestDurationDays      float64 `json:"test_duration_days"`
}

// Store is the job persistence used by the service. *Repository implements it.
type Store interface {
	Create(ctx context.Context, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*models.Job, error)
	ListActive(ctx context.Context, limit int) ([]*models.Job, error)
	SetFundingIntent(ctx context.Context, id uuid.UUID, intentID string) error
	ActivateFunded(ctx context.Context, id uuid.UUID, intentID string, at time.Time) (bool, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type Service interface {
	CreateJob(ctx context.Context, developerID uuid.UUID, in CreateJobInput) (*models.Job, error)
	FundJob(ctx context.Context, developerID, jobID uuid.UUID) (*gateway.FundingIntent, error)
	ConfirmFunding(ctx context.Context, developerID, jobID uuid.UUID) (*models.Job, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	ListByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*models.Job, error)
	ListActive(ctx context.Context, limit int) ([]*models.Job, error)
	CancelJob(ctx context.Context, developerID, jobID uuid.UUID) (*models.Job, error)
}

type service struct {
	repo Store
	gw   gateway.Gateway
	cfg  config.Config
	log  *slog.Logger
	now  func() time.Time
}

func NewService(repo Store, gw gateway.Gateway, cfg config.Config, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, gw: gw, cfg: cfg, log: log, now: time.Now}
}

var _ Service = (*service)(nil)

// CreateJob fixes the total budget and platform fee at creation time.
func (s *service) CreateJob(ctx context.Context, developerID uuid.UUID, in CreateJobInput) (*models.Job, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", services.ErrValidation)
	}
	if in.TestersNeeded <= 0 || in.PaymentPerTesterCents <= 0 || in.TestDurationDays <= 0 {
		return nil, fmt.Errorf("%w: testers, payment and duration must be positive", services.ErrValidation)
	}
	total := in.PaymentPerTesterCents * int64(in.TestersNeeded)
	j := &models.Job{
		DeveloperID:           developerID,
		Title:                 title,
		Description:           strings.TrimSpace(in.Description),
		AppPackage:            strings.TrimSpace(in.AppPackage),
		OptInURL:              strings.TrimSpace(in.OptInURL),
		TestersNeeded:         in.TestersNeeded,
		PaymentPerTesterCents: in.PaymentPerTesterCents,
		TotalBudgetCents:      total,
		PlatformFeeCents:      s.cfg.FeeFor(total),
		TestDurationDays:      in.TestDurationDays,
	}
	if err := s.repo.Create(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *service) owned(ctx context.Context, developerID, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.DeveloperID != developerID {
		return nil, services.ErrForbidden
	}
	return j, nil
}

// FundJob creates the funding payment intent for budget plus fee.
func (s *service) FundJob(ctx context.Context, developerID, jobID uuid.UUID) (*gateway.FundingIntent, error) {
	j, err := s.owned(ctx, developerID, jobID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionJob(j.Status, models.JobStatusActive) {
		return nil, fmt.Errorf("%w: job is %s", services.ErrIneligible, j.Status)
	}
	intent, err := s.gw.CreateFundingIntent(ctx, j.ID, j.FundingAmountCents(), s.cfg.PayoutCurrency)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SetFundingIntent(ctx, j.ID, intent.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: job is no longer a draft", services.ErrIneligible)
		}
		return nil, err
	}
	s.log.Info("funding intent created", "job_id", j.ID, "intent_id", intent.ID, "amount_cents", intent.AmountCents)
	return intent, nil
}

// ConfirmFunding activates a DRAFT job after asking the gateway whether its
// funding intent succeeded. It is the verified alternative to waiting for the
// funding webhook.
func (s *service) ConfirmFunding(ctx context.Context, developerID, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.owned(ctx, developerID, jobID)
	if err != nil {
		return nil, err
	}
	switch {
	case j.Status == models.JobStatusActive || j.Status == models.JobStatusInProgress:
		return j, nil
	case !models.CanTransitionJob(j.Status, models.JobStatusActive):
		return nil, fmt.Errorf("%w: job is %s", services.ErrIneligible, j.Status)
	case j.FundingIntentID == nil:
		return nil, fmt.Errorf("%w: job has not been funded", services.ErrIneligible)
	}
	intent, err := s.gw.RetrieveFundingIntent(ctx, *j.FundingIntentID)
	if err != nil {
		return nil, err
	}
	if !intent.Succeeded() {
		return nil, fmt.Errorf("%w: funding is %s", services.ErrIneligible, intent.Status)
	}
	if intent.AmountCents < j.FundingAmountCents() {
		return nil, fmt.Errorf("%w: funded %d of %d cents", services.ErrIneligible, intent.AmountCents, j.FundingAmountCents())
	}
	if _, err := s.repo.ActivateFunded(ctx, j.ID, intent.ID, s.now()); err != nil {
		return nil, err
	}
	s.log.Info("job funding confirmed by developer", "job_id", j.ID, "intent_id", intent.ID)
	return s.repo.GetByID(ctx, j.ID)
}

func (s *service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	return s.repo.GetByID(ctx, jobID)
}

func (s *service) ListByDeveloper(ctx context.Context, developerID uuid.UUID) ([]*models.Job, error) {
	return s.repo.ListByDeveloper(ctx, developerID)
}

func (s *service) ListActive(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.repo.ListActive(ctx, limit)
}

func (s *service) CancelJob(ctx context.Context, developerID, jobID uuid.UUID) (*models.Job, error) {
	j, err := s.owned(ctx, developerID, jobID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionJob(j.Status, models.JobStatusCancelled) {
		return nil, fmt.Errorf("%w: job is %s", services.ErrIneligible, j.Status)
	}
	if err := s.repo.Cancel(ctx, j.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: only draft jobs can be cancelled", services.ErrIneligible)
		}
		return nil, err
	}
	j.Status = models.JobStatusCancelled
	return j, nil
}
