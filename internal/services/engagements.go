package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

const maxUsageBatch = 500

type EngagementAppRepo interface {
	Create(ctx context.Context, a *models.Application) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Application, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.Application, error)
	ListByTester(ctx context.Context, testerID uuid.UUID) ([]*models.Application, error)
	CountOccupyingSlots(ctx context.Context, jobID uuid.UUID) (int, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string) error
	ApproveWithinQuota(ctx context.Context, id uuid.UUID) error
	MarkVerified(ctx context.Context, id uuid.UUID, imageRef string, at time.Time) error
	StartTesting(ctx context.Context, id uuid.UUID, start, end time.Time) error
	SaveFeedback(ctx context.Context, id uuid.UUID, feedback string, rating int) error
	SetEngagementScore(ctx context.Context, id uuid.UUID, score int, flags []string) error
}

type EngagementJobRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	MarkInProgress(ctx context.Context, id uuid.UUID) error
}

type UsageLogStore interface {
	InsertBatch(ctx context.Context, logs []models.UsageLog) (int64, error)
	ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]models.UsageLog, error)
}

// UsageEvent is one client-reported usage record.
type UsageEvent struct {
	EventType       string    `json:"event_type"`
	Feature         string    `json:"feature,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// EngagementService drives an application from PENDING to TESTING and
// collects feedback and usage while testing.
type EngagementService struct {
	Apps   EngagementAppRepo
	Jobs   EngagementJobRepo
	Usage  UsageLogStore
	Logger *slog.Logger
	Now    func() time.Time
}

func NewEngagementService(apps EngagementAppRepo, jobs EngagementJobRepo, usage UsageLogStore, logger *slog.Logger) *EngagementService {
	if logger == nil {
		logger = slog.Default()
	}
	return &EngagementService{Apps: apps, Jobs: jobs, Usage: usage, Logger: logger, Now: time.Now}
}

func ineligible(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIneligible, fmt.Sprintf(format, args...))
}

// Apply creates a PENDING application for an open job with free slots.
func (s *EngagementService) Apply(ctx context.Context, testerID, jobID uuid.UUID) (*models.Application, error) {
	job, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.DeveloperID == testerID {
		return nil, ineligible("cannot apply to your own job")
	}
	if job.Status != models.JobStatusActive && job.Status != models.JobStatusInProgress {
		return nil, ineligible("job is %s", job.Status)
	}
	taken, err := s.Apps.CountOccupyingSlots(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if taken >= job.TestersNeeded {
		return nil, ineligible("job has no free tester slots")
	}
	app := &models.Application{JobID: jobID, TesterID: testerID, Status: models.ApplicationStatusPending}
	if err := s.Apps.Create(ctx, app); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ineligible("already applied to this job")
		}
		return nil, err
	}
	return app, nil
}

// loadForDeveloper returns the application and its job if the caller owns the job.
func (s *EngagementService) loadForDeveloper(ctx context.Context, developerID, appID uuid.UUID) (*models.Application, *models.Job, error) {
	app, err := s.Apps.GetByID(ctx, appID)
	if err != nil {
		return nil, nil, err
	}
	job, err := s.Jobs.GetByID(ctx, app.JobID)
	if err != nil {
		return nil, nil, err
	}
	if job.DeveloperID != developerID {
		return nil, nil, ErrForbidden
	}
	return app, job, nil
}

func (s *EngagementService) loadForTester(ctx context.Context, testerID, appID uuid.UUID) (*models.Application, error) {
	app, err := s.Apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.TesterID != testerID {
		return nil, ErrForbidden
	}
	return app, nil
}

func (s *EngagementService) transition(ctx context.Context, app *models.Application, to string) error {
	if !models.CanTransitionApplication(app.Status, to) {
		return ineligible("application is %s", app.Status)
	}
	if err := s.Apps.UpdateStatus(ctx, app.ID, app.Status, to); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return ineligible("application changed concurrently")
		}
		return err
	}
	app.Status = to
	return nil
}

func (s *EngagementService) Approve(ctx context.Context, developerID, appID uuid.UUID) (*models.Application, error) {
	app, _, err := s.loadForDeveloper(ctx, developerID, appID)
	if err != nil {
		return nil, err
	}
	if !models.CanTransitionApplication(app.Status, models.ApplicationStatusApproved) {
		return nil, ineligible("application is %s", app.Status)
	}
	if err := s.Apps.ApproveWithinQuota(ctx, app.ID); err != nil {
		switch {
		case errors.Is(err, repository.ErrNoCapacity):
			return nil, ineligible("job has no free tester slots")
		case errors.Is(err, repository.ErrConflict):
			return nil, ineligible("application changed concurrently")
		}
		return nil, err
	}
	app.Status = models.ApplicationStatusApproved
	return app, nil
}

func (s *EngagementService) Reject(ctx context.Context, developerID, appID uuid.UUID) (*models.Application, error) {
	app, _, err := s.loadForDeveloper(ctx, developerID, appID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, app, models.ApplicationStatusRejected); err != nil {
		return nil, err
	}
	return app, nil
}

func (s *EngagementService) OptIn(ctx context.Context, testerID, appID uuid.UUID) (*models.Application, error) {
	app, err := s.loadForTester(ctx, testerID, appID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, app, models.ApplicationStatusOptedIn); err != nil {
		return nil, err
	}
	return app, nil
}

// Verify records the tester's proof of opt-in.
func (s *EngagementService) Verify(ctx context.Context, testerID, appID uuid.UUID, imageRef string) (*models.Application, error) {
	app, err := s.loadForTester(ctx, testerID, appID)
	if err != nil {
		return nil, err
	}
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return nil, fmt.Errorf("%w: verification image is required", ErrValidation)
	}
	if app.Status != models.ApplicationStatusOptedIn {
		return nil, ineligible("application is %s", app.Status)
	}
	now := s.Now()
	if err := s.Apps.MarkVerified(ctx, app.ID, imageRef, now); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ineligible("application changed concurrently")
		}
		return nil, err
	}
	app.Status = models.ApplicationStatusVerified
	app.VerificationImage = &imageRef
	app.VerifiedAt = &now
	return app, nil
}

// StartTesting opens the test window. Either the tester or the job owner may
// start it. The job moves to IN_PROGRESS with its first tester.
func (s *EngagementService) StartTesting(ctx context.Context, actorID, appID uuid.UUID) (*models.Application, error) {
	app, err := s.Apps.GetByID(ctx, appID)
	if err != nil {
		return nil, err
	}
	job, err := s.Jobs.GetByID(ctx, app.JobID)
	if err != nil {
		return nil, err
	}
	if actorID != app.TesterID && actorID != job.DeveloperID {
		return nil, ErrForbidden
	}
	if app.Status != models.ApplicationStatusVerified {
		return nil, ineligible("application is %s", app.Status)
	}
	start := s.Now()
	end := start.Add(job.TestDuration())
	if err := s.Apps.StartTesting(ctx, app.ID, start, end); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ineligible("application changed concurrently")
		}
		return nil, err
	}
	if models.CanTransitionJob(job.Status, models.JobStatusInProgress) {
		if err := s.Jobs.MarkInProgress(ctx, job.ID); err != nil && !errors.Is(err, repository.ErrConflict) {
			s.Logger.Error("mark job in progress", "job_id", job.ID, "error", err)
		}
	}
	app.Status = models.ApplicationStatusTesting
	app.TestingStartDate = &start
	app.TestingEndDate = &end
	return app, nil
}

// SubmitFeedback stores the tester's feedback once.
func (s *EngagementService) SubmitFeedback(ctx context.Context, testerID, appID uuid.UUID, feedback string, rating int) (*models.Application, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, fmt.Errorf("%w: feedback is required", ErrValidation)
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrValidation)
	}
	app, err := s.loadForTester(ctx, testerID, appID)
	if err != nil {
		return nil, err
	}
	if app.Feedback != nil {
		return nil, ineligible("feedback already submitted")
	}
	if app.Status != models.ApplicationStatusTesting && app.Status != models.ApplicationStatusCompleted {
		return nil, ineligible("application is %s", app.Status)
	}
	if err := s.Apps.SaveFeedback(ctx, app.ID, feedback, rating); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, ineligible("feedback already submitted")
		}
		return nil, err
	}
	app.Feedback = &feedback
	app.Rating = &rating

	// Settlement may have scored the engagement before this feedback existed.
	// Reload so a completion that raced this call is seen too.
	current, err := s.Apps.GetByID(ctx, app.ID)
	if err != nil {
		s.Logger.Warn("reload application after feedback", "application_id", app.ID, "error", err)
		return app, nil
	}
	if current.Status == models.ApplicationStatusCompleted {
		s.rescore(ctx, current)
	}
	return current, nil
}

// rescore recomputes the engagement score and fraud flags of a completed
// application. Failures are logged; the stored score is left as it was.
func (s *EngagementService) rescore(ctx context.Context, app *models.Application) {
	log := s.Logger.With("application_id", app.ID)
	logs, err := s.Usage.ListByApplication(ctx, app.ID)
	if err != nil {
		log.Warn("load usage logs for scoring", "error", err)
		return
	}
	score := ScoreEngagement(app, logs)
	flags := DetectFraud(app, logs)
	if err := s.Apps.SetEngagementScore(ctx, app.ID, score, flags); err != nil {
		log.Warn("store engagement score", "error", err)
		return
	}
	app.EngagementScore = &score
	app.FraudFlags = flags
}

// RecordUsage stores usage events reported while the application is testing.
func (s *EngagementService) RecordUsage(ctx context.Context, testerID, appID uuid.UUID, events []UsageEvent) (int64, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("%w: no events", ErrValidation)
	}
	if len(events) > maxUsageBatch {
		return 0, fmt.Errorf("%w: at most %d events per batch", ErrValidation, maxUsageBatch)
	}
	app, err := s.loadForTester(ctx, testerID, appID)
	if err != nil {
		return 0, err
	}
	if app.Status != models.ApplicationStatusTesting {
		return 0, ineligible("application is %s", app.Status)
	}
	logs := make([]models.UsageLog, 0, len(events))
	for i, ev := range events {
		if !models.ValidUsageEvent(ev.EventType) {
			return 0, fmt.Errorf("%w: event %d: unknown type %q", ErrValidation, i, ev.EventType)
		}
		if ev.DurationSeconds < 0 {
			return 0, fmt.Errorf("%w: event %d: negative duration", ErrValidation, i)
		}
		at := ev.OccurredAt
		if at.IsZero() {
			at = s.Now()
		}
		logs = append(logs, models.UsageLog{
			ApplicationID:   app.ID,
			EventType:       ev.EventType,
			Feature:         strings.TrimSpace(ev.Feature),
			DurationSeconds: ev.DurationSeconds,
			OccurredAt:      at,
		})
	}
	return s.Usage.InsertBatch(ctx, logs)
}

func (s *EngagementService) ListForTester(ctx context.Context, testerID uuid.UUID) ([]*models.Application, error) {
	return s.Apps.ListByTester(ctx, testerID)
}

func (s *EngagementService) ListForJob(ctx context.Context, developerID, jobID uuid.UUID) ([]*models.Application, error) {
	job, err := s.Jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.DeveloperID != developerID {
		return nil, ErrForbidden
	}
	return s.Apps.ListByJob(ctx, jobID)
}
