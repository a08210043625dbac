package models

import (
	"time"

	"github.com/google/uuid"
)

// Application (engagement) status enums.
const (
	ApplicationStatusPending   = "PENDING"
	ApplicationStatusApproved  = "APPROVED"
	ApplicationStatusOptedIn   = "OPTED_IN"
	ApplicationStatusVerified  = "VERIFIED"
	ApplicationStatusTesting   = "TESTING"
	ApplicationStatusCompleted = "COMPLETED"
	ApplicationStatusRejected  = "REJECTED"
)

var applicationTransitions = map[string][]string{
	ApplicationStatusPending:  {ApplicationStatusApproved, ApplicationStatusRejected},
	ApplicationStatusApproved: {ApplicationStatusOptedIn, ApplicationStatusRejected},
	ApplicationStatusOptedIn:  {ApplicationStatusVerified},
	ApplicationStatusVerified: {ApplicationStatusTesting},
	ApplicationStatusTesting:  {ApplicationStatusCompleted},
}

// Application is one tester's participation in one job.
type Application struct {
	ID                uuid.UUID  `json:"id"`
	JobID             uuid.UUID  `json:"job_id"`
	TesterID          uuid.UUID  `json:"tester_id"`
	Status            string     `json:"status"`
	VerificationImage *string    `json:"verification_image,omitempty"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	TestingStartDate  *time.Time `json:"testing_start_date,omitempty"`
	TestingEndDate    *time.Time `json:"testing_end_date,omitempty"`
	Feedback          *string    `json:"feedback,omitempty"`
	Rating            *int       `json:"rating,omitempty"`
	EngagementScore   *int       `json:"engagement_score,omitempty"`
	FraudFlags        []string   `json:"fraud_flags,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// CanTransitionApplication reports whether the lifecycle allows from -> to.
func CanTransitionApplication(from, to string) bool {
	return contains(applicationTransitions[from], to)
}

// TestingElapsed reports whether the job's test duration has fully elapsed at now.
func (a *Application) TestingElapsed(job *Job, now time.Time) bool {
	if a.TestingStartDate == nil {
		return false
	}
	return now.Sub(*a.TestingStartDate) >= job.TestDuration()
}

// Usage log event types.
const (
	UsageEventAppLaunch  = "APP_LAUNCH"
	UsageEventFeatureUse = "FEATURE_USE"
	UsageEventSession    = "SESSION"
)

type UsageLog struct {
	ID              uuid.UUID `json:"id"`
	ApplicationID   uuid.UUID `json:"application_id"`
	EventType       string    `json:"event_type"`
	Feature         string    `json:"feature,omitempty"`
	DurationSeconds int       `json:"duration_seconds,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

func ValidUsageEvent(t string) bool {
	switch t {
	case UsageEventAppLaunch, UsageEventFeatureUse, UsageEventSession:
		return true
	}
	return false
}
