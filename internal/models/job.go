package models

import (
	"time"

	"github.com/google/uuid"
)

// Job status enums.
const (
	JobStatusDraft      = "DRAFT"
	JobStatusActive     = "ACTIVE"
	JobStatusInProgress = "IN_PROGRESS"
	JobStatusCompleted  = "COMPLETED"
	JobStatusCancelled  = "CANCELLED"
)

// Only an unfunded DRAFT can be cancelled.
var jobTransitions = map[string][]string{
	JobStatusDraft:      {JobStatusActive, JobStatusCancelled},
	JobStatusActive:     {JobStatusInProgress},
	JobStatusInProgress: {JobStatusCompleted},
}

// Job is a developer's testing campaign. Money fields are in cents and
// TotalBudgetCents/PlatformFeeCents are fixed when the job is created.
type Job struct {
	ID                    uuid.UUID  `json:"id"`
	DeveloperID           uuid.UUID  `json:"developer_id"`
	Title                 string     `json:"title"`
	Description           string     `json:"description"`
	AppPackage            string     `json:"app_package"`
	OptInURL              string     `json:"opt_in_url,omitempty"`
	TestersNeeded         int        `json:"testers_needed"`
	PaymentPerTesterCents int64      `json:"payment_per_tester_cents"`
	TotalBudgetCents      int64      `json:"total_budget_cents"`
	PlatformFeeCents      int64      `json:"platform_fee_cents"`
	TestDurationDays      float64    `json:"test_duration_days"`
	Status                string     `json:"status"`
	FundingIntentID       *string    `json:"funding_intent_id,omitempty"`
	PublishedAt           *time.Time `json:"published_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// TestDuration converts the fractional day count into a time.Duration.
func (j *Job) TestDuration() time.Duration {
	return time.Duration(j.TestDurationDays * float64(24*time.Hour))
}

// FundingAmountCents is what the developer is charged: the budget plus the platform fee.
func (j *Job) FundingAmountCents() int64 {
	return j.TotalBudgetCents + j.PlatformFeeCents
}

// CanTransitionJob reports whether the job lifecycle allows from -> to.
func CanTransitionJob(from, to string) bool {
	return contains(jobTransitions[from], to)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
