package models

import (
	"time"

	"github.com/google/uuid"
)

// Payment status enums.
const (
	PaymentStatusPending    = "PENDING"
	PaymentStatusEscrowed   = "ESCROWED"
	PaymentStatusProcessing = "PROCESSING"
	PaymentStatusCompleted  = "COMPLETED"
	PaymentStatusFailed     = "FAILED"
	PaymentStatusRefunded   = "REFUNDED"
)

// FAILED may be retried (-> PROCESSING) by an operator, and a confirmed
// gateway transfer may complete it. COMPLETED and REFUNDED are terminal.
var paymentTransitions = map[string][]string{
	PaymentStatusPending:    {PaymentStatusEscrowed, PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusEscrowed:   {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded},
	PaymentStatusProcessing: {PaymentStatusCompleted, PaymentStatusFailed},
	PaymentStatusFailed:     {PaymentStatusProcessing, PaymentStatusCompleted, PaymentStatusRefunded},
}

// Payment is one payout from escrowed job funds to one tester.
// AmountCents is net to the tester; TotalAmountCents is amount plus fee.
type Payment struct {
	ID               uuid.UUID  `json:"id"`
	ApplicationID    uuid.UUID  `json:"application_id"`
	JobID            uuid.UUID  `json:"job_id"`
	TesterID         uuid.UUID  `json:"tester_id"`
	AmountCents      int64      `json:"amount_cents"`
	PlatformFeeCents int64      `json:"platform_fee_cents"`
	TotalAmountCents int64      `json:"total_amount_cents"`
	Currency         string     `json:"currency"`
	Status           string     `json:"status"`
	PaymentIntentID  *string    `json:"payment_intent_id,omitempty"`
	TransferID       *string    `json:"transfer_id,omitempty"`
	FailureReason    *string    `json:"failure_reason,omitempty"`
	EscrowedAt       *time.Time `json:"escrowed_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	FailedAt         *time.Time `json:"failed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CanTransitionPayment reports whether the payment lifecycle allows from -> to.
func CanTransitionPayment(from, to string) bool {
	return contains(paymentTransitions[from], to)
}

// PaymentTerminal reports whether no further transitions are allowed.
func PaymentTerminal(status string) bool {
	return status == PaymentStatusCompleted || status == PaymentStatusRefunded
}
