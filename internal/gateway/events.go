package gateway

import (
	"github.com/google/uuid"
)

// Event is a verified processor event. The concrete type is one of
// FundingSucceeded, FundingFailed, TransferConfirmed, AccountUpdated or
// Unrecognized.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

// Envelope carries the fields every event has.
type Envelope struct {
	ID   string
	Type string
}

func (e Envelope) EventID() string   { return e.ID }
func (e Envelope) EventType() string { return e.Type }
func (Envelope) isEvent()            {}

// FundingSucceeded: the developer's escrow charge for JobID cleared.
type FundingSucceeded struct {
	Envelope
	IntentID string
	JobID    *uuid.UUID
}

// FundingFailed: the developer's escrow charge was declined.
type FundingFailed struct {
	Envelope
	IntentID string
	JobID    *uuid.UUID
	Reason   string
}

// TransferConfirmed: a payout transfer to a tester was accepted by the processor.
type TransferConfirmed struct {
	Envelope
	TransferID    string
	DestinationID string
	ApplicationID *uuid.UUID
}

// AccountUpdated: a connected account changed (onboarding finished, payouts toggled).
type AccountUpdated struct {
	Envelope
	AccountID      string
	UserID         *uuid.UUID
	PayoutsEnabled bool
}

// Unrecognized is any event type this service does not act on.
type Unrecognized struct {
	Envelope
}

// Event types mapped onto variants.
const (
	TypePaymentIntentSucceeded = "payment_intent.succeeded"
	TypePaymentIntentFailed    = "payment_intent.payment_failed"
	TypeTransferCreated        = "transfer.created"
	TypeTransferPaid           = "transfer.paid"
	TypeAccountUpdated         = "account.updated"
)

// Metadata keys attached to processor objects.
const (
	MetaApplicationID = "applicationId"
	MetaJobID         = "jobId"
	MetaUserID        = "userId"
)

func parseRef(meta map[string]string, key string) *uuid.UUID {
	v, ok := meta[key]
	if !ok || v == "" {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return nil
	}
	return &id
}
