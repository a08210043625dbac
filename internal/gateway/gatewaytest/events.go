package gatewaytest

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
)

type wire struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	IntentID       string     `json:"intent_id,omitempty"`
	JobID          *uuid.UUID `json:"job_id,omitempty"`
	Reason         string     `json:"reason,omitempty"`
	TransferID     string     `json:"transfer_id,omitempty"`
	DestinationID  string     `json:"destination_id,omitempty"`
	ApplicationID  *uuid.UUID `json:"application_id,omitempty"`
	AccountID      string     `json:"account_id,omitempty"`
	UserID         *uuid.UUID `json:"user_id,omitempty"`
	PayoutsEnabled bool       `json:"payouts_enabled,omitempty"`
}

// Encode serialises an event into a payload the Fake accepts with Signature.
func Encode(ev gateway.Event) []byte {
	w := wire{ID: ev.EventID(), Type: ev.EventType()}
	switch e := ev.(type) {
	case gateway.FundingSucceeded:
		w.IntentID, w.JobID = e.IntentID, e.JobID
	case gateway.FundingFailed:
		w.IntentID, w.JobID, w.Reason = e.IntentID, e.JobID, e.Reason
	case gateway.TransferConfirmed:
		w.TransferID, w.DestinationID, w.ApplicationID = e.TransferID, e.DestinationID, e.ApplicationID
	case gateway.AccountUpdated:
		w.AccountID, w.UserID, w.PayoutsEnabled = e.AccountID, e.UserID, e.PayoutsEnabled
	}
	b, _ := json.Marshal(w)
	return b
}

func (w wire) event() gateway.Event {
	env := gateway.Envelope{ID: w.ID, Type: w.Type}
	switch w.Type {
	case gateway.TypePaymentIntentSucceeded:
		return gateway.FundingSucceeded{Envelope: env, IntentID: w.IntentID, JobID: w.JobID}
	case gateway.TypePaymentIntentFailed:
		return gateway.FundingFailed{Envelope: env, IntentID: w.IntentID, JobID: w.JobID, Reason: w.Reason}
	case gateway.TypeTransferCreated, gateway.TypeTransferPaid:
		return gateway.TransferConfirmed{Envelope: env, TransferID: w.TransferID, DestinationID: w.DestinationID, ApplicationID: w.ApplicationID}
	case gateway.TypeAccountUpdated:
		return gateway.AccountUpdated{Envelope: env, AccountID: w.AccountID, UserID: w.UserID, PayoutsEnabled: w.PayoutsEnabled}
	}
	return gateway.Unrecognized{Envelope: env}
}

// TransferPaid builds a payout confirmation carrying the correlation key.
func TransferPaid(transferID string, applicationID uuid.UUID) gateway.TransferConfirmed {
	return gateway.TransferConfirmed{
		Envelope:      gateway.Envelope{ID: "evt_" + transferID, Type: gateway.TypeTransferPaid},
		TransferID:    transferID,
		ApplicationID: &applicationID,
	}
}

// FundingSucceeded builds a funding confirmation for a job.
func FundingSucceeded(intentID string, jobID uuid.UUID) gateway.FundingSucceeded {
	return gateway.FundingSucceeded{
		Envelope: gateway.Envelope{ID: "evt_" + intentID, Type: gateway.TypePaymentIntentSucceeded},
		IntentID: intentID,
		JobID:    &jobID,
	}
}
