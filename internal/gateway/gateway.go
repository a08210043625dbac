// Package gateway is the boundary to the payment processor: connected payout
// accounts, escrow funding intents, transfers and signed webhook events.
package gateway

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSignature is returned when a webhook payload fails verification.
	ErrInvalidSignature = errors.New("gateway: invalid event signature")
	// ErrUnsupportedCurrency is returned when the destination cannot receive the payout currency.
	ErrUnsupportedCurrency = errors.New("gateway: destination cannot receive currency")
	// ErrUnavailable covers network failures, timeouts and processor-side errors.
	ErrUnavailable = errors.New("gateway: unavailable")
	// ErrNoDestination is returned when the referenced connected account does not exist.
	ErrNoDestination = errors.New("gateway: no such destination")
	// ErrRejected is returned for any other request the processor refused.
	ErrRejected = errors.New("gateway: request rejected")
)

// Destination summarises a connected payout account.
type Destination struct {
	ID                 string   `json:"id"`
	Country            string   `json:"country"`
	DefaultCurrency    string   `json:"default_currency"`
	ExternalCurrencies []string `json:"external_currencies"`
	PayoutsEnabled     bool     `json:"payouts_enabled"`
}

// CanReceive reports whether the destination has a default or external
// account in the given currency.
func (d *Destination) CanReceive(currency string) bool {
	if d == nil {
		return false
	}
	if strings.EqualFold(d.DefaultCurrency, currency) {
		return true
	}
	for _, c := range d.ExternalCurrencies {
		if strings.EqualFold(c, currency) {
			return true
		}
	}
	return false
}

// TransferRequest moves AmountCents from platform escrow to DestinationID.
// CorrelationKey is sent as the idempotency key and as metadata so webhook
// events can be matched back to the engagement.
type TransferRequest struct {
	DestinationID  string
	AmountCents    int64
	Currency       string
	CorrelationKey uuid.UUID
	JobID          uuid.UUID
}

// FundingIntent is the developer-side charge that escrows a job's budget.
type FundingIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}

// Succeeded reports whether the processor has captured the funds.
func (f *FundingIntent) Succeeded() bool {
	return f != nil && f.Status == "succeeded"
}

// Gateway is the processor contract used by settlement, onboarding, job
// funding and the webhook reconciler.
type Gateway interface {
	CreatePayoutDestination(ctx context.Context, ownerID uuid.UUID, email string) (string, error)
	CreateOnboardingLink(ctx context.Context, destinationID string) (string, error)
	RetrieveDestination(ctx context.Context, destinationID string) (*Destination, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (string, error)
	CreateFundingIntent(ctx context.Context, jobID uuid.UUID, amountCents int64, currency string) (*FundingIntent, error)
	RetrieveFundingIntent(ctx context.Context, intentID string) (*FundingIntent, error)
	// VerifyEvent checks the signature against the configured webhook secret
	// and decodes the payload into one of the Event variants.
	VerifyEvent(payload []byte, signatureHeader string) (Event, error)
}
