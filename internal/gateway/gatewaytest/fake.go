// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
)

// Signature is the only signature header the fake accepts.
const Signature = "valid-signature"

// Fake records calls and returns scripted results. Zero value is usable.
type Fake struct {
	mu sync.Mutex

	Destinations map[string]*gateway.Destination
	Intents      map[string]*gateway.FundingIntent
	Transfers    []gateway.TransferRequest

	// TransferErr, when set, is returned for every transfer.
	TransferErr error
	// TransferErrFor fails transfers to specific destinations.
	TransferErrFor map[string]error
	// RetrieveErr fails every RetrieveDestination call.
	RetrieveErr error

	nextID int
}

var _ gateway.Gateway = (*Fake)(nil)

func (f *Fake) id(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s_%d", prefix, f.nextID)
}

func (f *Fake) CreatePayoutDestination(ctx context.Context, ownerID uuid.UUID, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Destinations == nil {
		f.Destinations = map[string]*gateway.Destination{}
	}
	id := f.id("acct")
	f.Destinations[id] = &gateway.Destination{ID: id, Country: "DE", DefaultCurrency: "eur"}
	return id, nil
}

func (f *Fake) CreateOnboardingLink(ctx context.Context, destinationID string) (string, error) {
	return "https://connect.example/onboard/" + destinationID, nil
}

func (f *Fake) RetrieveDestination(ctx context.Context, destinationID string) (*gateway.Destination, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.RetrieveErr != nil {
		return nil, f.RetrieveErr
	}
	if d, ok := f.Destinations[destinationID]; ok {
		cp := *d
		return &cp, nil
	}
	// Unknown destinations default to an EUR-capable account.
	return &gateway.Destination{ID: destinationID, Country: "DE", DefaultCurrency: "eur", PayoutsEnabled: true}, nil
}

func (f *Fake) InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", gateway.ErrUnavailable, err)
	}
	if f.TransferErr != nil {
		return "", f.TransferErr
	}
	if err, ok := f.TransferErrFor[req.DestinationID]; ok {
		return "", err
	}
	f.Transfers = append(f.Transfers, req)
	return f.id("tr"), nil
}

// TransferCount is safe to call while settlement is running.
func (f *Fake) TransferCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Transfers)
}

func (f *Fake) CreateFundingIntent(ctx context.Context, jobID uuid.UUID, amountCents int64, currency string) (*gateway.FundingIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Intents == nil {
		f.Intents = map[string]*gateway.FundingIntent{}
	}
	id := f.id("pi")
	fi := &gateway.FundingIntent{ID: id, ClientSecret: id + "_secret", Status: "requires_payment_method", AmountCents: amountCents, Currency: currency}
	f.Intents[id] = fi
	cp := *fi
	return &cp, nil
}

func (f *Fake) RetrieveFundingIntent(ctx context.Context, intentID string) (*gateway.FundingIntent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fi, ok := f.Intents[intentID]
	if !ok {
		return nil, fmt.Errorf("%w: no such intent %s", gateway.ErrRejected, intentID)
	}
	cp := *fi
	return &cp, nil
}

// SetIntentStatus changes a stored funding intent's status.
func (f *Fake) SetIntentStatus(intentID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fi, ok := f.Intents[intentID]; ok {
		fi.Status = status
	}
}

// VerifyEvent accepts payloads produced by Encode when the header equals
// Signature and rejects everything else.
func (f *Fake) VerifyEvent(payload []byte, signatureHeader string) (gateway.Event, error) {
	if signatureHeader != Signature {
		return nil, gateway.ErrInvalidSignature
	}
	var w wire
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, gateway.ErrInvalidSignature
	}
	return w.event(), nil
}
