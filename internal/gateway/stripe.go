package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/evansmunsha/testforpay-sub001/internal/config"
)

// ErrMalformedEvent is returned when a correctly signed payload cannot be decoded.
var ErrMalformedEvent = errors.New("gateway: malformed event")

// Stripe implements Gateway on Stripe Connect.
type Stripe struct {
	api *client.API
	cfg config.StripeConfig
	log *slog.Logger
}

var _ Gateway = (*Stripe)(nil)

// NewStripe builds a client with its own backends so retries, logging and the
// endpoint are per-instance rather than process-wide.
func NewStripe(cfg config.StripeConfig, httpClient *http.Client, log *slog.Logger) *Stripe {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "stripe")
	backend := func(kind stripe.SupportedBackend) stripe.Backend {
		bc := &stripe.BackendConfig{
			HTTPClient:        httpClient,
			MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
			LeveledLogger:     leveledLogger{log: log},
		}
		if cfg.APIBaseURL != "" {
			bc.URL = stripe.String(cfg.APIBaseURL)
		}
		return stripe.GetBackendWithConfig(kind, bc)
	}
	api := client.New(cfg.SecretKey, &stripe.Backends{
		API:     backend(stripe.APIBackend),
		Connect: backend(stripe.ConnectBackend),
		Uploads: backend(stripe.UploadsBackend),
	})
	return &Stripe{api: api, cfg: cfg, log: log}
}

func (s *Stripe) CreatePayoutDestination(ctx context.Context, ownerID uuid.UUID, email string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			Transfers: &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.Context = ctx
	params.SetIdempotencyKey("account-" + ownerID.String())
	params.AddMetadata(MetaUserID, ownerID.String())
	acct, err := s.api.Accounts.New(params)
	if err != nil {
		return "", classify("create account", err)
	}
	return acct.ID, nil
}

func (s *Stripe) CreateOnboardingLink(ctx context.Context, destinationID string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(destinationID),
		RefreshURL: stripe.String(s.cfg.OnboardRefreshURL),
		ReturnURL:  stripe.String(s.cfg.OnboardReturnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx
	link, err := s.api.AccountLinks.New(params)
	if err != nil {
		return "", classify("create account link", err)
	}
	return link.URL, nil
}

func (s *Stripe) RetrieveDestination(ctx context.Context, destinationID string) (*Destination, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := s.api.Accounts.GetByID(destinationID, params)
	if err != nil {
		return nil, classify("retrieve account", err)
	}
	d := &Destination{
		ID:              acct.ID,
		Country:         acct.Country,
		DefaultCurrency: string(acct.DefaultCurrency),
		PayoutsEnabled:  acct.PayoutsEnabled,
	}
	if acct.ExternalAccounts != nil {
		for _, ea := range acct.ExternalAccounts.Data {
			switch {
			case ea.BankAccount != nil:
				d.ExternalCurrencies = append(d.ExternalCurrencies, string(ea.BankAccount.Currency))
			case ea.Card != nil:
				d.ExternalCurrencies = append(d.ExternalCurrencies, string(ea.Card.Currency))
			}
		}
	}
	return d, nil
}

func (s *Stripe) InitiateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	params := &stripe.TransferParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(req.Currency),
		Destination:   stripe.String(req.DestinationID),
		TransferGroup: stripe.String("job_" + req.JobID.String()),
	}
	params.Context = ctx
	params.SetIdempotencyKey("settle-" + req.CorrelationKey.String())
	params.AddMetadata(MetaApplicationID, req.CorrelationKey.String())
	params.AddMetadata(MetaJobID, req.JobID.String())
	t, err := s.api.Transfers.New(params)
	if err != nil {
		return "", classify("create transfer", err)
	}
	return t.ID, nil
}

func (s *Stripe) CreateFundingIntent(ctx context.Context, jobID uuid.UUID, amountCents int64, currency string) (*FundingIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountCents),
		Currency:      stripe.String(currency),
		TransferGroup: stripe.String("job_" + jobID.String()),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("fund-%s-%d", jobID, amountCents))
	params.AddMetadata(MetaJobID, jobID.String())
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, classify("create payment intent", err)
	}
	return toFundingIntent(pi), nil
}

func (s *Stripe) RetrieveFundingIntent(ctx context.Context, intentID string) (*FundingIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, classify("retrieve payment intent", err)
	}
	return toFundingIntent(pi), nil
}

func toFundingIntent(pi *stripe.PaymentIntent) *FundingIntent {
	return &FundingIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}
}

func (s *Stripe) VerifyEvent(payload []byte, signatureHeader string) (Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, s.cfg.WebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                s.cfg.WebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(ev)
}

// decodeEvent maps a verified Stripe event onto an Event variant.
func decodeEvent(ev stripe.Event) (Event, error) {
	env := Envelope{ID: ev.ID, Type: string(ev.Type)}
	var raw []byte
	if ev.Data != nil {
		raw = ev.Data.Raw
	}
	switch env.Type {
	case TypePaymentIntentSucceeded, TypePaymentIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(raw, &pi); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		jobID := parseRef(pi.Metadata, MetaJobID)
		if env.Type == TypePaymentIntentSucceeded {
			return FundingSucceeded{Envelope: env, IntentID: pi.ID, JobID: jobID}, nil
		}
		reason := ""
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		return FundingFailed{Envelope: env, IntentID: pi.ID, JobID: jobID, Reason: reason}, nil

	case TypeTransferCreated, TypeTransferPaid:
		var t stripe.Transfer
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		out := TransferConfirmed{Envelope: env, TransferID: t.ID, ApplicationID: parseRef(t.Metadata, MetaApplicationID)}
		if t.Destination != nil {
			out.DestinationID = t.Destination.ID
		}
		return out, nil

	case TypeAccountUpdated:
		var a stripe.Account
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
		}
		return AccountUpdated{Envelope: env, AccountID: a.ID, UserID: parseRef(a.Metadata, MetaUserID), PayoutsEnabled: a.PayoutsEnabled}, nil
	}
	return Unrecognized{Envelope: env}, nil
}

// classify wraps a Stripe SDK error with the matching sentinel.
func classify(op string, err error) error {
	var se *stripe.Error
	if !errors.As(err, &se) {
		return fmt.Errorf("stripe %s: %w: %v", op, ErrUnavailable, err)
	}
	var kind error
	switch {
	case se.HTTPStatusCode == http.StatusTooManyRequests || se.HTTPStatusCode >= 500 || se.Type == stripe.ErrorTypeAPI:
		kind = ErrUnavailable
	case se.HTTPStatusCode == http.StatusNotFound:
		kind = ErrNoDestination
	case se.Param == "currency" || strings.Contains(strings.ToLower(se.Msg), "currency"):
		kind = ErrUnsupportedCurrency
	default:
		kind = ErrRejected
	}
	return fmt.Errorf("stripe %s: %w: %s", op, kind, se.Msg)
}
