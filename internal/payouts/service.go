// Package payouts onboards testers onto the gateway's connected accounts.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

// UserStore is implemented by *repository.UserRepo.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	SetStripeAccount(ctx context.Context, id uuid.UUID, accountID string) error
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, accountID string, payoutsEnabled bool) error
}

// Onboarding is what a tester needs to finish gateway onboarding.
type Onboarding struct {
	AccountID string `json:"account_id"`
	URL       string `json:"onboarding_url"`
}

// Status summarises a tester's payout destination.
type Status struct {
	Connected       bool   `json:"connected"`
	AccountID       string `json:"account_id,omitempty"`
	PayoutsEnabled  bool   `json:"payouts_enabled"`
	Country         string `json:"country,omitempty"`
	DefaultCurrency string `json:"default_currency,omitempty"`
	// CanReceivePayouts is true when the destination accepts the payout currency.
	CanReceivePayouts bool `json:"can_receive_payouts"`
}

type Service interface {
	Onboard(ctx context.Context, userID uuid.UUID) (*Onboarding, error)
	Status(ctx context.Context, userID uuid.UUID) (*Status, error)
}

type service struct {
	users    UserStore
	gw       gateway.Gateway
	currency string
	log      *slog.Logger
}

func NewService(users UserStore, gw gateway.Gateway, currency string, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{users: users, gw: gw, currency: currency, log: log}
}

var _ Service = (*service)(nil)

func (s *service) tester(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.Role != models.RoleTester {
		return nil, fmt.Errorf("%w: only testers receive payouts", services.ErrForbidden)
	}
	return u, nil
}

// Onboard creates the connected account on first call and returns a fresh
// onboarding link every time.
func (s *service) Onboard(ctx context.Context, userID uuid.UUID) (*Onboarding, error) {
	u, err := s.tester(ctx, userID)
	if err != nil {
		return nil, err
	}
	accountID := ""
	if u.HasPayoutDestination() {
		accountID = *u.StripeAccountID
	} else {
		accountID, err = s.gw.CreatePayoutDestination(ctx, u.ID, u.Email)
		if err != nil {
			return nil, err
		}
		switch err := s.users.SetStripeAccount(ctx, u.ID, accountID); {
		case errors.Is(err, repository.ErrConflict):
			// A concurrent onboarding stored its account first; use that one.
			s.log.Warn("discarding duplicate connected account", "user_id", u.ID, "account_id", accountID)
			if u, err = s.users.GetByID(ctx, u.ID); err != nil {
				return nil, err
			}
			accountID = *u.StripeAccountID
		case err != nil:
			return nil, err
		default:
			s.log.Info("connected account created", "user_id", u.ID, "account_id", accountID)
		}
	}
	url, err := s.gw.CreateOnboardingLink(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Onboarding{AccountID: accountID, URL: url}, nil
}

// Status asks the gateway for the destination and refreshes the stored
// payouts flag when it has drifted from what webhooks reported.
func (s *service) Status(ctx context.Context, userID uuid.UUID) (*Status, error) {
	u, err := s.tester(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.HasPayoutDestination() {
		return &Status{}, nil
	}
	dest, err := s.gw.RetrieveDestination(ctx, *u.StripeAccountID)
	if err != nil {
		return nil, err
	}
	if dest.PayoutsEnabled != u.PayoutsEnabled {
		if err := s.users.UpdatePayoutStatus(ctx, u.ID, dest.ID, dest.PayoutsEnabled); err != nil {
			s.log.Warn("refresh payout status failed", "user_id", u.ID, "error", err)
		}
	}
	return &Status{
		Connected:         true,
		AccountID:         dest.ID,
		PayoutsEnabled:    dest.PayoutsEnabled,
		Country:           dest.Country,
		DefaultCurrency:   dest.DefaultCurrency,
		CanReceivePayouts: dest.PayoutsEnabled && dest.CanReceive(s.currency),
	}, nil
}
