package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/evansmunsha/testforpay-sub001/internal/config"
	"github.com/evansmunsha/testforpay-sub001/internal/gateway"
	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

// Human-readable settlement outcomes.
const (
	ReasonAlreadySettled     = "already settled"
	ReasonNoConnectedAccount = "no connected account"
	ReasonDestinationMissing = "connected account not found"
	ReasonGatewayUnavailable = "payment gateway unavailable"
	ReasonTransferFailed     = "transfer failed"
	ReasonSettlementError    = "settlement error"
	ReasonClaimExpired       = "payout interrupted before transfer"
)

// ReasonUnsupportedCurrency is the failure reason when the tester's connected
// account has no destination for the payout currency.
func ReasonUnsupportedCurrency(currency string) string {
	return fmt.Sprintf("no %s-capable payout destination", strings.ToUpper(currency))
}

// SettlementApplicationRepo is the engagement store used by settlement.
type SettlementApplicationRepo interface {
	ListSettlementCandidates(ctx context.Context, now time.Time) ([]*repository.Candidate, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, at time.Time) error
	SetEngagementScore(ctx context.Context, id uuid.UUID, score int, flags []string) error
}

// SettlementPaymentRepo is the payment store used by settlement.
type SettlementPaymentRepo interface {
	Create(ctx context.Context, p *models.Payment) error
	GetOpenByApplication(ctx context.Context, applicationID uuid.UUID) (*models.Payment, error)
	Claim(ctx context.Context, id uuid.UUID) error
	MarkProcessing(ctx context.Context, id uuid.UUID, transferID string) error
	MarkFailed(ctx context.Context, id uuid.UUID, from, reason string) error
	FailStaleClaims(ctx context.Context, claimedBefore time.Time, reason string) (int64, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type UsageLogReader interface {
	ListByApplication(ctx context.Context, applicationID uuid.UUID) ([]models.UsageLog, error)
}

// JobFinisher closes jobs whose engagements have all been settled.
type JobFinisher interface {
	CompleteFinished(ctx context.Context, jobIDs []uuid.UUID) (int64, error)
}

// SettlementResult is the outcome for one candidate engagement.
type SettlementResult struct {
	ApplicationID    uuid.UUID  `json:"application_id"`
	JobID            uuid.UUID  `json:"job_id"`
	Success          bool       `json:"success"`
	Skipped          bool       `json:"skipped,omitempty"`
	AmountCents      int64      `json:"amount_cents"`
	PlatformFeeCents int64      `json:"platform_fee_cents"`
	PaymentID        *uuid.UUID `json:"payment_id,omitempty"`
	TransferID       string     `json:"transfer_id,omitempty"`
	Reason           string     `json:"reason,omitempty"`
}

// SettlementEngine moves elapsed test engagements to COMPLETED and pays the
// tester out of escrow. It keeps no state between runs, so it can be invoked
// on a schedule and on demand.
type SettlementEngine struct {
	Config   config.Config
	Apps     SettlementApplicationRepo
	Payments SettlementPaymentRepo
	Users    UserReader
	Usage    UsageLogReader
	Jobs     JobFinisher
	Gateway  gateway.Gateway
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewSettlementEngine(
	cfg config.Config,
	apps SettlementApplicationRepo,
	payments SettlementPaymentRepo,
	users UserReader,
	usage UsageLogReader,
	jobs JobFinisher,
	gw gateway.Gateway,
	logger *slog.Logger,
) *SettlementEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementEngine{
		Config:   cfg,
		Apps:     apps,
		Payments: payments,
		Users:    users,
		Usage:    usage,
		Jobs:     jobs,
		Gateway:  gw,
		Logger:   logger,
		Now:      time.Now,
	}
}

// ProcessCompletedEngagements settles every current candidate and returns one
// result per candidate, in selection order. The error is non-nil only when
// candidates could not be selected at all.
func (e *SettlementEngine) ProcessCompletedEngagements(ctx context.Context) ([]SettlementResult, error) {
	now := e.Now()
	e.releaseStaleClaims(ctx, now)
	candidates, err := e.Apps.ListSettlementCandidates(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("select settlement candidates: %w", err)
	}

	results := make([]SettlementResult, len(candidates))
	var g errgroup.Group
	g.SetLimit(max(1, e.Config.SettlementConcurrency))
	for i, c := range candidates {
		g.Go(func() error {
			results[i] = e.settle(ctx, c, now)
			return nil
		})
	}
	_ = g.Wait()

	if e.Jobs != nil && len(candidates) > 0 {
		seen := make(map[uuid.UUID]struct{})
		var jobIDs []uuid.UUID
		for _, c := range candidates {
			if _, ok := seen[c.Job.ID]; !ok {
				seen[c.Job.ID] = struct{}{}
				jobIDs = append(jobIDs, c.Job.ID)
			}
		}
		if n, err := e.Jobs.CompleteFinished(ctx, jobIDs); err != nil {
			e.Logger.Error("complete finished jobs", "error", err)
		} else if n > 0 {
			e.Logger.Info("jobs completed", "count", n)
		}
	}

	var ok, failed, skipped int
	for _, r := range results {
		switch {
		case r.Success:
			ok++
		case r.Skipped:
			skipped++
		default:
			failed++
		}
	}
	e.Logger.Info("settlement run finished", "candidates", len(candidates), "succeeded", ok, "failed", failed, "skipped", skipped)
	return results, nil
}

// settle runs the fixed per-candidate sequence: mark complete, price,
// check destination, create/claim payment, transfer.
func (e *SettlementEngine) settle(ctx context.Context, c *repository.Candidate, now time.Time) (res SettlementResult) {
	app, job := c.Application, c.Job
	log := e.Logger.With("application_id", app.ID, "job_id", job.ID)
	res = SettlementResult{ApplicationID: app.ID, JobID: job.ID}

	defer func() {
		if r := recover(); r != nil {
			log.Error("settlement panicked", "panic", r)
			res.Success = false
			res.Reason = ReasonSettlementError
		}
	}()

	if app.Status == models.ApplicationStatusTesting {
		if err := e.Apps.MarkCompleted(ctx, app.ID, now); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				res.Skipped = true
				res.Reason = ReasonAlreadySettled
				return res
			}
			log.Error("mark engagement completed", "error", err)
			res.Reason = ReasonSettlementError
			return res
		}
		app.Status = models.ApplicationStatusCompleted
		app.CompletedAt = &now
	}
	if app.EngagementScore == nil {
		e.recordScore(ctx, &app, log)
	}

	amount := job.PaymentPerTesterCents
	fee := e.Config.FeeFor(amount)
	res.AmountCents = amount
	res.PlatformFeeCents = fee

	tester, err := e.Users.GetByID(ctx, app.TesterID)
	if err != nil {
		log.Error("load tester", "tester_id", app.TesterID, "error", err)
		res.Reason = ReasonSettlementError
		return res
	}
	if !tester.HasPayoutDestination() {
		reason := ReasonNoConnectedAccount
		p := e.newPayment(app, job, amount, fee)
		p.Status = models.PaymentStatusFailed
		p.FailureReason = &reason
		if err := e.Payments.Create(ctx, p); err != nil && !errors.Is(err, repository.ErrDuplicate) {
			log.Error("record failed payment", "error", err)
		} else if err == nil {
			res.PaymentID = &p.ID
		}
		log.Warn("tester has no connected account", "tester_id", tester.ID)
		res.Reason = reason
		return res
	}

	p, err := e.openPayment(ctx, app, job, amount, fee)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			res.Skipped = true
			res.Reason = ReasonAlreadySettled
			return res
		}
		log.Error("create payment", "error", err)
		res.Reason = ReasonSettlementError
		return res
	}
	res.PaymentID = &p.ID
	if err := e.Payments.Claim(ctx, p.ID); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			res.Skipped = true
			res.Reason = ReasonAlreadySettled
			return res
		}
		log.Error("claim payment", "payment_id", p.ID, "error", err)
		res.Reason = ReasonSettlementError
		return res
	}

	currency := e.Config.PayoutCurrency
	destID := *tester.StripeAccountID
	dest, err := e.Gateway.RetrieveDestination(ctx, destID)
	if err != nil {
		return e.fail(ctx, log, res, p.ID, failureReason(err, currency), err)
	}
	if !dest.CanReceive(currency) {
		return e.fail(ctx, log, res, p.ID, ReasonUnsupportedCurrency(currency), nil)
	}

	transferID, err := e.Gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		DestinationID:  destID,
		AmountCents:    amount,
		Currency:       currency,
		CorrelationKey: app.ID,
		JobID:          job.ID,
	})
	if err != nil {
		return e.fail(ctx, log, res, p.ID, failureReason(err, currency), err)
	}
	res.TransferID = transferID
	res.Success = true
	if err := e.Payments.MarkProcessing(ctx, p.ID, transferID); err != nil {
		// The transfer exists; the reconciler completes the payment from the
		// escrowed state when the confirmation arrives.
		log.Error("mark payment processing", "payment_id", p.ID, "transfer_id", transferID, "error", err)
	}
	log.Info("payout initiated", "payment_id", p.ID, "transfer_id", transferID, "amount_cents", amount)
	return res
}

// releaseStaleClaims fails payments left ESCROWED without a transfer so an
// operator can retry them. A transfer that did go through still completes
// the payment when its confirmation arrives.
func (e *SettlementEngine) releaseStaleClaims(ctx context.Context, now time.Time) {
	n, err := e.Payments.FailStaleClaims(ctx, now.Add(-e.Config.StaleClaimAfter), ReasonClaimExpired)
	if err != nil {
		e.Logger.Error("release stale payment claims", "error", err)
		return
	}
	if n > 0 {
		e.Logger.Warn("stale payment claims marked failed", "count", n)
	}
}

func (e *SettlementEngine) fail(ctx context.Context, log *slog.Logger, res SettlementResult, paymentID uuid.UUID, reason string, cause error) SettlementResult {
	if err := e.Payments.MarkFailed(ctx, paymentID, models.PaymentStatusEscrowed, reason); err != nil {
		log.Error("mark payment failed", "payment_id", paymentID, "error", err)
	}
	log.Warn("payout failed", "payment_id", paymentID, "reason", reason, "error", cause)
	res.Success = false
	res.Reason = reason
	return res
}

func failureReason(err error, currency string) string {
	switch {
	case errors.Is(err, gateway.ErrUnsupportedCurrency):
		return ReasonUnsupportedCurrency(currency)
	case errors.Is(err, gateway.ErrNoDestination):
		return ReasonDestinationMissing
	case errors.Is(err, gateway.ErrUnavailable):
		return ReasonGatewayUnavailable
	}
	return ReasonTransferFailed
}

func (e *SettlementEngine) newPayment(app models.Application, job models.Job, amount, fee int64) *models.Payment {
	return &models.Payment{
		ApplicationID:    app.ID,
		JobID:            job.ID,
		TesterID:         app.TesterID,
		AmountCents:      amount,
		PlatformFeeCents: fee,
		TotalAmountCents: amount + fee,
		Currency:         e.Config.PayoutCurrency,
		Status:           models.PaymentStatusPending,
	}
}

// openPayment reuses a PENDING payment or creates one. A payment already
// past PENDING means another run owns it and yields ErrConflict.
func (e *SettlementEngine) openPayment(ctx context.Context, app models.Application, job models.Job, amount, fee int64) (*models.Payment, error) {
	existing, err := e.Payments.GetOpenByApplication(ctx, app.ID)
	switch {
	case err == nil:
		if existing.Status == models.PaymentStatusPending {
			return existing, nil
		}
		return nil, repository.ErrConflict
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}
	p := e.newPayment(app, job, amount, fee)
	if err := e.Payments.Create(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return p, nil
}

func (e *SettlementEngine) recordScore(ctx context.Context, app *models.Application, log *slog.Logger) {
	if e.Usage == nil {
		return
	}
	logs, err := e.Usage.ListByApplication(ctx, app.ID)
	if err != nil {
		log.Warn("load usage logs for scoring", "error", err)
		return
	}
	score := ScoreEngagement(app, logs)
	flags := DetectFraud(app, logs)
	if err := e.Apps.SetEngagementScore(ctx, app.ID, score, flags); err != nil {
		log.Warn("store engagement score", "error", err)
		return
	}
	app.EngagementScore = &score
	app.FraudFlags = flags
	if len(flags) > 0 {
		log.Info("engagement flagged", "score", score, "flags", flags)
	}
}
