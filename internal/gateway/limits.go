package gateway

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Limited bounds every outbound call with a timeout and a shared rate limit.
// A call that runs out of time is reported as ErrUnavailable.
type Limited struct {
	next    Gateway
	limiter *rate.Limiter
	timeout time.Duration
}

var _ Gateway = (*Limited)(nil)

// WithLimits wraps next. perSecond <= 0 disables rate limiting.
func WithLimits(next Gateway, timeout time.Duration, perSecond float64) *Limited {
	limit := rate.Inf
	burst := 1
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
		burst = int(math.Max(1, math.Ceil(perSecond)))
	}
	return &Limited{next: next, limiter: rate.NewLimiter(limit, burst), timeout: timeout}
}

func (l *Limited) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if l.timeout > 0 {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		if err := l.limiter.Wait(ctx); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
		}
		return ctx, cancel, nil
	}
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, nil, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}
	return ctx, func() {}, nil
}

func timedOut(ctx context.Context, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (l *Limited) CreatePayoutDestination(ctx context.Context, ownerID uuid.UUID, email string) (string, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	id, err := l.next.CreatePayoutDestination(ctx, ownerID, email)
	return id, timedOut(ctx, err)
}

func (l *Limited) CreateOnboardingLink(ctx context.Context, destinationID string) (string, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	url, err := l.next.CreateOnboardingLink(ctx, destinationID)
	return url, timedOut(ctx, err)
}

func (l *Limited) RetrieveDestination(ctx context.Context, destinationID string) (*Destination, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	d, err := l.next.RetrieveDestination(ctx, destinationID)
	return d, timedOut(ctx, err)
}

func (l *Limited) InitiateTransfer(ctx context.Context, req TransferRequest) (string, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()
	id, err := l.next.InitiateTransfer(ctx, req)
	return id, timedOut(ctx, err)
}

func (l *Limited) CreateFundingIntent(ctx context.Context, jobID uuid.UUID, amountCents int64, currency string) (*FundingIntent, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	fi, err := l.next.CreateFundingIntent(ctx, jobID, amountCents, currency)
	return fi, timedOut(ctx, err)
}

func (l *Limited) RetrieveFundingIntent(ctx context.Context, intentID string) (*FundingIntent, error) {
	ctx, cancel, err := l.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()
	fi, err := l.next.RetrieveFundingIntent(ctx, intentID)
	return fi, timedOut(ctx, err)
}

// VerifyEvent is local computation and is not throttled.
func (l *Limited) VerifyEvent(payload []byte, signatureHeader string) (Event, error) {
	return l.next.VerifyEvent(payload, signatureHeader)
}
