package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evansmunsha/testforpay-sub001/internal/models"
	"github.com/evansmunsha/testforpay-sub001/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory ledger store. One mutex guards every table so conditional
// updates behave like row-level compare-and-swap.
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	users    map[uuid.UUID]*models.User
	jobs     map[uuid.UUID]*models.Job
	apps     map[uuid.UUID]*models.Application
	payments []*models.Payment
	logs     map[uuid.UUID][]models.UsageLog

	// status of the engagement at the moment each payment was created
	statusAtPaymentCreate []string
}

func newMemStore() *memStore {
	return &memStore{
		users: make(map[uuid.UUID]*models.User),
		jobs:  make(map[uuid.UUID]*models.Job),
		apps:  make(map[uuid.UUID]*models.Application),
		logs:  make(map[uuid.UUID][]models.UsageLog),
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }

func (s *memStore) addUser(role string, account *string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &models.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", Role: role, StripeAccountID: account}
	s.users[u.ID] = u
	return u
}

func (s *memStore) addJob(developerID uuid.UUID, perTester int64, testers int, days float64, status string) *models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := &models.Job{
		ID:                    uuid.New(),
		DeveloperID:           developerID,
		Title:                 "Closed test",
		AppPackage:            "com.example.app",
		TestersNeeded:         testers,
		PaymentPerTesterCents: perTester,
		TotalBudgetCents:      perTester * int64(testers),
		TestDurationDays:      days,
		Status:                status,
	}
	s.jobs[j.ID] = j
	return j
}

func (s *memStore) addApp(jobID, testerID uuid.UUID, status string, start *time.Time) *models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &models.Application{ID: uuid.New(), JobID: jobID, TesterID: testerID, Status: status, TestingStartDate: start}
	s.apps[a.ID] = a
	return a
}

func (s *memStore) app(id uuid.UUID) models.Application {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.apps[id]
}

func (s *memStore) job(id uuid.UUID) models.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

func (s *memStore) paymentsFor(appID uuid.UUID) []models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.ApplicationID == appID {
			out = append(out, *p)
		}
	}
	return out
}

func (s *memStore) paymentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}

// snapshot is a deep-enough copy for "store unchanged" assertions.
type snapshot struct {
	users    map[uuid.UUID]models.User
	jobs     map[uuid.UUID]models.Job
	apps     map[uuid.UUID]models.Application
	payments []models.Payment
}

func (s *memStore) snapshot() snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := snapshot{
		users: make(map[uuid.UUID]models.User),
		jobs:  make(map[uuid.UUID]models.Job),
		apps:  make(map[uuid.UUID]models.Application),
	}
	for k, v := range s.users {
		snap.users[k] = *v
	}
	for k, v := range s.jobs {
		snap.jobs[k] = *v
	}
	for k, v := range s.apps {
		snap.apps[k] = *v
	}
	for _, p := range s.payments {
		snap.payments = append(snap.payments, *p)
	}
	return snap
}

func openStatus(status string) bool {
	switch status {
	case models.PaymentStatusPending, models.PaymentStatusEscrowed, models.PaymentStatusProcessing, models.PaymentStatusCompleted:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// memApps
// ---------------------------------------------------------------------------

type memApps struct{ s *memStore }

func (m memApps) ListSettlementCandidates(_ context.Context, now time.Time) ([]*repository.Candidate, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*repository.Candidate
	for _, a := range m.s.apps {
		j := m.s.jobs[a.JobID]
		switch a.Status {
		case models.ApplicationStatusTesting:
			if !a.TestingElapsed(j, now) {
				continue
			}
		case models.ApplicationStatusCompleted:
			hasPayment := false
			for _, p := range m.s.payments {
				if p.ApplicationID == a.ID {
					hasPayment = true
				}
			}
			if hasPayment {
				continue
			}
		default:
			continue
		}
		out = append(out, &repository.Candidate{Application: *a, Job: *j})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Application.ID.String() < out[k].Application.ID.String() })
	return out, nil
}

func (m memApps) MarkCompleted(_ context.Context, id uuid.UUID, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok || a.Status != models.ApplicationStatusTesting {
		return repository.ErrConflict
	}
	a.Status = models.ApplicationStatusCompleted
	a.CompletedAt = &at
	return nil
}

func (m memApps) SetEngagementScore(_ context.Context, id uuid.UUID, score int, flags []string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok {
		return repository.ErrConflict
	}
	a.EngagementScore = &score
	a.FraudFlags = flags
	return nil
}

func (m memApps) Create(_ context.Context, a *models.Application) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, existing := range m.s.apps {
		if existing.JobID == a.JobID && existing.TesterID == a.TesterID {
			return repository.ErrDuplicate
		}
	}
	a.ID = uuid.New()
	cp := *a
	m.s.apps[a.ID] = &cp
	return nil
}

func (m memApps) GetByID(_ context.Context, id uuid.UUID) (*models.Application, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m memApps) ListByJob(_ context.Context, jobID uuid.UUID) ([]*models.Application, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Application
	for _, a := range m.s.apps {
		if a.JobID == jobID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memApps) ListByTester(_ context.Context, testerID uuid.UUID) ([]*models.Application, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*models.Application
	for _, a := range m.s.apps {
		if a.TesterID == testerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m memApps) CountOccupyingSlots(_ context.Context, jobID uuid.UUID) (int, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n := 0
	for _, a := range m.s.apps {
		if a.JobID != jobID {
			continue
		}
		if a.Status != models.ApplicationStatusPending && a.Status != models.ApplicationStatusRejected {
			n++
		}
	}
	return n, nil
}

func (m memApps) UpdateStatus(_ context.Context, id uuid.UUID, from, to string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok || a.Status != from {
		return repository.ErrConflict
	}
	a.Status = to
	return nil
}

func (m memApps) ApproveWithinQuota(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok {
		return repository.ErrNotFound
	}
	taken := 0
	for _, other := range m.s.apps {
		if other.JobID == a.JobID && other.Status != models.ApplicationStatusPending && other.Status != models.ApplicationStatusRejected {
			taken++
		}
	}
	if taken >= m.s.jobs[a.JobID].TestersNeeded {
		return repository.ErrNoCapacity
	}
	if a.Status != models.ApplicationStatusPending {
		return repository.ErrConflict
	}
	a.Status = models.ApplicationStatusApproved
	return nil
}

func (m memApps) MarkVerified(_ context.Context, id uuid.UUID, imageRef string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok || a.Status != models.ApplicationStatusOptedIn {
		return repository.ErrConflict
	}
	a.Status = models.ApplicationStatusVerified
	a.VerificationImage = &imageRef
	a.VerifiedAt = &at
	return nil
}

func (m memApps) StartTesting(_ context.Context, id uuid.UUID, start, end time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok || a.Status != models.ApplicationStatusVerified {
		return repository.ErrConflict
	}
	a.Status = models.ApplicationStatusTesting
	a.TestingStartDate = &start
	a.TestingEndDate = &end
	return nil
}

func (m memApps) SaveFeedback(_ context.Context, id uuid.UUID, feedback string, rating int) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	a, ok := m.s.apps[id]
	if !ok || a.Feedback != nil || (a.Status != models.ApplicationStatusTesting && a.Status != models.ApplicationStatusCompleted) {
		return repository.ErrConflict
	}
	a.Feedback = &feedback
	a.Rating = &rating
	return nil
}

// ---------------------------------------------------------------------------
// memPayments
// ---------------------------------------------------------------------------

type memPayments struct{ s *memStore }

func (m memPayments) Create(_ context.Context, p *models.Payment) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if openStatus(p.Status) {
		for _, existing := range m.s.payments {
			if existing.ApplicationID == p.ApplicationID && openStatus(existing.Status) {
				return repository.ErrDuplicate
			}
		}
	}
	if a, ok := m.s.apps[p.ApplicationID]; ok {
		m.s.statusAtPaymentCreate = append(m.s.statusAtPaymentCreate, a.Status)
	}
	p.ID = uuid.New()
	cp := *p
	m.s.payments = append(m.s.payments, &cp)
	return nil
}

func (m memPayments) find(id uuid.UUID) *models.Payment {
	for _, p := range m.s.payments {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (m memPayments) GetByID(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p := m.find(id)
	if p == nil {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m memPayments) GetOpenByApplication(_ context.Context, appID uuid.UUID) (*models.Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, p := range m.s.payments {
		if p.ApplicationID == appID && openStatus(p.Status) {
			cp := *p
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m memPayments) cas(id uuid.UUID, from string, apply func(p *models.Payment)) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p := m.find(id)
	if p == nil || p.Status != from {
		return repository.ErrConflict
	}
	apply(p)
	return nil
}

func (m memPayments) Claim(_ context.Context, id uuid.UUID) error {
	return m.cas(id, models.PaymentStatusPending, func(p *models.Payment) {
		now := time.Now()
		p.Status = models.PaymentStatusEscrowed
		p.EscrowedAt = &now
	})
}

func (m memPayments) MarkProcessing(_ context.Context, id uuid.UUID, transferID string) error {
	return m.cas(id, models.PaymentStatusEscrowed, func(p *models.Payment) {
		p.Status = models.PaymentStatusProcessing
		p.TransferID = &transferID
	})
}

func (m memPayments) MarkFailed(_ context.Context, id uuid.UUID, from, reason string) error {
	return m.cas(id, from, func(p *models.Payment) {
		now := time.Now()
		p.Status = models.PaymentStatusFailed
		p.FailureReason = &reason
		p.FailedAt = &now
	})
}

func (m memPayments) FailStaleClaims(_ context.Context, claimedBefore time.Time, reason string) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, p := range m.s.payments {
		if p.Status != models.PaymentStatusEscrowed || p.TransferID != nil || p.EscrowedAt == nil || !p.EscrowedAt.Before(claimedBefore) {
			continue
		}
		now := time.Now()
		p.Status = models.PaymentStatusFailed
		p.FailureReason = &reason
		p.FailedAt = &now
		n++
	}
	return n, nil
}

func (m memPayments) RetryFailed(_ context.Context, id uuid.UUID) (*models.Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p := m.find(id)
	if p == nil || p.Status != models.PaymentStatusFailed {
		return nil, repository.ErrNotFound
	}
	for _, other := range m.s.payments {
		if other.ID != id && other.ApplicationID == p.ApplicationID && openStatus(other.Status) {
			return nil, repository.ErrDuplicate
		}
	}
	p.Status = models.PaymentStatusProcessing
	p.FailureReason = nil
	p.FailedAt = nil
	cp := *p
	return &cp, nil
}

func (m memPayments) CompleteForTransfer(_ context.Context, appID *uuid.UUID, transferID string, at time.Time) (*models.Payment, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	rank := map[string]int{
		models.PaymentStatusProcessing: 0,
		models.PaymentStatusEscrowed:   1,
		models.PaymentStatusPending:    2,
		models.PaymentStatusFailed:     3,
	}
	var best *models.Payment
	for _, p := range m.s.payments {
		matches := (appID != nil && p.ApplicationID == *appID) ||
			(appID == nil && p.TransferID != nil && *p.TransferID == transferID)
		if !matches {
			continue
		}
		if p.Status == models.PaymentStatusCompleted {
			return nil, repository.ErrNotFound
		}
		r, ok := rank[p.Status]
		if !ok {
			continue
		}
		if best == nil || r < rank[best.Status] {
			best = p
		}
	}
	if best == nil {
		return nil, repository.ErrNotFound
	}
	best.Status = models.PaymentStatusCompleted
	best.TransferID = &transferID
	best.CompletedAt = &at
	best.FailureReason = nil
	cp := *best
	return &cp, nil
}

// ---------------------------------------------------------------------------
// memUsers, memUsage, memJobs
// ---------------------------------------------------------------------------

type memUsers struct{ s *memStore }

func (m memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m memUsers) UpdatePayoutStatus(_ context.Context, id uuid.UUID, accountID string, enabled bool) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	u, ok := m.s.users[id]
	if !ok {
		return repository.ErrConflict
	}
	u.StripeAccountID = &accountID
	u.PayoutsEnabled = enabled
	return nil
}

func (m memUsers) UpdatePayoutStatusByAccount(_ context.Context, accountID string, enabled bool) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, u := range m.s.users {
		if u.StripeAccountID != nil && *u.StripeAccountID == accountID {
			u.PayoutsEnabled = enabled
			n++
		}
	}
	return n, nil
}

type memUsage struct{ s *memStore }

func (m memUsage) ListByApplication(_ context.Context, appID uuid.UUID) ([]models.UsageLog, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return append([]models.UsageLog(nil), m.s.logs[appID]...), nil
}

func (m memUsage) InsertBatch(_ context.Context, logs []models.UsageLog) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, l := range logs {
		l.ID = uuid.New()
		m.s.logs[l.ApplicationID] = append(m.s.logs[l.ApplicationID], l)
	}
	return int64(len(logs)), nil
}

type memJobs struct{ s *memStore }

func (m memJobs) GetByID(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m memJobs) MarkInProgress(_ context.Context, id uuid.UUID) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || j.Status != models.JobStatusActive {
		return repository.ErrConflict
	}
	j.Status = models.JobStatusInProgress
	return nil
}

func (m memJobs) ActivateFunded(_ context.Context, id uuid.UUID, intentID string, at time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	j, ok := m.s.jobs[id]
	if !ok || j.Status != models.JobStatusDraft {
		return false, nil
	}
	j.Status = models.JobStatusActive
	j.PublishedAt = &at
	if j.FundingIntentID == nil {
		j.FundingIntentID = &intentID
	}
	return true, nil
}

func (m memJobs) ActivateDrafts(_ context.Context, developerID uuid.UUID, at time.Time) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, j := range m.s.jobs {
		if j.DeveloperID == developerID && j.Status == models.JobStatusDraft {
			j.Status = models.JobStatusActive
			j.PublishedAt = &at
			n++
		}
	}
	return n, nil
}

func (m memJobs) CompleteFinished(_ context.Context, jobIDs []uuid.UUID) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var n int64
	for _, id := range jobIDs {
		j, ok := m.s.jobs[id]
		if !ok || j.Status != models.JobStatusInProgress {
			continue
		}
		completed, open := 0, 0
		for _, a := range m.s.apps {
			if a.JobID != id {
				continue
			}
			switch a.Status {
			case models.ApplicationStatusCompleted:
				completed++
			case models.ApplicationStatusRejected:
			default:
				open++
			}
		}
		if open == 0 && completed >= j.TestersNeeded {
			j.Status = models.JobStatusCompleted
			n++
		}
	}
	return n, nil
}
