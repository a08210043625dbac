// Package execution runs the Settlement Engine as a River job, both on a
// schedule and on demand.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

// settleTimeout bounds one settlement run; each candidate also carries the
// gateway timeout.
const settleTimeout = 10 * time.Minute

type SettleEngagementsArgs struct {
	// Trigger records who asked for the run ("schedule" or "operator").
	Trigger string `json:"trigger"`
}

func (SettleEngagementsArgs) Kind() string { return "settle_engagements" }

// Settler is implemented by *services.SettlementEngine.
type Settler interface {
	ProcessCompletedEngagements(ctx context.Context) ([]services.SettlementResult, error)
}

type SettleEngagementsWorker struct {
	river.WorkerDefaults[SettleEngagementsArgs]
	settler Settler
	log     *slog.Logger
}

func NewSettleEngagementsWorker(s Settler, log *slog.Logger) *SettleEngagementsWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SettleEngagementsWorker{settler: s, log: log}
}

func (w *SettleEngagementsWorker) Timeout(*river.Job[SettleEngagementsArgs]) time.Duration {
	return settleTimeout
}

// Work runs one settlement pass. Per-engagement failures are recorded on the
// payments and do not fail the job; only a failed candidate query does.
func (w *SettleEngagementsWorker) Work(ctx context.Context, job *river.Job[SettleEngagementsArgs]) error {
	results, err := w.settler.ProcessCompletedEngagements(ctx)
	if err != nil {
		return fmt.Errorf("settlement run: %w", err)
	}
	var ok, failed int
	for _, r := range results {
		switch {
		case r.Skipped:
		case r.Success:
			ok++
		default:
			failed++
		}
	}
	w.log.Info("settlement run finished",
		"job_id", job.ID, "trigger", job.Args.Trigger,
		"candidates", len(results), "succeeded", ok, "failed", failed)
	return nil
}

// PeriodicSettlement schedules a run every interval, starting at boot.
func PeriodicSettlement(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SettleEngagementsArgs{Trigger: "schedule"}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// JobInserter is the part of *river.Client used to enqueue runs.
type JobInserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueuer queues an operator-triggered settlement run.
type Enqueuer struct {
	client JobInserter
}

func NewEnqueuer(client JobInserter) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueSettlement inserts a run unless one is already queued or running,
// and returns the job id. Duplicate requests get the existing job's id.
func (e *Enqueuer) EnqueueSettlement(ctx context.Context) (int64, error) {
	res, err := e.client.Insert(ctx, SettleEngagementsArgs{Trigger: "operator"}, &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{
			ByState: []rivertype.JobState{
				rivertype.JobStateAvailable,
				rivertype.JobStatePending,
				rivertype.JobStateRunning,
				rivertype.JobStateScheduled,
			},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("enqueue settlement: %w", err)
	}
	return res.Job.ID, nil
}
