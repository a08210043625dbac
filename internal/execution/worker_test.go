package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evansmunsha/testforpay-sub001/internal/services"
)

type stubSettler struct {
	results []services.SettlementResult
	err     error
	calls   int
}

func (s *stubSettler) ProcessCompletedEngagements(context.Context) ([]services.SettlementResult, error) {
	s.calls++
	return s.results, s.err
}

func settleJob() *river.Job[SettleEngagementsArgs] {
	return &river.Job[SettleEngagementsArgs]{
		JobRow: &rivertype.JobRow{ID: 42},
		Args:   SettleEngagementsArgs{Trigger: "schedule"},
	}
}

func TestWork_PerEngagementFailuresDoNotFailJob(t *testing.T) {
	s := &stubSettler{results: []services.SettlementResult{
		{ApplicationID: uuid.New(), Success: true},
		{ApplicationID: uuid.New(), Reason: services.ReasonTransferFailed},
	}}
	w := NewSettleEngagementsWorker(s, nil)

	require.NoError(t, w.Work(context.Background(), settleJob()))
	assert.Equal(t, 1, s.calls)
}

func TestWork_RunErrorIsRetried(t *testing.T) {
	w := NewSettleEngagementsWorker(&stubSettler{err: errors.New("candidate query failed")}, nil)

	err := w.Work(context.Background(), settleJob())
	assert.ErrorContains(t, err, "candidate query failed")
}

func TestWorkerTimeoutAndKind(t *testing.T) {
	w := NewSettleEngagementsWorker(&stubSettler{}, nil)
	assert.Equal(t, 10*time.Minute, w.Timeout(settleJob()))
	assert.Equal(t, "settle_engagements", SettleEngagementsArgs{}.Kind())
}

type recordingInserter struct {
	args river.JobArgs
	opts *river.InsertOpts
}

func (r *recordingInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	r.args, r.opts = args, opts
	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: 7}}, nil
}

func TestEnqueueSettlement(t *testing.T) {
	ins := &recordingInserter{}
	id, err := NewEnqueuer(ins).EnqueueSettlement(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, SettleEngagementsArgs{Trigger: "operator"}, ins.args)
	assert.Contains(t, ins.opts.UniqueOpts.ByState, rivertype.JobStateRunning)
}
