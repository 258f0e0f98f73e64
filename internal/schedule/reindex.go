package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"studyflow/internal/activities"
	"studyflow/internal/index"
	"studyflow/internal/workflows"
)

const reindexWorkflowID = "reindex-stale"

type Reindexer interface {
	ReindexStale(ctx context.Context, limit int) (index.Report, error)
}

// ReindexJob retries embedding for vector records left stale by earlier
// provider failures.
type ReindexJob struct {
	reindexer Reindexer
	limit     int
}

func NewReindexJob(r Reindexer, limit int) *ReindexJob {
	if limit <= 0 {
		limit = 200
	}
	return &ReindexJob{reindexer: r, limit: limit}
}

func (j *ReindexJob) Name() string { return "reindex_stale" }

func (j *ReindexJob) Run(ctx context.Context) error {
	rep, err := j.reindexer.ReindexStale(ctx, j.limit)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Info("stale units reindexed",
		zap.Int("embedded", rep.Embedded), zap.Int("still_stale", rep.Stale))
	return nil
}

// TemporalReindexer hands the reindex to a worker through a workflow with a
// fixed id, so overlapping triggers from several processes collapse to one.
type TemporalReindexer struct {
	client    tclient.Client
	taskQueue string
}

func NewTemporalReindexer(c tclient.Client, taskQueue string) *TemporalReindexer {
	return &TemporalReindexer{client: c, taskQueue: taskQueue}
}

func (t *TemporalReindexer) ReindexStale(ctx context.Context, limit int) (index.Report, error) {
	run, err := t.client.ExecuteWorkflow(ctx, tclient.StartWorkflowOptions{
		ID:                                       reindexWorkflowID,
		TaskQueue:                                t.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}, workflows.ReindexStaleWorkflow, workflows.ReindexStaleInput{Limit: limit})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			return index.Report{}, nil
		}
		return index.Report{}, fmt.Errorf("start reindex workflow: %w", err)
	}
	var out activities.ReindexStaleOutput
	if err := run.Get(ctx, &out); err != nil {
		return index.Report{}, activities.FromWorkflowError(err)
	}
	return index.Report{Embedded: out.Embedded, Reused: out.Reused, Stale: out.Stale}, nil
}
