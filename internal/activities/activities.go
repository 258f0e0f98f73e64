package activities

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"studyflow/internal/index"
	"studyflow/internal/models"
)

// StageRunner is the part of the pipeline the worker drives.
type StageRunner interface {
	RunStage(ctx context.Context, bookID string, stage models.Stage) (models.StageResult, error)
	ReindexStale(ctx context.Context, limit int) (index.Report, error)
}

type Activities struct {
	runner StageRunner
}

func New(runner StageRunner) *Activities {
	return &Activities{runner: runner}
}

func (a *Activities) RunStageActivity(ctx context.Context, in RunStageInput) (models.StageResult, error) {
	info := activity.GetInfo(ctx)
	logger := logutil.GetLogger(ctx).With(
		zap.String("book_id", in.BookID),
		zap.String("stage", string(in.Stage)),
		zap.String("workflow_id", info.WorkflowExecution.ID),
		zap.Int32("attempt", info.Attempt),
	)
	res, err := a.runner.RunStage(ctx, in.BookID, in.Stage)
	if err != nil {
		logger.Warn("stage activity failed", zap.Error(err))
		return models.StageResult{}, ToApplicationError(err)
	}
	return res, nil
}

func (a *Activities) ReindexStaleActivity(ctx context.Context, in ReindexStaleInput) (ReindexStaleOutput, error) {
	rep, err := a.runner.ReindexStale(ctx, in.Limit)
	if err != nil {
		return ReindexStaleOutput{}, ToApplicationError(err)
	}
	if rep.Stale > 0 {
		logutil.GetLogger(ctx).Info("units still stale after reindex", zap.Strings("unit_refs", rep.StaleRefs))
	}
	return ReindexStaleOutput{Embedded: rep.Embedded, Reused: rep.Reused, Stale: rep.Stale}, nil
}
