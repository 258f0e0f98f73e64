package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"studyflow/internal/activities"
	"studyflow/internal/models"
)

const (
	QueryGetStageStatus    = "GetStageStatus"
	QueryGetPipelineStatus = "GetPipelineStatus"
)

// StageWorkflowID is shared by every run of one stage of one book so the
// server rejects a second start while the first is open.
func StageWorkflowID(bookID string, stage models.Stage) string {
	return "stage-" + bookID + "-" + string(stage)
}

func PipelineWorkflowID(bookID string) string {
	return "pipeline-" + bookID
}

func stageTimeout(stage models.Stage) time.Duration {
	switch stage {
	case models.StageGenerateSlides, models.StageIndexUnits:
		return 30 * time.Minute
	default:
		return 5 * time.Minute
	}
}

func stageActivityOptions(stage models.Stage) workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: stageTimeout(stage),
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        2 * time.Second,
			BackoffCoefficient:     2,
			MaximumInterval:        30 * time.Second,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: activities.NonRetryableErrorTypes(),
		},
	}
}

func runStage(ctx workflow.Context, bookID string, stage models.Stage) (models.StageResult, error) {
	ctx = workflow.WithActivityOptions(ctx, stageActivityOptions(stage))
	var res models.StageResult
	err := workflow.ExecuteActivity(ctx, "RunStageActivity", activities.RunStageInput{BookID: bookID, Stage: stage}).Get(ctx, &res)
	return res, err
}

func BookStageWorkflow(ctx workflow.Context, input BookStageInput) (models.StageResult, error) {
	progress := StageProgress{BookID: input.BookID, Stage: input.Stage, Status: StatusRunning}
	if err := workflow.SetQueryHandler(ctx, QueryGetStageStatus, func() (StageProgress, error) {
		return progress, nil
	}); err != nil {
		return models.StageResult{}, err
	}

	res, err := runStage(ctx, input.BookID, input.Stage)
	if err != nil {
		progress.Status = StatusFailed
		progress.Error = err.Error()
		workflow.GetLogger(ctx).Warn("stage failed", "book_id", input.BookID, "stage", input.Stage, "error", err)
		return models.StageResult{}, err
	}
	progress.Status = StatusCompleted
	progress.Result = &res
	return res, nil
}

// BookPipelineWorkflow runs every stage of a book in order and stops at the
// first failure.
func BookPipelineWorkflow(ctx workflow.Context, input BookPipelineInput) (PipelineProgress, error) {
	progress := PipelineProgress{BookID: input.BookID, Status: StatusRunning, Results: []models.StageResult{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetPipelineStatus, func() (PipelineProgress, error) {
		return progress, nil
	}); err != nil {
		return progress, err
	}

	for _, stage := range models.Stages {
		if input.SkipSlides && stage == models.StageGenerateSlides {
			continue
		}
		progress.Current = stage
		res, err := runStage(ctx, input.BookID, stage)
		if err != nil {
			progress.Status = StatusFailed
			progress.Error = err.Error()
			workflow.GetLogger(ctx).Warn("pipeline stopped", "book_id", input.BookID, "stage", stage, "error", err)
			return progress, err
		}
		progress.Results = append(progress.Results, res)
	}
	progress.Current = ""
	progress.Status = StatusCompleted
	return progress, nil
}

func ReindexStaleWorkflow(ctx workflow.Context, input ReindexStaleInput) (activities.ReindexStaleOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var out activities.ReindexStaleOutput
	err := workflow.ExecuteActivity(ctx, "ReindexStaleActivity", activities.ReindexStaleInput{Limit: input.Limit}).Get(ctx, &out)
	return out, err
}
