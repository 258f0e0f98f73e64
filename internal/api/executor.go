package api

import (
	"context"
	"errors"
	"fmt"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	tclient "go.temporal.io/sdk/client"

	"studyflow/internal/activities"
	"studyflow/internal/models"
	"studyflow/internal/util"
	"studyflow/internal/workflows"
)

// StageExecutor runs stages either in this process or through Temporal.
type StageExecutor interface {
	RunStage(ctx context.Context, bookID string, stage models.Stage) (models.StageResult, error)
	RunPipeline(ctx context.Context, bookID string, skipSlides bool) ([]models.StageResult, error)
}

type InlineRunner interface {
	RunStage(ctx context.Context, bookID string, stage models.Stage) (models.StageResult, error)
	RunAll(ctx context.Context, bookID string, skipSlides bool) ([]models.StageResult, error)
}

type InlineExecutor struct {
	runner InlineRunner
}

func NewInlineExecutor(runner InlineRunner) *InlineExecutor {
	return &InlineExecutor{runner: runner}
}

func (e *InlineExecutor) RunStage(ctx context.Context, bookID string, stage models.Stage) (models.StageResult, error) {
	return e.runner.RunStage(ctx, bookID, stage)
}

func (e *InlineExecutor) RunPipeline(ctx context.Context, bookID string, skipSlides bool) ([]models.StageResult, error) {
	return e.runner.RunAll(ctx, bookID, skipSlides)
}

// TemporalExecutor starts workflows keyed by book and stage and waits for
// their result. A second start while a run is open is rejected by the server.
type TemporalExecutor struct {
	client    tclient.Client
	taskQueue string
}

func NewTemporalExecutor(c tclient.Client, taskQueue string) *TemporalExecutor {
	return &TemporalExecutor{client: c, taskQueue: taskQueue}
}

func (e *TemporalExecutor) startOptions(id string) tclient.StartWorkflowOptions {
	return tclient.StartWorkflowOptions{
		ID:                                       id,
		TaskQueue:                                e.taskQueue,
		WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionErrorWhenAlreadyStarted: true,
	}
}

func (e *TemporalExecutor) RunStage(ctx context.Context, bookID string, stage models.Stage) (models.StageResult, error) {
	if _, ok := models.ParseStage(string(stage)); !ok {
		return models.StageResult{}, fmt.Errorf("%w: %q", util.ErrInvalidStage, stage)
	}
	run, err := e.client.ExecuteWorkflow(ctx, e.startOptions(workflows.StageWorkflowID(bookID, stage)),
		workflows.BookStageWorkflow, workflows.BookStageInput{BookID: bookID, Stage: stage})
	if err != nil {
		return models.StageResult{}, startError(err)
	}
	var res models.StageResult
	if err := run.Get(ctx, &res); err != nil {
		return models.StageResult{}, activities.FromWorkflowError(err)
	}
	return res, nil
}

func (e *TemporalExecutor) RunPipeline(ctx context.Context, bookID string, skipSlides bool) ([]models.StageResult, error) {
	run, err := e.client.ExecuteWorkflow(ctx, e.startOptions(workflows.PipelineWorkflowID(bookID)),
		workflows.BookPipelineWorkflow, workflows.BookPipelineInput{BookID: bookID, SkipSlides: skipSlides})
	if err != nil {
		return nil, startError(err)
	}
	var progress workflows.PipelineProgress
	if err := run.Get(ctx, &progress); err != nil {
		return nil, activities.FromWorkflowError(err)
	}
	return progress.Results, nil
}

func startError(err error) error {
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return fmt.Errorf("%w: %w", util.ErrStageAlreadyRunning, err)
	}
	return fmt.Errorf("start workflow: %w", err)
}
