package activities

import (
	"errors"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"studyflow/internal/util"
)

type errorKind struct {
	err       error
	name      string
	retryable bool
}

// Order matters: the first matching sentinel names the failure.
var errorKinds = []errorKind{
	{util.ErrStageAlreadyRunning, "StageAlreadyRunning", false},
	{util.ErrStagePrerequisite, "StagePrerequisite", false},
	{util.ErrInvalidStage, "InvalidStage", false},
	{util.ErrNotFound, "NotFound", false},
	{util.ErrUnreadablePDF, "UnreadablePDF", false},
	{util.ErrNoExtractableText, "NoExtractableText", false},
	{util.ErrGenerationInvalid, "GenerationInvalid", false},
	{util.ErrGenerationUnavailable, "GenerationUnavailable", true},
	{util.ErrEmbeddingUnavailable, "EmbeddingUnavailable", true},
}

// NonRetryableErrorTypes lists the application error types a retry policy
// should give up on immediately.
func NonRetryableErrorTypes() []string {
	out := make([]string, 0, len(errorKinds))
	for _, k := range errorKinds {
		if !k.retryable {
			out = append(out, k.name)
		}
	}
	return out
}

// ToApplicationError tags pipeline failures with a stable type so they
// survive serialization through the Temporal server.
func ToApplicationError(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		if k.retryable {
			return temporal.NewApplicationError(err.Error(), k.name, err)
		}
		return temporal.NewNonRetryableApplicationError(err.Error(), k.name, err)
	}
	return err
}

// FromWorkflowError maps a failure returned by a workflow run back onto the
// pipeline's sentinel errors. Unknown failures are returned unchanged.
func FromWorkflowError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) {
		return err
	}
	for _, k := range errorKinds {
		if appErr.Type() == k.name {
			return fmt.Errorf("%w: %s", k.err, appErr.Error())
		}
	}
	return err
}
