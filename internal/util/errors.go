package util

import "errors"

var (
	ErrNoExtractableText = errors.New("no extractable text found in PDF")
	ErrUnreadablePDF     = errors.New("unreadable pdf")

	ErrStructureUnavailable   = errors.New("structure unavailable")
	ErrSegmentationIncomplete = errors.New("segmentation incomplete")

	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrGenerationInvalid     = errors.New("generation invalid")
	ErrEmbeddingUnavailable  = errors.New("embedding unavailable")
	ErrChatUnavailable       = errors.New("chat unavailable")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
	ErrContextTooLong = errors.New("context too long")

	ErrStageAlreadyRunning = errors.New("stage already running")
	ErrStagePrerequisite   = errors.New("stage prerequisite not met")
	ErrInvalidStage        = errors.New("invalid stage")
	ErrNotFound            = errors.New("not found")
)
