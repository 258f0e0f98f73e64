package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"studyflow/internal/util"
)

type ErrorType string

const (
	ErrorQuota     ErrorType = "quota"
	ErrorRate      ErrorType = "rate"
	ErrorTransient ErrorType = "transient"
	ErrorPermanent ErrorType = "permanent"
	ErrorContext   ErrorType = "context"
)

func ClassifyError(err error) ErrorType {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTransient
	}
	if t, ok := classifyStatus(err); ok {
		return t
	}
	e := strings.ToLower(err.Error())
	switch {
	case strings.Contains(e, "quota"), strings.Contains(e, "credit"), strings.Contains(e, "insufficient_quota"):
		return ErrorQuota
	case strings.Contains(e, "rate limit"), strings.Contains(e, "rate_limit"), strings.Contains(e, "too many requests"), strings.Contains(e, "429"):
		return ErrorRate
	case strings.Contains(e, "context length"), strings.Contains(e, "context_length"),
		strings.Contains(e, "maximum context"), strings.Contains(e, "too long"):
		return ErrorContext
	case strings.Contains(e, "timeout"), strings.Contains(e, "temporarily"), strings.Contains(e, "unavailable"),
		strings.Contains(e, "connection refused"), strings.Contains(e, "connection reset"), strings.Contains(e, "eof"):
		return ErrorTransient
	default:
		return ErrorPermanent
	}
}

func classifyStatus(err error) (ErrorType, bool) {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if code, ok := apiErr.Code.(string); ok {
			switch code {
			case "insufficient_quota":
				return ErrorQuota, true
			case "context_length_exceeded":
				return ErrorContext, true
			}
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return "", false
	}
	switch {
	case status == http.StatusTooManyRequests:
		return ErrorRate, true
	case status >= 500:
		return ErrorTransient, true
	case status == http.StatusRequestTimeout:
		return ErrorTransient, true
	case status >= 400:
		return ErrorPermanent, true
	}
	return "", false
}

// Sentinel maps a classification onto the shared error values.
func Sentinel(t ErrorType) error {
	switch t {
	case ErrorQuota:
		return util.ErrQuotaExhausted
	case ErrorRate:
		return util.ErrRateLimited
	case ErrorTransient:
		return util.ErrTransient
	case ErrorContext:
		return util.ErrContextTooLong
	default:
		return util.ErrPermanent
	}
}

// Retryable reports whether a call that failed with t may succeed later.
func Retryable(t ErrorType) bool {
	return t == ErrorRate || t == ErrorTransient
}
