package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/util"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorMapping struct {
	err    error
	status int
	code   string
	msg    string
}

// First match wins, so more specific causes come first.
var errorMappings = []errorMapping{
	{util.ErrNotFound, http.StatusNotFound, "SF-API-4004", "Requested resource was not found."},
	{util.ErrInvalidStage, http.StatusBadRequest, "SF-STAGE-4001", "Unknown stage name."},
	{util.ErrStagePrerequisite, http.StatusBadRequest, "SF-STAGE-4002", "An earlier stage must complete before this one can run."},
	{util.ErrStageAlreadyRunning, http.StatusConflict, "SF-STAGE-4009", "This stage is already running for the book. Retry after it finishes."},
	{util.ErrUnreadablePDF, http.StatusUnprocessableEntity, "SF-PDF-4220", "The uploaded file could not be read as a PDF."},
	{util.ErrNoExtractableText, http.StatusUnprocessableEntity, "SF-PDF-4221", "The PDF contains no extractable text."},
	{util.ErrGenerationInvalid, http.StatusUnprocessableEntity, "SF-GEN-4220", "The model did not produce a valid slide deck."},
	{util.ErrChatUnavailable, http.StatusBadGateway, "SF-CHAT-5020", "The chat model is unavailable. Retry shortly."},
	{util.ErrGenerationUnavailable, http.StatusBadGateway, "SF-GEN-5020", "Upstream provider unavailable. Retry shortly."},
	{util.ErrEmbeddingUnavailable, http.StatusServiceUnavailable, "SF-EMB-5030", "Embedding provider unavailable. Retry shortly."},
}

func errBadRequest(msg string) error {
	return &requestError{msg: msg}
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

// toAPIError maps an error onto an HTTP status and a stable, user-safe body.
func toAPIError(err error) (int, apiError) {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest, apiError{Code: "SF-API-4001", Message: reqErr.msg}
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, apiError{Code: m.code, Message: m.msg}
		}
	}
	raw := strings.ToLower(err.Error())
	switch {
	case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
		return http.StatusInternalServerError, apiError{
			Code:    "SF-DB-5001",
			Message: "Database schema is not initialized. Run migrations and retry.",
		}
	case strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
		return http.StatusInternalServerError, apiError{
			Code:    "SF-DB-5002",
			Message: "Database connection is unavailable. Check local services and retry.",
		}
	}
	return http.StatusInternalServerError, apiError{
		Code:    "SF-API-5000",
		Message: "Internal server error. Please retry or check service logs.",
	}
}

func writeErr(c *gin.Context, err error) {
	status, body := toAPIError(err)
	if status >= http.StatusInternalServerError {
		logutil.GetLogger(c.Request.Context()).Error("request failed",
			zap.String("path", c.FullPath()), zap.Int("status", status), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}
