package api

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

type bookDetail struct {
	models.Book
	Stages []models.StageStatus `json:"stages"`
}

func (s *Server) handleUpload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxUploadBytes)
	fh, err := c.FormFile("file")
	if err != nil {
		writeErr(c, errBadRequest("A PDF must be uploaded in the \"file\" form field."))
		return
	}
	if !strings.EqualFold(filepath.Ext(fh.Filename), ".pdf") {
		writeErr(c, errBadRequest("Only .pdf uploads are accepted."))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeErr(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	book, created, err := s.deps.Pipeline.Ingest(c.Request.Context(), fh.Filename, f)
	if err != nil {
		writeErr(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"book": book, "created": created})
}

func (s *Server) handleListBooks(c *gin.Context) {
	books, err := s.deps.Books.ListBooks(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"books": books})
}

func (s *Server) handleGetBook(c *gin.Context) {
	ctx := c.Request.Context()
	book, err := s.deps.Books.GetBook(ctx, c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	stages, err := s.deps.Content.ListStageStatus(ctx, book.BookID)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, bookDetail{Book: book, Stages: stages})
}

func (s *Server) handleDeleteBook(c *gin.Context) {
	if err := s.deps.Pipeline.DeleteBook(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func stageParam(c *gin.Context) (models.Stage, error) {
	stage, ok := models.ParseStage(c.Param("stage"))
	if !ok {
		return "", fmt.Errorf("%w: %q", util.ErrInvalidStage, c.Param("stage"))
	}
	return stage, nil
}

func (s *Server) handleRunStage(c *gin.Context) {
	stage, err := stageParam(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	res, err := s.deps.Executor.RunStage(c.Request.Context(), c.Param("id"), stage)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleClearStage(c *gin.Context) {
	stage, err := stageParam(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	if err := s.deps.Pipeline.ClearStage(c.Request.Context(), c.Param("id"), stage); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) handleRunPipeline(c *gin.Context) {
	var req struct {
		SkipSlides bool `json:"skip_slides"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeErr(c, errBadRequest("Malformed JSON request body."))
			return
		}
	}
	results, err := s.deps.Executor.RunPipeline(c.Request.Context(), c.Param("id"), req.SkipSlides)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
