package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyflow/internal/chat"
	"studyflow/internal/retrieval"
)

func (s *Server) handleSearch(c *gin.Context) {
	var q retrieval.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		writeErr(c, errBadRequest("Malformed JSON request body."))
		return
	}
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		writeErr(c, errBadRequest("A non-empty query is required."))
		return
	}
	if q.TopK < 0 || q.TopK > 50 {
		writeErr(c, errBadRequest("top_k must be between 1 and 50."))
		return
	}
	ctx := c.Request.Context()
	hits, err := s.deps.Search.Retrieve(ctx, q)
	if err != nil {
		writeErr(c, err)
		return
	}
	results, err := retrieval.Describe(ctx, s.deps.Content, q.Text, hits)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) handleCreateSession(c *gin.Context) {
	sid := chat.NewSessionID()
	if err := s.deps.Sessions.CreateSession(c.Request.Context(), sid); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session_id": sid})
}

func (s *Server) handleSubmitTurn(c *gin.Context) {
	var turn chat.Turn
	if err := c.ShouldBindJSON(&turn); err != nil {
		writeErr(c, errBadRequest("Malformed JSON request body."))
		return
	}
	turn.SessionID = c.Param("sid")
	if strings.TrimSpace(turn.Text) == "" {
		writeErr(c, errBadRequest("A non-empty query is required."))
		return
	}
	reply, err := s.deps.Chat.Submit(c.Request.Context(), turn)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

func (s *Server) handleHistory(c *gin.Context) {
	turns, err := s.deps.Chat.History(c.Request.Context(), c.Param("sid"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": c.Param("sid"), "turns": turns})
}
