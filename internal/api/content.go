package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"studyflow/internal/models"
	"studyflow/internal/slides"
	"studyflow/internal/util"
)

func (s *Server) handleToc(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.deps.Books.GetBook(ctx, c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	toc, err := s.deps.Content.ListToc(ctx, c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"toc": toc})
}

func (s *Server) handleChapters(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.deps.Books.GetBook(ctx, c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	chapters, err := s.deps.Content.ListChapters(ctx, c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chapters": chapters})
}

func (s *Server) handleSegments(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.deps.Books.GetBook(ctx, c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	segments, err := s.deps.Content.ListSegments(ctx, c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

// segmentParam returns the :sid path value, rejecting ids that belong to a
// different book than :id.
func segmentParam(c *gin.Context) (string, error) {
	sid := c.Param("sid")
	if !strings.HasPrefix(sid, c.Param("id")+"/") {
		return "", fmt.Errorf("segment %q: %w", sid, util.ErrNotFound)
	}
	return sid, nil
}

func (s *Server) handleSegment(c *gin.Context) {
	sid, err := segmentParam(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	seg, err := s.deps.Content.GetSegment(c.Request.Context(), sid)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, seg)
}

func (s *Server) handleDecks(c *gin.Context) {
	ctx := c.Request.Context()
	if _, err := s.deps.Books.GetBook(ctx, c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	decks, err := s.deps.Content.ListDecks(ctx, c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"decks": decks})
}

func (s *Server) deck(c *gin.Context) (models.SlideDeck, bool) {
	sid, err := segmentParam(c)
	if err != nil {
		writeErr(c, err)
		return models.SlideDeck{}, false
	}
	deck, err := s.deps.Content.GetDeck(c.Request.Context(), sid)
	if err != nil {
		writeErr(c, err)
		return models.SlideDeck{}, false
	}
	return deck, true
}

func (s *Server) handleDeck(c *gin.Context) {
	if deck, ok := s.deck(c); ok {
		c.JSON(http.StatusOK, deck)
	}
}

func (s *Server) handleDeckHTML(c *gin.Context) {
	deck, ok := s.deck(c)
	if !ok {
		return
	}
	html, err := slides.RenderHTML(deck)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}

func (s *Server) handleRegenerateDeck(c *gin.Context) {
	sid, err := segmentParam(c)
	if err != nil {
		writeErr(c, err)
		return
	}
	deck, err := s.deps.Pipeline.RegenerateDeck(c.Request.Context(), sid)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}
