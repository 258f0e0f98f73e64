package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"studyflow/internal/chat"
	"studyflow/internal/models"
	"studyflow/internal/pipeline"
	"studyflow/internal/retrieval"
	"studyflow/internal/vector"
)

// Pipeline is the book lifecycle the API drives outside stage execution.
type Pipeline interface {
	Ingest(ctx context.Context, filename string, src io.Reader) (models.Book, bool, error)
	ClearStage(ctx context.Context, bookID string, stage models.Stage) error
	DeleteBook(ctx context.Context, bookID string) error
	RegenerateDeck(ctx context.Context, segmentID string) (models.SlideDeck, error)
}

type Searcher interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]vector.Hit, error)
}

type ChatService interface {
	Submit(ctx context.Context, turn chat.Turn) (chat.Reply, error)
	History(ctx context.Context, sessionID string) ([]models.ChatTurn, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, sessionID string) error
}

type Deps struct {
	Books    pipeline.BookStore
	Content  pipeline.ContentStore
	Pipeline Pipeline
	Executor StageExecutor
	Search   Searcher
	Chat     ChatService
	Sessions SessionStore

	// MaxUploadBytes bounds a single PDF upload; zero uses 256 MiB.
	MaxUploadBytes int64
	RateLimitRPS   int
	RateLimitBurst int
}

type Server struct {
	deps    Deps
	limiter *clientLimiter
}

func NewServer(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 256 << 20
	}
	return &Server{
		deps:    deps,
		limiter: newClientLimiter(deps.RateLimitRPS, deps.RateLimitBurst),
	}
}

func (s *Server) Routes() *gin.Engine {
	router := gin.New()
	// Segment ids contain '/', so clients send them path-escaped.
	router.UseRawPath = true
	router.UnescapePathValues = true
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger())
	router.Use(cors())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/healthz", s.handleHealthz)

	router.POST("/books", s.handleUpload)
	router.GET("/books", s.handleListBooks)
	router.GET("/books/:id", s.handleGetBook)
	router.DELETE("/books/:id", s.handleDeleteBook)
	router.POST("/books/:id/stages/:stage", s.handleRunStage)
	router.DELETE("/books/:id/stages/:stage", s.handleClearStage)
	router.POST("/books/:id/pipeline", s.handleRunPipeline)

	router.GET("/books/:id/toc", s.handleToc)
	router.GET("/books/:id/chapters", s.handleChapters)
	router.GET("/books/:id/segments", s.handleSegments)
	router.GET("/books/:id/segments/:sid", s.handleSegment)
	router.GET("/books/:id/slides", s.handleDecks)
	router.GET("/books/:id/segments/:sid/slides", s.handleDeck)
	router.GET("/books/:id/segments/:sid/slides.html", s.handleDeckHTML)
	router.POST("/books/:id/segments/:sid/slides", s.handleRegenerateDeck)

	limited := router.Group("")
	limited.Use(s.limiter.middleware())
	limited.POST("/search", s.handleSearch)
	limited.POST("/chat/sessions", s.handleCreateSession)
	limited.POST("/chat/sessions/:sid/turns", s.handleSubmitTurn)
	limited.GET("/chat/sessions/:sid/turns", s.handleHistory)

	return router
}

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
