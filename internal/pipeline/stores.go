package pipeline

import (
	"context"

	"studyflow/internal/index"
	"studyflow/internal/models"
	"studyflow/internal/slides"
)

type BookStore interface {
	CreateBook(ctx context.Context, b models.Book) (models.Book, bool, error)
	GetBook(ctx context.Context, bookID string) (models.Book, error)
	ListBooks(ctx context.Context) ([]models.Book, error)
	DeleteBook(ctx context.Context, bookID string) error
}

// ContentStore holds stage outputs. CommitStage and ClearStage are atomic.
type ContentStore interface {
	ListPages(ctx context.Context, bookID string) ([]models.PageText, error)
	ListToc(ctx context.Context, bookID string) ([]models.TocEntry, error)
	ListChapters(ctx context.Context, bookID string) ([]models.Chapter, error)
	ListSegments(ctx context.Context, bookID string) ([]models.Segment, error)
	GetSegment(ctx context.Context, segmentID string) (models.Segment, error)
	ListDecks(ctx context.Context, bookID string) ([]models.SlideDeck, error)
	GetDeck(ctx context.Context, segmentID string) (models.SlideDeck, error)
	PutDeck(ctx context.Context, deck models.SlideDeck) error
	ListStageStatus(ctx context.Context, bookID string) ([]models.StageStatus, error)
	CommitStage(ctx context.Context, out models.StageOutput) error
	ClearStage(ctx context.Context, bookID string, stage models.Stage) error
}

type DeckGenerator interface {
	Generate(ctx context.Context, in slides.Input) (models.SlideDeck, error)
}

type UnitIndexer interface {
	IndexUnit(ctx context.Context, u index.Unit) (index.Outcome, error)
	IndexAll(ctx context.Context, units []index.Unit) (index.Report, error)
}
