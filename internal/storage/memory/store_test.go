package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

func seedBook(t *testing.T, s *Store) models.Book {
	t.Helper()
	b, created, err := s.CreateBook(context.Background(), models.Book{BookID: "b1", BookHash: "h1", Title: "Algebra"})
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func TestCreateBookDedupesByHash(t *testing.T) {
	s := NewStore()
	seedBook(t, s)
	again, created, err := s.CreateBook(context.Background(), models.Book{BookID: "b2", BookHash: "h1"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "b1", again.BookID)

	books, err := s.ListBooks(context.Background())
	require.NoError(t, err)
	require.Len(t, books, 1)
}

func TestCommitStageResetsDownstream(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedBook(t, s)

	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status:    models.StageStatus{BookID: "b1", Stage: models.StageExtractPages, Completed: true, Count: 2},
		PageCount: 2,
		Pages:     []models.PageText{{PageNumber: 1, Text: "a"}, {PageNumber: 2, Text: "b"}},
	}))
	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status:   models.StageStatus{BookID: "b1", Stage: models.StageExtractContent, Completed: true, Count: 1},
		Chapters: []models.Chapter{{BookID: "b1", Title: "All", StartPage: 1, EndPage: 2}},
	}))
	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status:   models.StageStatus{BookID: "b1", Stage: models.StageSegmentChapters, Completed: true, Count: 1},
		Segments: []models.Segment{{SegmentID: "b1/c000/s000", BookID: "b1", Body: "a\n\nb"}},
	}))
	require.NoError(t, s.PutDeck(ctx, models.SlideDeck{SegmentID: "b1/c000/s000", BookID: "b1", Heading: "All"}))

	b, err := s.GetBook(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, 2, b.PageCount)

	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status:   models.StageStatus{BookID: "b1", Stage: models.StageExtractContent, Completed: true, Count: 1},
		Chapters: []models.Chapter{{BookID: "b1", Title: "All", StartPage: 1, EndPage: 2}},
	}))
	segs, err := s.ListSegments(ctx, "b1")
	require.NoError(t, err)
	require.Empty(t, segs)
	_, err = s.GetDeck(ctx, "b1/c000/s000")
	require.ErrorIs(t, err, util.ErrNotFound)

	statuses, err := s.ListStageStatus(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	require.Equal(t, models.StageExtractPages, statuses[0].Stage)
	require.Equal(t, models.StageExtractContent, statuses[1].Stage)
}

func TestCommitStageRequiresPrerequisite(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedBook(t, s)

	err := s.CommitStage(ctx, models.StageOutput{
		Status:   models.StageStatus{BookID: "b1", Stage: models.StageSegmentChapters, Completed: true, Count: 1},
		Segments: []models.Segment{{SegmentID: "b1/c000/s000", BookID: "b1", Body: "a"}},
	})
	require.ErrorIs(t, err, util.ErrStagePrerequisite)

	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status: models.StageStatus{BookID: "b1", Stage: models.StageExtractPages, Completed: true, Count: 1},
		Pages:  []models.PageText{{PageNumber: 1, Text: "a"}},
	}))
	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status:   models.StageStatus{BookID: "b1", Stage: models.StageExtractContent, Completed: true, Count: 1},
		Chapters: []models.Chapter{{BookID: "b1", Title: "All", StartPage: 1, EndPage: 1}},
	}))
	require.NoError(t, s.ClearStage(ctx, "b1", models.StageExtractContent))

	err = s.CommitStage(ctx, models.StageOutput{
		Status:   models.StageStatus{BookID: "b1", Stage: models.StageSegmentChapters, Completed: true, Count: 1},
		Segments: []models.Segment{{SegmentID: "b1/c000/s000", BookID: "b1", Body: "a"}},
	})
	require.ErrorIs(t, err, util.ErrStagePrerequisite)
	segs, err := s.ListSegments(ctx, "b1")
	require.NoError(t, err)
	require.Empty(t, segs)
}

func TestClearStageAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	seedBook(t, s)
	require.NoError(t, s.CommitStage(ctx, models.StageOutput{
		Status: models.StageStatus{BookID: "b1", Stage: models.StageExtractPages, Completed: true, Count: 1},
		Pages:  []models.PageText{{PageNumber: 1, Text: "a"}},
	}))
	require.NoError(t, s.ClearStage(ctx, "b1", models.StageExtractPages))
	pages, err := s.ListPages(ctx, "b1")
	require.NoError(t, err)
	require.Empty(t, pages)

	require.NoError(t, s.DeleteBook(ctx, "b1"))
	_, err = s.GetBook(ctx, "b1")
	require.ErrorIs(t, err, util.ErrNotFound)
	require.ErrorIs(t, s.DeleteBook(ctx, "b1"), util.ErrNotFound)
}

func TestAppendTurnsAssignsSequence(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateSession(ctx, "sess"))
	saved, err := s.AppendTurns(ctx, "sess", []models.ChatTurn{{Role: models.RoleUser, Text: "q"}, {Role: models.RoleAssistant, Text: "a"}})
	require.NoError(t, err)
	require.Equal(t, int64(1), saved[0].Seq)
	require.Equal(t, int64(2), saved[1].Seq)

	last, err := s.ListTurns(ctx, "sess", 1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	require.Equal(t, "a", last[0].Text)

	none, err := s.ListTurns(ctx, "other", 0)
	require.NoError(t, err)
	require.Empty(t, none)
}
