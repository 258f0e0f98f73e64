// Package memory keeps every repository in process. It backs tests and the
// CLI when no postgres URL is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/util"
)

type bookContent struct {
	pages    []models.PageText
	toc      []models.TocEntry
	chapters []models.Chapter
	segments []models.Segment
	decks    map[string]models.SlideDeck
	status   map[models.Stage]models.StageStatus
}

type Store struct {
	mu       sync.RWMutex
	books    map[string]models.Book
	content  map[string]*bookContent
	sessions map[string]time.Time
	turns    map[string][]models.ChatTurn
	calls    []providers.CallRecord
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		books:    map[string]models.Book{},
		content:  map[string]*bookContent{},
		sessions: map[string]time.Time{},
		turns:    map[string][]models.ChatTurn{},
		now:      time.Now,
	}
}

// CreateBook stores b unless a book with the same hash exists, in which case
// the existing book is returned and created is false.
func (s *Store) CreateBook(ctx context.Context, b models.Book) (models.Book, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.books {
		if existing.BookHash == b.BookHash {
			return existing, false, nil
		}
	}
	now := s.now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	s.books[b.BookID] = b
	s.content[b.BookID] = &bookContent{decks: map[string]models.SlideDeck{}, status: map[models.Stage]models.StageStatus{}}
	return b, true, nil
}

func (s *Store) GetBook(ctx context.Context, bookID string) (models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[bookID]
	if !ok {
		return models.Book{}, fmt.Errorf("book %s: %w", bookID, util.ErrNotFound)
	}
	return b, nil
}

func (s *Store) ListBooks(ctx context.Context) ([]models.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Book, 0, len(s.books))
	for _, b := range s.books {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].BookID < out[j].BookID
	})
	return out, nil
}

func (s *Store) DeleteBook(ctx context.Context, bookID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[bookID]; !ok {
		return fmt.Errorf("book %s: %w", bookID, util.ErrNotFound)
	}
	delete(s.books, bookID)
	delete(s.content, bookID)
	return nil
}

func (s *Store) bookLocked(bookID string) (*bookContent, error) {
	c, ok := s.content[bookID]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", bookID, util.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListPages(ctx context.Context, bookID string) ([]models.PageText, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return nil, err
	}
	return append([]models.PageText{}, c.pages...), nil
}

func (s *Store) ListToc(ctx context.Context, bookID string) ([]models.TocEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return nil, err
	}
	return append([]models.TocEntry{}, c.toc...), nil
}

func (s *Store) ListChapters(ctx context.Context, bookID string) ([]models.Chapter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return nil, err
	}
	return append([]models.Chapter{}, c.chapters...), nil
}

func (s *Store) ListSegments(ctx context.Context, bookID string) ([]models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return nil, err
	}
	return append([]models.Segment{}, c.segments...), nil
}

func (s *Store) GetSegment(ctx context.Context, segmentID string) (models.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.content {
		for _, seg := range c.segments {
			if seg.SegmentID == segmentID {
				return seg, nil
			}
		}
	}
	return models.Segment{}, fmt.Errorf("segment %s: %w", segmentID, util.ErrNotFound)
}

func (s *Store) ListDecks(ctx context.Context, bookID string) ([]models.SlideDeck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return nil, err
	}
	out := make([]models.SlideDeck, 0, len(c.decks))
	for _, seg := range c.segments {
		if d, ok := c.decks[seg.SegmentID]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) GetDeck(ctx context.Context, segmentID string) (models.SlideDeck, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.content {
		if d, ok := c.decks[segmentID]; ok {
			return d, nil
		}
	}
	return models.SlideDeck{}, fmt.Errorf("deck %s: %w", segmentID, util.ErrNotFound)
}

// PutDeck replaces the deck of one existing segment.
func (s *Store) PutDeck(ctx context.Context, deck models.SlideDeck) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.bookLocked(deck.BookID)
	if err != nil {
		return err
	}
	if !hasSegment(c.segments, deck.SegmentID) {
		return fmt.Errorf("segment %s: %w", deck.SegmentID, util.ErrNotFound)
	}
	c.decks[deck.SegmentID] = deck
	return nil
}

func (s *Store) ListStageStatus(ctx context.Context, bookID string) ([]models.StageStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return nil, err
	}
	out := make([]models.StageStatus, 0, len(c.status))
	for _, st := range models.Stages {
		if v, ok := c.status[st]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// CommitStage applies one stage's output and status in a single step.
func (s *Store) CommitStage(ctx context.Context, out models.StageOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bookID := out.Status.BookID
	c, err := s.bookLocked(bookID)
	if err != nil {
		return err
	}
	stage := out.Status.Stage
	if pre, ok := stage.Prerequisite(); ok {
		if st, found := c.status[pre]; !found || !st.Completed {
			return fmt.Errorf("%w: %s requires %s", util.ErrStagePrerequisite, stage, pre)
		}
	}
	for _, st := range stage.Downstream() {
		clearOutputs(c, st)
		delete(c.status, st)
	}
	switch stage {
	case models.StageExtractPages:
		c.pages = append([]models.PageText{}, out.Pages...)
		b := s.books[bookID]
		b.PageCount = out.PageCount
		b.UpdatedAt = s.now().UTC()
		s.books[bookID] = b
	case models.StageExtractContent:
		c.toc = append([]models.TocEntry{}, out.Toc...)
		c.chapters = append([]models.Chapter{}, out.Chapters...)
	case models.StageSegmentChapters:
		c.segments = append([]models.Segment{}, out.Segments...)
	case models.StageGenerateSlides:
		c.decks = map[string]models.SlideDeck{}
		for _, d := range out.Decks {
			c.decks[d.SegmentID] = d
		}
	case models.StageIndexUnits:
	default:
		return fmt.Errorf("%w: %s", util.ErrInvalidStage, stage)
	}
	status := out.Status
	status.UpdatedAt = s.now().UTC()
	c.status[stage] = status
	return nil
}

// ClearStage removes the outputs and statuses of stage and everything
// downstream of it.
func (s *Store) ClearStage(ctx context.Context, bookID string, stage models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.bookLocked(bookID)
	if err != nil {
		return err
	}
	for _, st := range append([]models.Stage{stage}, stage.Downstream()...) {
		clearOutputs(c, st)
		delete(c.status, st)
	}
	return nil
}

func clearOutputs(c *bookContent, st models.Stage) {
	switch st {
	case models.StageExtractPages:
		c.pages = nil
	case models.StageExtractContent:
		c.toc, c.chapters = nil, nil
	case models.StageSegmentChapters:
		c.segments = nil
	case models.StageGenerateSlides:
		c.decks = map[string]models.SlideDeck{}
	}
}

func hasSegment(segs []models.Segment, id string) bool {
	for _, s := range segs {
		if s.SegmentID == id {
			return true
		}
	}
	return false
}

func (s *Store) CreateSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = s.now().UTC()
	}
	return nil
}

func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]models.ChatTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.turns[sessionID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]models.ChatTurn{}, all...), nil
}

func (s *Store) AppendTurns(ctx context.Context, sessionID string, turns []models.ChatTurn) ([]models.ChatTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		s.sessions[sessionID] = s.now().UTC()
	}
	out := make([]models.ChatTurn, len(turns))
	next := int64(len(s.turns[sessionID]))
	for i, t := range turns {
		next++
		t.SessionID = sessionID
		t.Seq = next
		out[i] = t
	}
	s.turns[sessionID] = append(s.turns[sessionID], out...)
	return out, nil
}

func (s *Store) RecordCall(ctx context.Context, rec providers.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, rec)
	return nil
}

func (s *Store) Calls() []providers.CallRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]providers.CallRecord(nil), s.calls...)
}
