package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/extract"
	"studyflow/internal/filestore"
	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/slides"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

type Deps struct {
	Books     BookStore
	Content   ContentStore
	Files     filestore.Store
	Vectors   vector.Store
	Extractor extract.Extractor
	Decks     DeckGenerator
	Indexer   UnitIndexer
	Locker    Locker
}

type Options struct {
	MinSegmentChars  int
	SlideConcurrency int
	IndexDecks       bool
	// ArtifactRoot receives <book>/stages/<stage>.json after each stage;
	// empty disables artifacts.
	ArtifactRoot string
}

type Runner struct {
	Deps
	opts Options
	now  func() time.Time
}

func NewRunner(deps Deps, opts Options) *Runner {
	if deps.Locker == nil {
		deps.Locker = NewMemoryLocker()
	}
	if opts.SlideConcurrency <= 0 {
		opts.SlideConcurrency = 1
	}
	return &Runner{Deps: deps, opts: opts, now: time.Now}
}

// Ingest stores an uploaded PDF and registers its book. Identical bytes map
// to the existing book and created is false.
func (r *Runner) Ingest(ctx context.Context, filename string, src io.Reader) (models.Book, bool, error) {
	raw, err := io.ReadAll(src)
	if err != nil {
		return models.Book{}, false, fmt.Errorf("read upload: %w", err)
	}
	if len(raw) == 0 {
		return models.Book{}, false, fmt.Errorf("%w: empty file", util.ErrUnreadablePDF)
	}
	hash := util.SHA256Hex(raw)
	key := hash + ".pdf"
	if err := r.Files.Save(ctx, key, bytes.NewReader(raw), int64(len(raw))); err != nil {
		return models.Book{}, false, err
	}
	base := filepath.Base(filename)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	title = util.CleanTitle(strings.NewReplacer("_", " ", "-", " ").Replace(title))
	if title == "" {
		title = "Untitled"
	}
	book, created, err := r.Books.CreateBook(ctx, models.Book{
		BookID:   uuid.NewString(),
		BookHash: hash,
		Title:    title,
		Filename: base,
		FileKey:  key,
	})
	if err != nil {
		return models.Book{}, false, err
	}
	logutil.GetLogger(ctx).Info("book ingested",
		zap.String("book_id", book.BookID), zap.String("filename", base), zap.Bool("created", created))
	return book, created, nil
}

// RunStage runs one stage for one book. The run holds the guards of the stage
// and of every stage downstream of it, so a concurrent run of any of them for
// the same book is rejected with ErrStageAlreadyRunning.
func (r *Runner) RunStage(ctx context.Context, bookID string, stage models.Stage) (models.StageResult, error) {
	if _, ok := models.ParseStage(string(stage)); !ok {
		return models.StageResult{}, fmt.Errorf("%w: %q", util.ErrInvalidStage, stage)
	}
	book, err := r.Books.GetBook(ctx, bookID)
	if err != nil {
		return models.StageResult{}, err
	}
	unlock, err := r.lockChain(ctx, bookID, stage)
	if err != nil {
		return models.StageResult{}, err
	}
	defer unlock()

	if err := r.checkPrerequisite(ctx, bookID, stage); err != nil {
		return models.StageResult{}, err
	}

	ctx = providers.WithBookID(ctx, bookID)
	logger := logutil.GetLogger(ctx).With(zap.String("book_id", bookID), zap.String("stage", string(stage)))
	logger.Info("stage started")
	start := r.now()

	var res models.StageResult
	switch stage {
	case models.StageExtractPages:
		res, err = r.extractPages(ctx, book)
	case models.StageExtractContent:
		res, err = r.extractContent(ctx, book)
	case models.StageSegmentChapters:
		res, err = r.segmentChapters(ctx, book)
	case models.StageGenerateSlides:
		res, err = r.generateSlides(ctx, book)
	case models.StageIndexUnits:
		res, err = r.indexUnits(ctx, book)
	}
	if err != nil {
		logger.Error("stage failed", zap.Duration("elapsed", r.now().Sub(start)), zap.Error(err))
		return models.StageResult{}, err
	}
	res.BookID, res.Stage = bookID, stage
	r.writeArtifact(ctx, res)
	logger.Info("stage finished",
		zap.Int("count", res.Count), zap.Bool("completed", res.Completed),
		zap.Int("warnings", len(res.Warnings)), zap.Duration("elapsed", r.now().Sub(start)))
	return res, nil
}

// RunAll runs every stage in order, stopping at the first failure.
func (r *Runner) RunAll(ctx context.Context, bookID string, skipSlides bool) ([]models.StageResult, error) {
	out := make([]models.StageResult, 0, len(models.Stages))
	for _, st := range models.Stages {
		if skipSlides && st == models.StageGenerateSlides {
			continue
		}
		res, err := r.RunStage(ctx, bookID, st)
		if err != nil {
			return out, fmt.Errorf("%s: %w", st, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// ClearStage deletes a stage's outputs and everything downstream, pruning
// vector records that would otherwise point at removed units.
func (r *Runner) ClearStage(ctx context.Context, bookID string, stage models.Stage) error {
	if _, ok := models.ParseStage(string(stage)); !ok {
		return fmt.Errorf("%w: %q", util.ErrInvalidStage, stage)
	}
	if _, err := r.Books.GetBook(ctx, bookID); err != nil {
		return err
	}
	unlock, err := r.lockChain(ctx, bookID, stage)
	if err != nil {
		return err
	}
	defer unlock()
	if err := r.Content.ClearStage(ctx, bookID, stage); err != nil {
		return err
	}
	switch stage {
	case models.StageGenerateSlides:
		_, err = r.Vectors.DeleteExcept(ctx, bookID, vector.KindDeck, nil)
	default:
		err = r.Vectors.DeleteBook(ctx, bookID)
	}
	if err != nil {
		return fmt.Errorf("prune vectors: %w", err)
	}
	if r.opts.ArtifactRoot != "" {
		for _, st := range append([]models.Stage{stage}, stage.Downstream()...) {
			_ = os.Remove(r.artifactPath(bookID, st))
			if st == models.StageGenerateSlides {
				_ = os.RemoveAll(filepath.Join(r.opts.ArtifactRoot, bookID, "slides"))
			}
		}
	}
	logutil.GetLogger(ctx).Info("stage cleared", zap.String("book_id", bookID), zap.String("stage", string(stage)))
	return nil
}

// DeleteBook removes the book with all of its content, vectors, stored file
// and artifacts.
func (r *Runner) DeleteBook(ctx context.Context, bookID string) error {
	book, err := r.Books.GetBook(ctx, bookID)
	if err != nil {
		return err
	}
	if err := r.Vectors.DeleteBook(ctx, bookID); err != nil {
		return fmt.Errorf("delete vectors: %w", err)
	}
	if err := r.Books.DeleteBook(ctx, bookID); err != nil {
		return err
	}
	if err := r.Files.Delete(ctx, book.FileKey); err != nil {
		logutil.GetLogger(ctx).Warn("delete book file failed", zap.String("book_id", bookID), zap.Error(err))
	}
	if r.opts.ArtifactRoot != "" {
		_ = os.RemoveAll(filepath.Join(r.opts.ArtifactRoot, bookID))
	}
	logutil.GetLogger(ctx).Info("book deleted", zap.String("book_id", bookID))
	return nil
}

func (r *Runner) lock(ctx context.Context, bookID string, stages ...models.Stage) (func(), error) {
	keys := make([]string, len(stages))
	for i, st := range stages {
		keys[i] = bookID + "/" + string(st)
	}
	unlock, ok, err := r.Locker.TryLock(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("stage lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s for book %s", util.ErrStageAlreadyRunning, stages[0], bookID)
	}
	return unlock, nil
}

// lockChain takes the guards of stage and everything downstream of it.
func (r *Runner) lockChain(ctx context.Context, bookID string, stage models.Stage) (func(), error) {
	return r.lock(ctx, bookID, append([]models.Stage{stage}, stage.Downstream()...)...)
}

func (r *Runner) checkPrerequisite(ctx context.Context, bookID string, stage models.Stage) error {
	pre, ok := stage.Prerequisite()
	if !ok {
		return nil
	}
	statuses, err := r.Content.ListStageStatus(ctx, bookID)
	if err != nil {
		return err
	}
	for _, s := range statuses {
		if s.Stage == pre && s.Completed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s requires %s", util.ErrStagePrerequisite, stage, pre)
}

func (r *Runner) artifactPath(bookID string, stage models.Stage) string {
	return filepath.Join(r.opts.ArtifactRoot, bookID, "stages", string(stage)+".json")
}

func (r *Runner) deckArtifactPath(bookID, segmentID string) string {
	return filepath.Join(r.opts.ArtifactRoot, bookID, "slides", util.ArtifactName(strings.TrimPrefix(segmentID, bookID+"/"), ".md"))
}

// writeDeckArtifacts replaces the book's slides/ directory with one markdown
// file per deck.
func (r *Runner) writeDeckArtifacts(ctx context.Context, bookID string, decks []models.SlideDeck) {
	if r.opts.ArtifactRoot == "" {
		return
	}
	_ = os.RemoveAll(filepath.Join(r.opts.ArtifactRoot, bookID, "slides"))
	for _, d := range decks {
		r.writeDeckArtifact(ctx, d)
	}
}

func (r *Runner) writeDeckArtifact(ctx context.Context, deck models.SlideDeck) {
	if r.opts.ArtifactRoot == "" {
		return
	}
	if err := util.WriteTextAtomic(r.deckArtifactPath(deck.BookID, deck.SegmentID), slides.RenderMarkdown(deck)); err != nil {
		logutil.GetLogger(ctx).Warn("write deck artifact failed", zap.String("segment_id", deck.SegmentID), zap.Error(err))
	}
}

func (r *Runner) writeArtifact(ctx context.Context, res models.StageResult) {
	if r.opts.ArtifactRoot == "" {
		return
	}
	payload := struct {
		models.StageResult
		FinishedAt time.Time `json:"finished_at"`
	}{res, r.now().UTC()}
	if err := util.WriteJSONAtomic(r.artifactPath(res.BookID, res.Stage), payload); err != nil {
		logutil.GetLogger(ctx).Warn("write stage artifact failed", zap.String("book_id", res.BookID), zap.Error(err))
	}
}

func (r *Runner) readBookFile(ctx context.Context, book models.Book) (*bytes.Reader, error) {
	rc, err := r.Files.Open(ctx, book.FileKey)
	if err != nil {
		return nil, fmt.Errorf("open book file: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read book file: %w", err)
	}
	return bytes.NewReader(raw), nil
}

func isNotFound(err error) bool {
	return errors.Is(err, util.ErrNotFound)
}
