package pipeline

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"studyflow/internal/extract"
	"studyflow/internal/filestore"
	"studyflow/internal/index"
	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/slides"
	"studyflow/internal/storage/memory"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

type bookExtractor struct {
	pages   []models.PageText
	outline []extract.OutlineItem
}

func (b bookExtractor) ExtractPages(ctx context.Context, r io.ReaderAt, size int64) ([]models.PageText, error) {
	return b.pages, nil
}

func (b bookExtractor) ExtractOutline(ctx context.Context, r io.ReaderAt, size int64) ([]extract.OutlineItem, error) {
	return b.outline, nil
}

func algebraBook() bookExtractor {
	return bookExtractor{
		pages: []models.PageText{
			{PageNumber: 1, Text: "Preface text for the algebra book."},
			{PageNumber: 2, Text: "Chapter 1 Groups\nGroups are sets with an operation. Subgroups\nA subgroup is a subset closed under the operation."},
			{PageNumber: 3, Text: "More about subgroups and cosets in detail."},
			{PageNumber: 4, Text: "Chapter 2 Rings\nRings have two operations. Ideals\nAn ideal absorbs multiplication by ring elements."},
		},
		outline: []extract.OutlineItem{
			{Title: "Chapter 1 Groups", Level: 0},
			{Title: "Subgroups", Level: 1},
			{Title: "Chapter 2 Rings", Level: 0},
			{Title: "Ideals", Level: 1},
		},
	}
}

type switchEmbedder struct {
	inner providers.EmbeddingProvider
	fail  atomic.Bool
	calls atomic.Int32
}

func (s *switchEmbedder) Embed(ctx context.Context, req providers.EmbedRequest) ([][]float32, providers.ProviderInfo, error) {
	s.calls.Add(1)
	if s.fail.Load() {
		return nil, providers.ProviderInfo{}, errors.New("503 service unavailable")
	}
	return s.inner.Embed(ctx, req)
}

// gatedLLM parks every Generate call until release is closed.
type gatedLLM struct {
	inner   providers.LLMProvider
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedLLM() *gatedLLM {
	return &gatedLLM{inner: providers.NewMockProvider(8), entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedLLM) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return providers.GenerateResponse{}, providers.ProviderInfo{}, ctx.Err()
	}
	return g.inner.Generate(ctx, req)
}

type fixture struct {
	runner  *Runner
	store   *memory.Store
	vectors *vector.MemoryStore
	embed   *switchEmbedder
	locker  *MemoryLocker
}

func newFixture(t *testing.T, ex extract.Extractor, gen providers.LLMProvider) *fixture {
	t.Helper()
	files, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	mock := providers.NewMockProvider(8)
	if gen == nil {
		gen = mock
	}
	f := &fixture{
		store:   memory.NewStore(),
		vectors: vector.NewMemoryStore(),
		embed:   &switchEmbedder{inner: mock},
		locker:  NewMemoryLocker(),
	}
	f.runner = NewRunner(Deps{
		Books:     f.store,
		Content:   f.store,
		Files:     files,
		Vectors:   f.vectors,
		Extractor: ex,
		Decks:     slides.NewSynthesizer(gen, slides.Options{MaxInvalidRetries: 1}),
		Indexer:   index.NewIndexer(f.vectors, f.embed, index.Options{EmbedVersion: "v1", Dimension: 8}),
		Locker:    f.locker,
	}, Options{SlideConcurrency: 2, IndexDecks: true, ArtifactRoot: t.TempDir()})
	return f
}

func (f *fixture) ingest(t *testing.T) models.Book {
	t.Helper()
	b, created, err := f.runner.Ingest(context.Background(), "abstract_algebra.pdf", strings.NewReader("%PDF-1.4 algebra"))
	require.NoError(t, err)
	require.True(t, created)
	return b
}

func TestRunAllProducesIndexedBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, algebraBook(), nil)
	book := f.ingest(t)
	require.Equal(t, "abstract algebra", book.Title)

	results, err := f.runner.RunAll(ctx, book.BookID, false)
	require.NoError(t, err)
	require.Len(t, results, len(models.Stages))
	require.Equal(t, 4, results[0].Count)
	require.Equal(t, 2, results[1].Count)
	require.Equal(t, 4, results[2].Count)
	require.Empty(t, results[2].Warnings)
	require.Equal(t, 4, results[3].Count)
	require.Equal(t, 8, results[4].Embedded)
	require.True(t, results[4].Completed)

	chapters, err := f.store.ListChapters(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, 1, chapters[0].StartPage, "front matter joins the first chapter")
	require.Equal(t, 3, chapters[0].EndPage)
	require.Equal(t, 4, chapters[1].StartPage)

	segs, err := f.store.ListSegments(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, book.BookID+"/c000/s000", segs[0].SegmentID)
	require.Equal(t, "Subgroups", segs[1].HeadingTitle)
	require.Equal(t, book.BookID+"/c001/s001", segs[3].SegmentID)
	pages, err := f.store.ListPages(ctx, book.BookID)
	require.NoError(t, err)
	text := pages[0].Text + "\n\n" + pages[1].Text + "\n\n" + pages[2].Text
	require.Equal(t, text, segs[0].Body+segs[1].Body)

	n, err := f.vectors.Count(ctx, vector.Filter{BookID: book.BookID})
	require.NoError(t, err)
	require.Equal(t, 8, n)

	md, err := os.ReadFile(filepath.Join(f.runner.opts.ArtifactRoot, book.BookID, "slides", "c000-s001.md"))
	require.NoError(t, err)
	require.Contains(t, string(md), "# ")
	_, err = os.Stat(filepath.Join(f.runner.opts.ArtifactRoot, book.BookID, "stages", "index_units.json"))
	require.NoError(t, err)
}

func TestIngestDedupesIdenticalBytes(t *testing.T) {
	f := newFixture(t, algebraBook(), nil)
	first := f.ingest(t)
	again, created, err := f.runner.Ingest(context.Background(), "copy.pdf", strings.NewReader("%PDF-1.4 algebra"))
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.BookID, again.BookID)
}

func TestRunStageGuards(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, algebraBook(), nil)
	book := f.ingest(t)

	_, err := f.runner.RunStage(ctx, book.BookID, models.StageSegmentChapters)
	require.ErrorIs(t, err, util.ErrStagePrerequisite)

	_, err = f.runner.RunStage(ctx, book.BookID, models.Stage("ocr"))
	require.ErrorIs(t, err, util.ErrInvalidStage)

	_, err = f.runner.RunStage(ctx, "missing", models.StageExtractPages)
	require.ErrorIs(t, err, util.ErrNotFound)

	unlock, ok, err := f.locker.TryLock(ctx, book.BookID+"/"+string(models.StageExtractPages))
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.runner.RunStage(ctx, book.BookID, models.StageExtractPages)
	require.ErrorIs(t, err, util.ErrStageAlreadyRunning)
	unlock()

	_, err = f.runner.RunStage(ctx, book.BookID, models.StageExtractPages)
	require.NoError(t, err)
}

func TestUpstreamChangesRejectedWhileDownstreamRuns(t *testing.T) {
	ctx := context.Background()
	gate := newGatedLLM()
	f := newFixture(t, algebraBook(), gate)
	book := f.ingest(t)
	for _, st := range []models.Stage{models.StageExtractPages, models.StageExtractContent, models.StageSegmentChapters} {
		_, err := f.runner.RunStage(ctx, book.BookID, st)
		require.NoError(t, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := f.runner.RunStage(ctx, book.BookID, models.StageGenerateSlides)
		done <- err
	}()
	<-gate.entered

	require.ErrorIs(t, f.runner.ClearStage(ctx, book.BookID, models.StageSegmentChapters), util.ErrStageAlreadyRunning)
	_, err := f.runner.RunStage(ctx, book.BookID, models.StageSegmentChapters)
	require.ErrorIs(t, err, util.ErrStageAlreadyRunning)
	_, err = f.runner.RunStage(ctx, book.BookID, models.StageIndexUnits)
	require.ErrorIs(t, err, util.ErrStageAlreadyRunning)

	close(gate.release)
	require.NoError(t, <-done)

	segs, err := f.store.ListSegments(ctx, book.BookID)
	require.NoError(t, err)
	require.Len(t, segs, 4)
	_, err = f.store.GetDeck(ctx, segs[0].SegmentID)
	require.NoError(t, err)

	require.NoError(t, f.runner.ClearStage(ctx, book.BookID, models.StageSegmentChapters))
	_, err = f.store.GetDeck(ctx, segs[0].SegmentID)
	require.ErrorIs(t, err, util.ErrNotFound)
	statuses, err := f.store.ListStageStatus(ctx, book.BookID)
	require.NoError(t, err)
	for _, st := range statuses {
		require.NotEqual(t, models.StageGenerateSlides, st.Stage)
	}
}

func TestRerunsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, algebraBook(), nil)
	book := f.ingest(t)
	_, err := f.runner.RunAll(ctx, book.BookID, true)
	require.NoError(t, err)
	before, err := f.store.ListSegments(ctx, book.BookID)
	require.NoError(t, err)

	res, err := f.runner.RunStage(ctx, book.BookID, models.StageSegmentChapters)
	require.NoError(t, err)
	require.Equal(t, len(before), res.Count)
	after, err := f.store.ListSegments(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, before, after)

	calls := f.embed.calls.Load()
	res, err = f.runner.RunStage(ctx, book.BookID, models.StageIndexUnits)
	require.NoError(t, err)
	require.Zero(t, res.Embedded)
	require.Equal(t, len(before), res.Reused)
	require.Equal(t, calls, f.embed.calls.Load(), "unchanged text triggers no embedding calls")
}

func TestExtractContentFallsBackToSingleChapter(t *testing.T) {
	ctx := context.Background()
	ex := algebraBook()
	ex.outline = nil
	f := newFixture(t, ex, nil)
	book := f.ingest(t)
	_, err := f.runner.RunStage(ctx, book.BookID, models.StageExtractPages)
	require.NoError(t, err)
	res, err := f.runner.RunStage(ctx, book.BookID, models.StageExtractContent)
	require.NoError(t, err)
	require.Equal(t, 1, res.Count)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0], util.ErrStructureUnavailable.Error())

	chapters, err := f.store.ListChapters(ctx, book.BookID)
	require.NoError(t, err)
	require.Equal(t, models.Chapter{BookID: book.BookID, Title: "abstract algebra", StartPage: 1, EndPage: 4}, chapters[0])
}

func TestStaleUnitsAreReindexed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, algebraBook(), nil)
	book := f.ingest(t)
	_, err := f.runner.RunAll(ctx, book.BookID, true)
	require.NoError(t, err)

	require.NoError(t, f.runner.ClearStage(ctx, book.BookID, models.StageIndexUnits))
	f.embed.fail.Store(true)
	res, err := f.runner.RunStage(ctx, book.BookID, models.StageIndexUnits)
	require.NoError(t, err)
	require.False(t, res.Completed)
	require.Equal(t, 4, res.Stale)

	f.embed.fail.Store(false)
	rep, err := f.runner.ReindexStale(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 4, rep.Embedded)
	stale, err := f.vectors.ListStale(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, stale)
}

type invalidOnce struct {
	inner providers.LLMProvider
	bad   string
}

func (g invalidOnce) Generate(ctx context.Context, req providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	if len(req.Context) > 1 && strings.Contains(req.Context[1], g.bad) {
		return providers.GenerateResponse{Text: "not json"}, providers.ProviderInfo{Name: "test"}, nil
	}
	return g.inner.Generate(ctx, req)
}

func TestGenerateSlidesSkipsInvalidSegments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, algebraBook(), invalidOnce{inner: providers.NewMockProvider(8), bad: "ideal absorbs"})
	book := f.ingest(t)
	for _, st := range []models.Stage{models.StageExtractPages, models.StageExtractContent, models.StageSegmentChapters} {
		_, err := f.runner.RunStage(ctx, book.BookID, st)
		require.NoError(t, err)
	}
	res, err := f.runner.RunStage(ctx, book.BookID, models.StageGenerateSlides)
	require.NoError(t, err)
	require.Equal(t, 3, res.Count)
	require.Len(t, res.Warnings, 1)
	require.Contains(t, res.Warnings[0], "/c001/s001")

	deck, err := f.runner.RegenerateDeck(ctx, book.BookID+"/c000/s001")
	require.NoError(t, err)
	require.Equal(t, "Subgroups", deck.Heading)
	_, err = f.runner.RegenerateDeck(ctx, "missing")
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestClearAndDeleteBook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, algebraBook(), nil)
	book := f.ingest(t)
	_, err := f.runner.RunAll(ctx, book.BookID, false)
	require.NoError(t, err)

	require.NoError(t, f.runner.ClearStage(ctx, book.BookID, models.StageSegmentChapters))
	_, err = os.Stat(filepath.Join(f.runner.opts.ArtifactRoot, book.BookID, "slides"))
	require.True(t, os.IsNotExist(err))
	segs, err := f.store.ListSegments(ctx, book.BookID)
	require.NoError(t, err)
	require.Empty(t, segs)
	n, err := f.vectors.Count(ctx, vector.Filter{BookID: book.BookID})
	require.NoError(t, err)
	require.Zero(t, n)
	statuses, err := f.store.ListStageStatus(ctx, book.BookID)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	require.NoError(t, f.runner.DeleteBook(ctx, book.BookID))
	_, err = f.store.GetBook(ctx, book.BookID)
	require.ErrorIs(t, err, util.ErrNotFound)
	_, err = f.runner.Files.Open(ctx, book.FileKey)
	require.ErrorIs(t, err, util.ErrNotFound)
}

func TestChainLockers(t *testing.T) {
	a, b := NewMemoryLocker(), NewMemoryLocker()
	chain := ChainLockers(a, b)
	ctx := context.Background()

	held, ok, err := b.TryLock(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = chain.TryLock(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, _ = a.TryLock(ctx, "k")
	require.True(t, ok, "partial acquisition is rolled back")
	held()
}

func TestMemoryLockerTakesAllKeysOrNone(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	held, ok, err := l.TryLock(ctx, "b/generate_slides")
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = l.TryLock(ctx, "b/segment_chapters", "b/generate_slides", "b/index_units")
	require.NoError(t, err)
	require.False(t, ok)

	other, ok, err := l.TryLock(ctx, "b/index_units")
	require.NoError(t, err)
	require.True(t, ok, "a rejected multi-key lock holds nothing")
	other()
	held()

	all, ok, err := l.TryLock(ctx, "b/segment_chapters", "b/generate_slides", "b/index_units")
	require.NoError(t, err)
	require.True(t, ok)
	all()
	all()
	_, ok, err = l.TryLock(ctx, "b/generate_slides")
	require.NoError(t, err)
	require.True(t, ok)
}
