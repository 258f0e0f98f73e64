package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"studyflow/internal/extract"
	"studyflow/internal/index"
	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/slides"
	"studyflow/internal/structure"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

// SegmentID is stable across re-runs on unchanged input.
func SegmentID(bookID string, chapter, segment int) string {
	return fmt.Sprintf("%s/c%03d/s%03d", bookID, chapter, segment)
}

func (r *Runner) extractPages(ctx context.Context, book models.Book) (models.StageResult, error) {
	file, err := r.readBookFile(ctx, book)
	if err != nil {
		return models.StageResult{}, err
	}
	pages, err := r.Extractor.ExtractPages(ctx, file, file.Size())
	if err != nil {
		return models.StageResult{}, err
	}
	var warnings []string
	empty := 0
	for _, p := range pages {
		if p.Text == "" {
			empty++
		}
	}
	if empty > 0 {
		warnings = append(warnings, fmt.Sprintf("%d of %d pages have no extractable text", empty, len(pages)))
	}
	res := models.StageResult{Count: len(pages), Completed: true, Warnings: warnings}
	err = r.Content.CommitStage(ctx, models.StageOutput{
		Status:    statusFor(book.BookID, models.StageExtractPages, res),
		PageCount: len(pages),
		Pages:     pages,
	})
	return res, err
}

func (r *Runner) extractContent(ctx context.Context, book models.Book) (models.StageResult, error) {
	pages, err := r.Content.ListPages(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	file, err := r.readBookFile(ctx, book)
	if err != nil {
		return models.StageResult{}, err
	}
	var warnings []string
	items, err := r.Extractor.ExtractOutline(ctx, file, file.Size())
	if err != nil {
		if ctx.Err() != nil {
			return models.StageResult{}, ctx.Err()
		}
		warnings = append(warnings, "outline unreadable: "+err.Error())
		items = nil
	}
	toc := extract.LocateTargets(items, pages)

	chapters, folded, err := structure.ResolveChapters(toc, len(pages))
	switch {
	case errors.Is(err, util.ErrStructureUnavailable):
		chapters = []models.Chapter{structure.SingleChapter(book.Title, len(pages))}
		warnings = append(warnings, fmt.Sprintf("%v: using one chapter for the whole book", err))
	case err != nil:
		return models.StageResult{}, err
	}
	for _, f := range folded {
		warnings = append(warnings, fmt.Sprintf("toc entry %q (page %d) folded into the previous chapter", f.Title, f.TargetPage))
	}
	for i := range chapters {
		chapters[i].BookID = book.BookID
	}
	res := models.StageResult{Count: len(chapters), Completed: true, Warnings: warnings}
	err = r.Content.CommitStage(ctx, models.StageOutput{
		Status:   statusFor(book.BookID, models.StageExtractContent, res),
		Toc:      toc,
		Chapters: chapters,
	})
	return res, err
}

func (r *Runner) segmentChapters(ctx context.Context, book models.Book) (models.StageResult, error) {
	pages, err := r.Content.ListPages(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	toc, err := r.Content.ListToc(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	chapters, err := r.Content.ListChapters(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	level, _ := structure.ChapterLevel(toc)
	minChars := r.opts.MinSegmentChars
	if minChars <= 0 {
		minChars = structure.DefaultMinBodyChars
	}

	var segments []models.Segment
	var warnings []string
	for _, ch := range chapters {
		text := structure.AssembleChapter(ch, pages)
		headings := structure.HeadingsFor(toc, ch, level)
		out := structure.SegmentChapter(text, headings, structure.SegmentOptions{MinBodyChars: minChars, ChapterLevel: level})
		if len(out.Segments) == 0 {
			warnings = append(warnings, fmt.Sprintf("chapter %d %q has no text", ch.Ordinal, ch.Title))
		}
		for _, h := range out.Unmatched {
			warnings = append(warnings, fmt.Sprintf("%v: chapter %d heading %q not found", util.ErrSegmentationIncomplete, ch.Ordinal, h.Title))
		}
		for _, seg := range out.Segments {
			seg.SegmentID = SegmentID(book.BookID, ch.Ordinal, seg.Ordinal)
			seg.BookID = book.BookID
			seg.ChapterOrdinal = ch.Ordinal
			seg.BookOrdinal = len(segments)
			segments = append(segments, seg)
		}
	}
	res := models.StageResult{Count: len(segments), Completed: true, Warnings: warnings}
	err = r.Content.CommitStage(ctx, models.StageOutput{
		Status:   statusFor(book.BookID, models.StageSegmentChapters, res),
		Segments: segments,
	})
	if err != nil {
		return models.StageResult{}, err
	}

	keep := make([]string, len(segments))
	for i, s := range segments {
		keep[i] = s.SegmentID
	}
	if _, err := r.Vectors.DeleteExcept(ctx, book.BookID, vector.KindSegment, keep); err != nil {
		return models.StageResult{}, fmt.Errorf("prune segment vectors: %w", err)
	}
	if _, err := r.Vectors.DeleteExcept(ctx, book.BookID, vector.KindDeck, nil); err != nil {
		return models.StageResult{}, fmt.Errorf("prune deck vectors: %w", err)
	}
	return res, nil
}

func (r *Runner) generateSlides(ctx context.Context, book models.Book) (models.StageResult, error) {
	segments, err := r.Content.ListSegments(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	chapters, err := r.Content.ListChapters(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	titles := make(map[int]string, len(chapters))
	for _, ch := range chapters {
		titles[ch.Ordinal] = ch.Title
	}

	decks := make([]*models.SlideDeck, len(segments))
	var mu sync.Mutex
	var warnings []string
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.SlideConcurrency)
	for i, seg := range segments {
		g.Go(func() error {
			deck, err := r.Decks.Generate(gctx, deckInput(seg, titles[seg.ChapterOrdinal]))
			if errors.Is(err, util.ErrGenerationInvalid) {
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("segment %s: %v", seg.SegmentID, err))
				mu.Unlock()
				return nil
			}
			if err != nil {
				return fmt.Errorf("segment %s: %w", seg.SegmentID, err)
			}
			decks[i] = &deck
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return models.StageResult{}, err
	}

	out := make([]models.SlideDeck, 0, len(decks))
	keep := make([]string, 0, len(decks))
	for _, d := range decks {
		if d != nil {
			out = append(out, *d)
			keep = append(keep, d.SegmentID+"#deck")
		}
	}
	res := models.StageResult{Count: len(out), Completed: true, Warnings: sortedWarnings(segments, warnings)}
	err = r.Content.CommitStage(ctx, models.StageOutput{
		Status: statusFor(book.BookID, models.StageGenerateSlides, res),
		Decks:  out,
	})
	if err != nil {
		return models.StageResult{}, err
	}
	if _, err := r.Vectors.DeleteExcept(ctx, book.BookID, vector.KindDeck, keep); err != nil {
		return models.StageResult{}, fmt.Errorf("prune deck vectors: %w", err)
	}
	r.writeDeckArtifacts(ctx, book.BookID, out)
	return res, nil
}

func (r *Runner) indexUnits(ctx context.Context, book models.Book) (models.StageResult, error) {
	segments, err := r.Content.ListSegments(ctx, book.BookID)
	if err != nil {
		return models.StageResult{}, err
	}
	units := make([]index.Unit, 0, len(segments))
	ordinals := make(map[string]int, len(segments))
	for _, s := range segments {
		units = append(units, index.SegmentUnit(s))
		ordinals[s.SegmentID] = s.BookOrdinal
	}
	if r.opts.IndexDecks {
		decks, err := r.Content.ListDecks(ctx, book.BookID)
		if err != nil {
			return models.StageResult{}, err
		}
		for _, d := range decks {
			units = append(units, index.DeckUnit(d, ordinals[d.SegmentID]))
		}
	}
	rep, err := r.Indexer.IndexAll(ctx, units)
	if err != nil {
		return models.StageResult{}, err
	}
	var warnings []string
	if rep.Stale > 0 {
		warnings = append(warnings, fmt.Sprintf("%v: %d units marked stale", util.ErrEmbeddingUnavailable, rep.Stale))
	}
	res := models.StageResult{
		Count:     rep.Embedded + rep.Reused,
		Completed: rep.Stale == 0,
		Warnings:  warnings,
		Embedded:  rep.Embedded,
		Reused:    rep.Reused,
		Stale:     rep.Stale,
	}
	err = r.Content.CommitStage(ctx, models.StageOutput{Status: statusFor(book.BookID, models.StageIndexUnits, res)})
	if errors.Is(err, util.ErrStagePrerequisite) {
		// Segments vanished under the run; drop what it just upserted.
		if derr := r.Vectors.DeleteBook(ctx, book.BookID); derr != nil {
			logutil.GetLogger(ctx).Warn("prune orphaned vectors failed", zap.String("book_id", book.BookID), zap.Error(derr))
		}
	}
	if err != nil {
		return models.StageResult{}, err
	}
	return res, nil
}

// RegenerateDeck replaces one segment's deck. It shares the slide stage's
// guard so it never races a full slide run for the same book.
func (r *Runner) RegenerateDeck(ctx context.Context, segmentID string) (models.SlideDeck, error) {
	seg, err := r.Content.GetSegment(ctx, segmentID)
	if err != nil {
		return models.SlideDeck{}, err
	}
	unlock, err := r.lock(ctx, seg.BookID, models.StageGenerateSlides)
	if err != nil {
		return models.SlideDeck{}, err
	}
	defer unlock()
	ctx = providers.WithBookID(ctx, seg.BookID)

	chapterTitle := ""
	if chapters, err := r.Content.ListChapters(ctx, seg.BookID); err == nil {
		for _, ch := range chapters {
			if ch.Ordinal == seg.ChapterOrdinal {
				chapterTitle = ch.Title
			}
		}
	}
	deck, err := r.Decks.Generate(ctx, deckInput(seg, chapterTitle))
	if err != nil {
		return models.SlideDeck{}, err
	}
	if err := r.Content.PutDeck(ctx, deck); err != nil {
		return models.SlideDeck{}, err
	}
	r.writeDeckArtifact(ctx, deck)
	if r.opts.IndexDecks {
		if _, err := r.Indexer.IndexUnit(ctx, index.DeckUnit(deck, seg.BookOrdinal)); err != nil {
			logutil.GetLogger(ctx).Warn("index regenerated deck failed", zap.String("segment_id", segmentID), zap.Error(err))
		}
	}
	logutil.GetLogger(ctx).Info("deck regenerated", zap.String("segment_id", segmentID), zap.Int("slides", len(deck.Slides)))
	return deck, nil
}

// ReindexStale retries embedding for up to limit stale units and reports how
// many are now current.
func (r *Runner) ReindexStale(ctx context.Context, limit int) (index.Report, error) {
	stale, err := r.Vectors.ListStale(ctx, limit)
	if err != nil {
		return index.Report{}, err
	}
	var rep index.Report
	for _, rec := range stale {
		seg, err := r.Content.GetSegment(ctx, rec.SegmentRef)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return rep, err
		}
		u := index.SegmentUnit(seg)
		if rec.Kind == vector.KindDeck {
			deck, err := r.Content.GetDeck(ctx, rec.SegmentRef)
			if isNotFound(err) {
				continue
			}
			if err != nil {
				return rep, err
			}
			u = index.DeckUnit(deck, seg.BookOrdinal)
		}
		out, err := r.Indexer.IndexUnit(providers.WithBookID(ctx, seg.BookID), u)
		if err != nil {
			return rep, err
		}
		switch out {
		case index.OutcomeEmbedded:
			rep.Embedded++
		case index.OutcomeReused:
			rep.Reused++
		case index.OutcomeStale:
			rep.Stale++
			rep.StaleRefs = append(rep.StaleRefs, u.Ref)
		}
	}
	return rep, nil
}

func deckInput(seg models.Segment, chapterTitle string) slides.Input {
	heading := seg.HeadingTitle
	if heading == "" {
		heading = chapterTitle
	}
	return slides.Input{BookID: seg.BookID, SegmentID: seg.SegmentID, Heading: heading, Body: seg.Body}
}

func statusFor(bookID string, stage models.Stage, res models.StageResult) models.StageStatus {
	return models.StageStatus{
		BookID:    bookID,
		Stage:     stage,
		Completed: res.Completed,
		Count:     res.Count,
		Warnings:  res.Warnings,
	}
}

// sortedWarnings orders per-segment warnings by segment position so parallel
// generation still reports deterministically.
func sortedWarnings(segments []models.Segment, warnings []string) []string {
	if len(warnings) < 2 {
		return warnings
	}
	out := make([]string, 0, len(warnings))
	for _, s := range segments {
		prefix := "segment " + s.SegmentID + ":"
		for _, w := range warnings {
			if strings.HasPrefix(w, prefix) {
				out = append(out, w)
			}
		}
	}
	return out
}
