package structure

import (
	"fmt"
	"sort"
	"strings"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

// ChapterLevel is the shallowest level present in the TOC. Well-formed
// outlines put chapters at level 0; some books only have nested entries.
func ChapterLevel(toc []models.TocEntry) (int, bool) {
	if len(toc) == 0 {
		return 0, false
	}
	level := toc[0].Level
	for _, e := range toc[1:] {
		if e.Level < level {
			level = e.Level
		}
	}
	return level, true
}

// ResolveChapters maps chapter-level TOC entries onto contiguous page ranges
// covering 1..pageCount. Entries whose start does not advance past the
// previous chapter are folded into it and returned separately.
func ResolveChapters(toc []models.TocEntry, pageCount int) ([]models.Chapter, []models.TocEntry, error) {
	if pageCount < 1 {
		return nil, nil, fmt.Errorf("%w: book has no pages", util.ErrStructureUnavailable)
	}
	level, ok := ChapterLevel(toc)
	if !ok {
		return nil, nil, fmt.Errorf("%w: empty table of contents", util.ErrStructureUnavailable)
	}

	candidates := make([]models.TocEntry, 0, len(toc))
	for _, e := range toc {
		if e.Level == level {
			candidates = append(candidates, e)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TargetPage < candidates[j].TargetPage
	})

	chapters := make([]models.Chapter, 0, len(candidates))
	var folded []models.TocEntry
	for _, e := range candidates {
		start := clamp(e.TargetPage, 1, pageCount)
		if n := len(chapters); n > 0 && start <= chapters[n-1].StartPage {
			folded = append(folded, e)
			continue
		}
		title := util.CleanTitle(e.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", len(chapters)+1)
		}
		chapters = append(chapters, models.Chapter{
			Ordinal:   len(chapters),
			Title:     title,
			StartPage: start,
		})
	}

	// Front matter before the first chapter belongs to it.
	chapters[0].StartPage = 1
	for i := range chapters {
		if i+1 < len(chapters) {
			chapters[i].EndPage = chapters[i+1].StartPage - 1
		} else {
			chapters[i].EndPage = pageCount
		}
	}
	return chapters, folded, nil
}

// SingleChapter is the fallback used when no structure can be derived.
func SingleChapter(title string, pageCount int) models.Chapter {
	if pageCount < 1 {
		pageCount = 1
	}
	title = util.CleanTitle(title)
	if title == "" {
		title = "Full Text"
	}
	return models.Chapter{Ordinal: 0, Title: title, StartPage: 1, EndPage: pageCount}
}

// HeadingsFor returns the entries nested below chapterLevel whose target page
// falls inside ch, in TOC order.
func HeadingsFor(toc []models.TocEntry, ch models.Chapter, chapterLevel int) []models.TocEntry {
	out := make([]models.TocEntry, 0)
	for _, e := range toc {
		if e.Level <= chapterLevel {
			continue
		}
		if e.TargetPage < ch.StartPage || e.TargetPage > ch.EndPage {
			continue
		}
		if strings.TrimSpace(e.Title) == "" {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// AssembleChapter joins the chapter's pages in page order with a blank line.
func AssembleChapter(ch models.Chapter, pages []models.PageText) string {
	selected := make([]models.PageText, 0, ch.EndPage-ch.StartPage+1)
	for _, p := range pages {
		if p.PageNumber >= ch.StartPage && p.PageNumber <= ch.EndPage {
			selected = append(selected, p)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool { return selected[i].PageNumber < selected[j].PageNumber })
	parts := make([]string, len(selected))
	for i, p := range selected {
		parts[i] = p.Text
	}
	return strings.Join(parts, "\n\n")
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
