package extract

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

// OutlineItem is a flattened PDF bookmark. Level is the nesting depth with
// top-level bookmarks at 0.
type OutlineItem struct {
	Title string
	Level int
}

type Extractor interface {
	ExtractPages(ctx context.Context, r io.ReaderAt, size int64) ([]models.PageText, error)
	ExtractOutline(ctx context.Context, r io.ReaderAt, size int64) ([]OutlineItem, error)
}

type PDFExtractor struct{}

func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

func (e *PDFExtractor) ExtractPages(ctx context.Context, r io.ReaderAt, size int64) (pages []models.PageText, err error) {
	defer recoverUnreadable(&err)
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrUnreadablePDF, err)
	}
	n := reader.NumPage()
	if n < 1 {
		return nil, fmt.Errorf("%w: no pages", util.ErrUnreadablePDF)
	}
	pages = make([]models.PageText, 0, n)
	hasText := false
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		text := ""
		if !p.V.IsNull() {
			text, err = p.GetPlainText(nil)
			if err != nil {
				return nil, fmt.Errorf("extract page %d: %w", i, err)
			}
		}
		text = util.SanitizeText(text)
		if text != "" {
			hasText = true
		}
		pages = append(pages, models.PageText{PageNumber: i, Text: text})
	}
	if !hasText {
		return nil, util.ErrNoExtractableText
	}
	return pages, nil
}

func (e *PDFExtractor) ExtractOutline(ctx context.Context, r io.ReaderAt, size int64) (items []OutlineItem, err error) {
	defer recoverUnreadable(&err)
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrUnreadablePDF, err)
	}
	root := reader.Outline()
	flattenOutline(root.Child, 0, &items)
	return items, ctx.Err()
}

func flattenOutline(nodes []pdf.Outline, level int, out *[]OutlineItem) {
	for _, n := range nodes {
		title := util.CleanTitle(n.Title)
		if title != "" {
			*out = append(*out, OutlineItem{Title: title, Level: level})
		}
		flattenOutline(n.Child, level+1, out)
	}
}

// The pdf reader panics on some malformed xref tables.
func recoverUnreadable(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: %v", util.ErrUnreadablePDF, r)
	}
}

// LocateTargets assigns each outline item the first page, at or after the
// previous item's page, whose text contains the title. Items that cannot be
// located inherit the previous page.
func LocateTargets(items []OutlineItem, pages []models.PageText) []models.TocEntry {
	norm := make([]string, len(pages))
	for i, p := range pages {
		norm[i] = util.NormalizeForMatch(p.Text)
	}
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = util.NormalizeForMatch(it.Title)
	}
	contents := contentsPages(norm, keys)
	out := make([]models.TocEntry, 0, len(items))
	cursor := 0
	for i, it := range items {
		key := keys[i]
		found := -1
		if key != "" {
			for j := cursor; j < len(pages); j++ {
				if contents[j] {
					continue
				}
				if strings.Contains(norm[j], key) {
					found = j
					break
				}
			}
		}
		if found >= 0 {
			cursor = found
		}
		page := 1
		if len(pages) > 0 {
			page = pages[cursor].PageNumber
		}
		out = append(out, models.TocEntry{
			Ordinal:    i,
			Title:      it.Title,
			Level:      it.Level,
			TargetPage: page,
		})
	}
	return out
}

// contentsPages flags pages that mention a large share of the outline titles,
// which is what a printed table of contents looks like.
func contentsPages(norm []string, keys []string) []bool {
	out := make([]bool, len(norm))
	if len(keys) < 3 {
		return out
	}
	for i, text := range norm {
		hits := 0
		for _, k := range keys {
			if k != "" && strings.Contains(text, k) {
				hits++
			}
		}
		out[i] = hits >= 3 && hits*3 > len(keys)
	}
	return out
}
