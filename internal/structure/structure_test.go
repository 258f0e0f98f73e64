package structure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

func toc(entries ...models.TocEntry) []models.TocEntry {
	for i := range entries {
		entries[i].Ordinal = i
	}
	return entries
}

func TestResolveChaptersTwoChapters(t *testing.T) {
	got, folded, err := ResolveChapters(toc(
		models.TocEntry{Title: "Ch1", Level: 0, TargetPage: 1},
		models.TocEntry{Title: "Ch2", Level: 0, TargetPage: 5},
	), 8)
	require.NoError(t, err)
	require.Empty(t, folded)
	require.Equal(t, []models.Chapter{
		{Ordinal: 0, Title: "Ch1", StartPage: 1, EndPage: 4},
		{Ordinal: 1, Title: "Ch2", StartPage: 5, EndPage: 8},
	}, got)
}

func TestResolveChaptersEmptyTocFallsBack(t *testing.T) {
	_, _, err := ResolveChapters(nil, 12)
	require.ErrorIs(t, err, util.ErrStructureUnavailable)

	ch := SingleChapter("Linear Algebra", 12)
	require.Equal(t, 1, ch.StartPage)
	require.Equal(t, 12, ch.EndPage)
	require.Equal(t, "Linear Algebra", ch.Title)
}

func TestResolveChaptersFoldsRepeatedAndClamps(t *testing.T) {
	got, folded, err := ResolveChapters(toc(
		models.TocEntry{Title: "Preface", Level: 0, TargetPage: 3},
		models.TocEntry{Title: "Intro", Level: 0, TargetPage: 3},
		models.TocEntry{Title: "1.1 Sets", Level: 1, TargetPage: 4},
		models.TocEntry{Title: "Groups", Level: 0, TargetPage: 7},
		models.TocEntry{Title: "Index", Level: 0, TargetPage: 40},
	), 10)
	require.NoError(t, err)
	require.Len(t, folded, 1)
	require.Equal(t, "Intro", folded[0].Title)
	require.Len(t, got, 3)
	require.Equal(t, 1, got[0].StartPage, "front matter belongs to the first chapter")
	require.Equal(t, 6, got[0].EndPage)
	require.Equal(t, 7, got[1].StartPage)
	require.Equal(t, 9, got[1].EndPage)
	require.Equal(t, 10, got[2].StartPage)
	require.Equal(t, 10, got[2].EndPage)
}

func TestResolveChaptersCoverageProperty(t *testing.T) {
	entries := toc(
		models.TocEntry{Title: "A", Level: 1, TargetPage: 9},
		models.TocEntry{Title: "B", Level: 1, TargetPage: 2},
		models.TocEntry{Title: "B again", Level: 1, TargetPage: 2},
		models.TocEntry{Title: "C", Level: 1, TargetPage: 0},
		models.TocEntry{Title: "b.1", Level: 2, TargetPage: 3},
	)
	const n = 20
	got, _, err := ResolveChapters(entries, n)
	require.NoError(t, err)

	next := 1
	for i, ch := range got {
		require.Equal(t, i, ch.Ordinal)
		require.Equal(t, next, ch.StartPage)
		require.LessOrEqual(t, ch.StartPage, ch.EndPage)
		next = ch.EndPage + 1
	}
	require.Equal(t, n+1, next)
}

func TestResolveChaptersDuplicateTitlesKeptByOrdinal(t *testing.T) {
	got, _, err := ResolveChapters(toc(
		models.TocEntry{Title: "Exercises", Level: 0, TargetPage: 1},
		models.TocEntry{Title: "Exercises", Level: 0, TargetPage: 4},
	), 6)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 0, got[0].Ordinal)
	require.Equal(t, 1, got[1].Ordinal)
}

func TestAssembleChapter(t *testing.T) {
	pages := []models.PageText{
		{PageNumber: 3, Text: "three"},
		{PageNumber: 1, Text: "one"},
		{PageNumber: 2, Text: "two"},
		{PageNumber: 4, Text: "four"},
	}
	ch := models.Chapter{StartPage: 1, EndPage: 3}
	require.Equal(t, "one\n\ntwo\n\nthree", AssembleChapter(ch, pages))
}

func TestHeadingsFor(t *testing.T) {
	entries := toc(
		models.TocEntry{Title: "Ch1", Level: 0, TargetPage: 1},
		models.TocEntry{Title: "1.1", Level: 1, TargetPage: 2},
		models.TocEntry{Title: "Ch2", Level: 0, TargetPage: 5},
		models.TocEntry{Title: "2.1", Level: 1, TargetPage: 6},
		models.TocEntry{Title: "2.1.1", Level: 2, TargetPage: 6},
	)
	hs := HeadingsFor(entries, models.Chapter{StartPage: 5, EndPage: 8}, 0)
	require.Len(t, hs, 2)
	require.Equal(t, "2.1", hs[0].Title)
	require.Equal(t, "2.1.1", hs[1].Title)
}

func TestSegmentChapterSplitsAtMatchStarts(t *testing.T) {
	text := "IntroBody HeadingA BodyA HeadingB BodyB"
	res := SegmentChapter(text, []models.TocEntry{
		{Title: "HeadingA", Level: 1},
		{Title: "HeadingB", Level: 1},
	}, SegmentOptions{MinBodyChars: 1})

	require.Empty(t, res.Unmatched)
	require.Len(t, res.Segments, 3)
	require.Equal(t, "", res.Segments[0].HeadingTitle)
	require.Equal(t, "IntroBody ", res.Segments[0].Body)
	require.Equal(t, "HeadingA", res.Segments[1].HeadingTitle)
	require.Equal(t, "HeadingA BodyA ", res.Segments[1].Body)
	require.Equal(t, "HeadingB", res.Segments[2].HeadingTitle)
	require.Equal(t, "HeadingB BodyB", res.Segments[2].Body)
}

func TestSegmentChapterCaseInsensitiveAndNormalizedFallback(t *testing.T) {
	text := "Preface text here.\nVECTOR SPACES are sets with structure.\nLinear-maps: functions preserving structure."
	res := SegmentChapter(text, []models.TocEntry{
		{Title: "Vector Spaces", Level: 1},
		{Title: "Linear Maps", Level: 1},
		{Title: "Not In Text", Level: 1},
	}, SegmentOptions{MinBodyChars: 1})

	require.Len(t, res.Unmatched, 1)
	require.Equal(t, "Not In Text", res.Unmatched[0].Title)
	require.Len(t, res.Segments, 3)
	require.True(t, strings.HasPrefix(res.Segments[1].Body, "VECTOR SPACES"))
	require.True(t, strings.HasPrefix(res.Segments[2].Body, "Linear-maps"))
	requireReconstructs(t, text, res.Segments)
}

func TestSegmentChapterHeadingMatchedAfterCursorOnly(t *testing.T) {
	text := "Summary of A. A: first part. Summary: closing words here."
	res := SegmentChapter(text, []models.TocEntry{
		{Title: "A:", Level: 1},
		{Title: "Summary", Level: 1},
	}, SegmentOptions{MinBodyChars: 1})
	require.Empty(t, res.Unmatched)
	require.Len(t, res.Segments, 3)
	require.Equal(t, "Summary: closing words here.", res.Segments[2].Body)
	requireReconstructs(t, text, res.Segments)
}

func TestSegmentChapterMergesShortSegments(t *testing.T) {
	text := "Groups\nRings and more about rings, ideals, quotients.\nFields with a long enough explanation here."
	res := SegmentChapter(text, []models.TocEntry{
		{Title: "Groups", Level: 1},
		{Title: "Rings", Level: 1},
		{Title: "Fields", Level: 1},
	}, SegmentOptions{MinBodyChars: 10})

	require.Len(t, res.Segments, 2)
	require.Equal(t, "Rings", res.Segments[0].HeadingTitle)
	require.True(t, strings.HasPrefix(res.Segments[0].Body, "Groups\nRings"))
	require.Equal(t, 0, res.Segments[0].Ordinal)
	require.Equal(t, 1, res.Segments[1].Ordinal)
	requireReconstructs(t, text, res.Segments)
}

func TestSegmentChapterShortTailMergesBackwards(t *testing.T) {
	text := "Intro paragraph long enough to stand alone. End"
	res := SegmentChapter(text, []models.TocEntry{{Title: "End", Level: 1}}, SegmentOptions{MinBodyChars: 5})
	require.Len(t, res.Segments, 1)
	require.Equal(t, text, res.Segments[0].Body)
}

func TestSegmentChapterEmptyText(t *testing.T) {
	res := SegmentChapter("", []models.TocEntry{{Title: "A", Level: 1}}, SegmentOptions{})
	require.Empty(t, res.Segments)
	require.Len(t, res.Unmatched, 1)
}

func TestSegmentChapterBlankText(t *testing.T) {
	res := SegmentChapter("\n\n   \n\n", nil, SegmentOptions{MinBodyChars: 24})
	require.Empty(t, res.Segments)
	require.Empty(t, res.Unmatched)

	res = SegmentChapter("\n\n", []models.TocEntry{{Title: "A", Level: 2}}, SegmentOptions{MinBodyChars: 24})
	require.Empty(t, res.Segments)
	require.Len(t, res.Unmatched, 1)
}

func requireReconstructs(t *testing.T, text string, segs []models.Segment) {
	t.Helper()
	var b strings.Builder
	for i, s := range segs {
		require.NotEmpty(t, s.Body)
		require.Equal(t, i, s.Ordinal)
		b.WriteString(s.Body)
	}
	require.Equal(t, text, b.String())
}
