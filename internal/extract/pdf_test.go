package extract

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

func TestLocateTargetsMonotonic(t *testing.T) {
	pages := []models.PageText{
		{PageNumber: 1, Text: "Title page"},
		{PageNumber: 2, Text: "Chapter 1 Sets\nA set is a collection."},
		{PageNumber: 3, Text: "1.1 Subsets are sets too."},
		{PageNumber: 4, Text: "Chapter 2 Groups"},
		{PageNumber: 5, Text: "More on subsets"},
	}
	items := []OutlineItem{
		{Title: "Chapter 1: Sets", Level: 0},
		{Title: "1.1 Subsets", Level: 1},
		{Title: "Chapter 2 - Groups", Level: 0},
		{Title: "Missing Heading", Level: 1},
	}
	got := LocateTargets(items, pages)
	require.Len(t, got, 4)
	require.Equal(t, 2, got[0].TargetPage)
	require.Equal(t, 3, got[1].TargetPage)
	require.Equal(t, 4, got[2].TargetPage)
	require.Equal(t, 4, got[3].TargetPage, "unlocated entries inherit the previous page")
	for i, e := range got {
		require.Equal(t, i, e.Ordinal)
	}
}

func TestLocateTargetsSkipsContentsPage(t *testing.T) {
	pages := []models.PageText{
		{PageNumber: 1, Text: "Contents\nSets 2\nGroups 3\nRings 4"},
		{PageNumber: 2, Text: "Sets"},
		{PageNumber: 3, Text: "Groups"},
		{PageNumber: 4, Text: "Rings"},
	}
	got := LocateTargets([]OutlineItem{{Title: "Sets"}, {Title: "Groups"}, {Title: "Rings"}}, pages)
	require.Equal(t, 2, got[0].TargetPage)
	require.Equal(t, 3, got[1].TargetPage)
	require.Equal(t, 4, got[2].TargetPage)
}

func TestExtractPagesRejectsGarbage(t *testing.T) {
	data := []byte("this is not a pdf")
	_, err := NewPDFExtractor().ExtractPages(context.Background(), bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, util.ErrUnreadablePDF)
}
