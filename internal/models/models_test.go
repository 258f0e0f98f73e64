package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStageOrdering(t *testing.T) {
	st, ok := ParseStage("segment_chapters")
	require.True(t, ok)
	require.Equal(t, StageSegmentChapters, st)
	_, ok = ParseStage("ocr")
	require.False(t, ok)

	_, ok = StageExtractPages.Prerequisite()
	require.False(t, ok)
	pre, ok := StageIndexUnits.Prerequisite()
	require.True(t, ok)
	require.Equal(t, StageSegmentChapters, pre, "slides are optional before indexing")

	require.Equal(t, []Stage{StageGenerateSlides, StageIndexUnits}, StageSegmentChapters.Downstream())
	require.Empty(t, StageIndexUnits.Downstream())
}
