package retrieval

import (
	"context"
	"errors"

	"studyflow/internal/models"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

const snippetRunes = 240

type SegmentLoader interface {
	GetSegment(ctx context.Context, segmentID string) (models.Segment, error)
}

// Describe attaches heading and a query-focused snippet to each hit. Hits
// whose segment has since been removed are dropped.
func Describe(ctx context.Context, segments SegmentLoader, query string, hits []vector.Hit) ([]models.SearchResult, error) {
	out := make([]models.SearchResult, 0, len(hits))
	for _, h := range hits {
		seg, err := segments.GetSegment(ctx, h.SegmentRef)
		if errors.Is(err, util.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, models.SearchResult{
			SegmentID:    h.SegmentRef,
			BookID:       h.BookID,
			UnitRef:      h.UnitRef,
			HeadingTitle: seg.HeadingTitle,
			Snippet:      util.QuerySnippet(seg.Body, query, snippetRunes),
			Score:        h.Score,
		})
	}
	return out, nil
}
