package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studyflow/internal/providers"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

const DefaultTopK = 5

type Query struct {
	Text   string `json:"query"`
	TopK   int    `json:"top_k"`
	BookID string `json:"book_id,omitempty"`
}

type Options struct {
	TopK int
	// DedupeSegments over-fetches and keeps the best hit per segment, so a
	// segment and its deck never take two result slots.
	DedupeSegments bool
	Dimension      int
	CallTimeout    time.Duration
}

type Retriever struct {
	store vector.Store
	embed providers.EmbeddingProvider
	opts  Options
}

// NewRetriever must be given the same embedder the index was built with.
func NewRetriever(store vector.Store, embed providers.EmbeddingProvider, opts Options) *Retriever {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &Retriever{store: store, embed: embed, opts: opts}
}

// Retrieve returns at most K hits ordered by descending similarity, ties
// broken by lower unit ordinal. An empty index or an unmatched scope yields
// an empty slice.
func (r *Retriever) Retrieve(ctx context.Context, q Query) ([]vector.Hit, error) {
	k := q.TopK
	if k <= 0 {
		k = r.opts.TopK
	}
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return []vector.Hit{}, nil
	}
	filter := vector.Filter{BookID: q.BookID}
	n, err := r.store.Count(ctx, filter)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []vector.Hit{}, nil
	}

	qv, err := r.embedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	fetch := k
	if r.opts.DedupeSegments {
		fetch = k * 3
	}
	hits, err := r.store.Search(ctx, qv, fetch, filter)
	if err != nil {
		return nil, err
	}
	if r.opts.DedupeSegments {
		hits = dedupeBySegment(hits)
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (r *Retriever) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if r.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.CallTimeout)
		defer cancel()
	}
	vecs, _, err := r.embed.Embed(ctx, providers.EmbedRequest{
		Operation: providers.OpQuery,
		Inputs:    []string{text},
		Dimension: r.opts.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", util.ErrEmbeddingUnavailable, err)
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", util.ErrEmbeddingUnavailable)
	}
	return vecs[0], nil
}

func dedupeBySegment(hits []vector.Hit) []vector.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if _, ok := seen[h.SegmentRef]; ok {
			continue
		}
		seen[h.SegmentRef] = struct{}{}
		out = append(out, h)
	}
	return out
}
