package index

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"studyflow/internal/models"
	"studyflow/internal/providers"
	"studyflow/internal/util"
	"studyflow/internal/vector"
)

// Unit is one piece of text to index under a stable reference.
type Unit struct {
	Ref        string
	SegmentRef string
	BookID     string
	Kind       vector.Kind
	Ordinal    int
	Text       string
}

type Options struct {
	EmbedVersion string
	Dimension    int
	MaxRetries   int
	BaseDelay    time.Duration
	CallTimeout  time.Duration
}

type Outcome int

const (
	OutcomeReused Outcome = iota
	OutcomeEmbedded
	OutcomeStale
)

type Report struct {
	Embedded  int      `json:"embedded"`
	Reused    int      `json:"reused"`
	Stale     int      `json:"stale"`
	StaleRefs []string `json:"stale_refs,omitempty"`
}

type Indexer struct {
	store vector.Store
	embed providers.EmbeddingProvider
	opts  Options
	sleep func(context.Context, time.Duration) error
}

func NewIndexer(store vector.Store, embed providers.EmbeddingProvider, opts Options) *Indexer {
	return &Indexer{store: store, embed: embed, opts: opts, sleep: util.SleepContext}
}

// IndexUnit embeds u unless the stored record already matches its content
// hash and embedding version. Embedding failures mark the unit stale and are
// reported through the outcome; only store failures and cancellation return
// an error.
func (ix *Indexer) IndexUnit(ctx context.Context, u Unit) (Outcome, error) {
	hash := util.SHA256Hex([]byte(u.Text))
	cur, ok, err := ix.store.Get(ctx, u.Ref)
	if err != nil {
		return 0, err
	}
	if ok && !cur.Stale && cur.ContentHash == hash && cur.EmbedVersion == ix.opts.EmbedVersion && len(cur.Vector) > 0 {
		return OutcomeReused, nil
	}

	rec := vector.Record{
		UnitRef:      u.Ref,
		SegmentRef:   u.SegmentRef,
		BookID:       u.BookID,
		Kind:         u.Kind,
		Ordinal:      u.Ordinal,
		ContentHash:  hash,
		EmbedVersion: ix.opts.EmbedVersion,
	}
	vec, err := ix.embedWithRetry(ctx, u.Text)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		logutil.GetLogger(ctx).Warn("unit left stale", zap.String("unit_ref", u.Ref), zap.Error(err))
		if serr := ix.store.MarkStale(ctx, rec); serr != nil {
			return 0, serr
		}
		return OutcomeStale, nil
	}
	rec.Vector = vec
	if err := ix.store.Upsert(ctx, rec); err != nil {
		return 0, err
	}
	return OutcomeEmbedded, nil
}

func (ix *Indexer) IndexAll(ctx context.Context, units []Unit) (Report, error) {
	var rep Report
	for _, u := range units {
		out, err := ix.IndexUnit(ctx, u)
		if err != nil {
			return rep, fmt.Errorf("index %s: %w", u.Ref, err)
		}
		switch out {
		case OutcomeReused:
			rep.Reused++
		case OutcomeEmbedded:
			rep.Embedded++
		case OutcomeStale:
			rep.Stale++
			rep.StaleRefs = append(rep.StaleRefs, u.Ref)
		}
	}
	return rep, nil
}

func (ix *Indexer) embedWithRetry(ctx context.Context, text string) ([]float32, error) {
	attempt := 0
	for {
		vec, err := ix.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		errType := providers.ClassifyError(err)
		if !providers.Retryable(errType) || attempt >= ix.opts.MaxRetries {
			return nil, fmt.Errorf("%w: %w", util.ErrEmbeddingUnavailable, err)
		}
		attempt++
		if err := ix.sleep(ctx, util.CalculateBackoff(ix.opts.BaseDelay, attempt)); err != nil {
			return nil, err
		}
	}
}

func (ix *Indexer) embedOnce(ctx context.Context, text string) ([]float32, error) {
	if ix.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ix.opts.CallTimeout)
		defer cancel()
	}
	vecs, _, err := ix.embed.Embed(ctx, providers.EmbedRequest{
		Operation: providers.OpIndexUnit,
		Inputs:    []string{text},
		Dimension: ix.opts.Dimension,
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) == 0 {
		return nil, fmt.Errorf("embedder returned %d vectors", len(vecs))
	}
	if ix.opts.Dimension > 0 && len(vecs[0]) != ix.opts.Dimension {
		return nil, fmt.Errorf("embedding has %d dimensions, index expects %d", len(vecs[0]), ix.opts.Dimension)
	}
	return vecs[0], nil
}

func SegmentUnit(seg models.Segment) Unit {
	return Unit{
		Ref:        seg.SegmentID,
		SegmentRef: seg.SegmentID,
		BookID:     seg.BookID,
		Kind:       vector.KindSegment,
		Ordinal:    seg.BookOrdinal,
		Text:       seg.Body,
	}
}

// DeckUnit indexes a deck as its heading followed by each slide's title and
// bullets.
func DeckUnit(deck models.SlideDeck, ordinal int) Unit {
	var b strings.Builder
	b.WriteString(deck.Heading)
	for _, s := range deck.Slides {
		b.WriteString("\n\n")
		b.WriteString(s.Title)
		for _, bl := range s.Bullets {
			b.WriteString("\n")
			b.WriteString(bl)
		}
	}
	return Unit{
		Ref:        deck.SegmentID + "#deck",
		SegmentRef: deck.SegmentID,
		BookID:     deck.BookID,
		Kind:       vector.KindDeck,
		Ordinal:    ordinal,
		Text:       b.String(),
	}
}
