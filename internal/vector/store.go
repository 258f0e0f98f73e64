package vector

import (
	"context"
	"time"
)

type Kind string

const (
	KindSegment Kind = "segment"
	KindDeck    Kind = "deck"
)

// Record is one indexed unit. UnitRef is unique; SegmentRef is the segment
// the unit was derived from and is what retrieval results cite.
type Record struct {
	UnitRef      string    `db:"unit_ref"`
	SegmentRef   string    `db:"segment_ref"`
	BookID       string    `db:"book_id"`
	Kind         Kind      `db:"kind"`
	Ordinal      int       `db:"ordinal"`
	Vector       []float32 `db:"-"`
	ContentHash  string    `db:"content_hash"`
	EmbedVersion string    `db:"embed_version"`
	Stale        bool      `db:"stale"`
	UpdatedAt    time.Time `db:"-"`
}

type Hit struct {
	UnitRef    string  `json:"unit_ref"`
	SegmentRef string  `json:"segment_ref"`
	BookID     string  `json:"book_id"`
	Kind       Kind    `json:"kind"`
	Ordinal    int     `json:"ordinal"`
	Score      float64 `json:"score"`
}

type Filter struct {
	BookID string
}

// Store persists vector records. Upsert replaces the record for a UnitRef in
// one step, so concurrent readers see the old or the new vector, never a mix.
type Store interface {
	Get(ctx context.Context, unitRef string) (Record, bool, error)
	Upsert(ctx context.Context, rec Record) error
	// MarkStale flags a unit for re-embedding, keeping any previous vector
	// searchable. A unit that was never embedded gets a vectorless record.
	MarkStale(ctx context.Context, rec Record) error
	Search(ctx context.Context, query []float32, k int, f Filter) ([]Hit, error)
	ListStale(ctx context.Context, limit int) ([]Record, error)
	DeleteBook(ctx context.Context, bookID string) error
	// DeleteExcept removes the book's records of the given kind whose
	// UnitRef is not in keep.
	DeleteExcept(ctx context.Context, bookID string, kind Kind, keep []string) (int, error)
	Count(ctx context.Context, f Filter) (int, error)
}
