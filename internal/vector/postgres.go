package vector

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGStore keeps vectors in a pgvector column and ranks with the cosine
// distance operator.
type PGStore struct {
	q Queryer
}

func NewPGStore(q Queryer) *PGStore {
	return &PGStore{q: q}
}

const recordColumns = `unit_ref, segment_ref, book_id, kind, ordinal, embedding::text, content_hash, embed_version, stale, updated_at`

func (s *PGStore) Get(ctx context.Context, unitRef string) (Record, bool, error) {
	row := s.q.QueryRow(ctx, `SELECT `+recordColumns+` FROM vector_records WHERE unit_ref = $1`, unitRef)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get vector record: %w", err)
	}
	return rec, true, nil
}

func (s *PGStore) Upsert(ctx context.Context, rec Record) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO vector_records(unit_ref, segment_ref, book_id, kind, ordinal, embedding, content_hash, embed_version, stale, updated_at)
VALUES ($1, $2, $3, $4, $5, $6::vector, $7, $8, FALSE, now())
ON CONFLICT (unit_ref) DO UPDATE SET
  segment_ref = EXCLUDED.segment_ref,
  book_id = EXCLUDED.book_id,
  kind = EXCLUDED.kind,
  ordinal = EXCLUDED.ordinal,
  embedding = EXCLUDED.embedding,
  content_hash = EXCLUDED.content_hash,
  embed_version = EXCLUDED.embed_version,
  stale = FALSE,
  updated_at = now()`,
		rec.UnitRef, rec.SegmentRef, rec.BookID, string(rec.Kind), rec.Ordinal, pgvector.NewVector(rec.Vector), rec.ContentHash, rec.EmbedVersion)
	if err != nil {
		return fmt.Errorf("upsert vector record: %w", err)
	}
	return nil
}

func (s *PGStore) MarkStale(ctx context.Context, rec Record) error {
	_, err := s.q.Exec(ctx, `
INSERT INTO vector_records(unit_ref, segment_ref, book_id, kind, ordinal, embedding, content_hash, embed_version, stale, updated_at)
VALUES ($1, $2, $3, $4, $5, NULL, $6, $7, TRUE, now())
ON CONFLICT (unit_ref) DO UPDATE SET
  content_hash = EXCLUDED.content_hash,
  stale = TRUE,
  updated_at = now()`,
		rec.UnitRef, rec.SegmentRef, rec.BookID, string(rec.Kind), rec.Ordinal, rec.ContentHash, rec.EmbedVersion)
	if err != nil {
		return fmt.Errorf("mark vector record stale: %w", err)
	}
	return nil
}

func (s *PGStore) Search(ctx context.Context, query []float32, k int, f Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	rows, err := s.q.Query(ctx, `
SELECT unit_ref, segment_ref, book_id, kind, ordinal, 1 - (embedding <=> $1::vector) AS score
FROM vector_records
WHERE embedding IS NOT NULL
  AND ($2 = '' OR book_id = $2)
ORDER BY embedding <=> $1::vector, ordinal, unit_ref
LIMIT $3`, pgvector.NewVector(query), f.BookID, k)
	if err != nil {
		return nil, fmt.Errorf("query vector search: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var h Hit
		var kind string
		if err := rows.Scan(&h.UnitRef, &h.SegmentRef, &h.BookID, &kind, &h.Ordinal, &h.Score); err != nil {
			return nil, fmt.Errorf("scan vector hit: %w", err)
		}
		h.Kind = Kind(kind)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate search rows: %w", err)
	}
	// float rounding in the database can reorder near-ties
	return Rank(hits, k), nil
}

func (s *PGStore) ListStale(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.q.Query(ctx, `SELECT `+recordColumns+` FROM vector_records WHERE stale ORDER BY unit_ref LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale records: %w", err)
	}
	defer rows.Close()
	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PGStore) DeleteBook(ctx context.Context, bookID string) error {
	if _, err := s.q.Exec(ctx, `DELETE FROM vector_records WHERE book_id = $1`, bookID); err != nil {
		return fmt.Errorf("delete book vectors: %w", err)
	}
	return nil
}

func (s *PGStore) DeleteExcept(ctx context.Context, bookID string, kind Kind, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	tag, err := s.q.Exec(ctx, `DELETE FROM vector_records WHERE book_id = $1 AND kind = $2 AND NOT (unit_ref = ANY($3))`,
		bookID, string(kind), keep)
	if err != nil {
		return 0, fmt.Errorf("prune vector records: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGStore) Count(ctx context.Context, f Filter) (int, error) {
	var n int
	if err := s.q.QueryRow(ctx, `SELECT count(*) FROM vector_records WHERE ($1 = '' OR book_id = $1)`, f.BookID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count vector records: %w", err)
	}
	return n, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	var kind string
	var embedding *string
	if err := row.Scan(&rec.UnitRef, &rec.SegmentRef, &rec.BookID, &kind, &rec.Ordinal, &embedding,
		&rec.ContentHash, &rec.EmbedVersion, &rec.Stale, &rec.UpdatedAt); err != nil {
		return Record{}, err
	}
	rec.Kind = Kind(kind)
	if embedding != nil {
		var v pgvector.Vector
		if err := v.Scan([]byte(*embedding)); err != nil {
			return Record{}, fmt.Errorf("decode embedding: %w", err)
		}
		rec.Vector = v.Slice()
	}
	return rec, nil
}
