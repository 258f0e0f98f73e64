package vector

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestCosine(t *testing.T) {
	require.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	require.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	require.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	require.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestRankTieBreaksByOrdinalThenRef(t *testing.T) {
	hits := Rank([]Hit{
		{UnitRef: "b", Ordinal: 2, Score: 0.5},
		{UnitRef: "a", Ordinal: 2, Score: 0.5},
		{UnitRef: "c", Ordinal: 1, Score: 0.5},
		{UnitRef: "d", Ordinal: 9, Score: 0.9},
	}, 3)
	require.Len(t, hits, 3)
	require.Equal(t, []string{"d", "c", "a"}, []string{hits[0].UnitRef, hits[1].UnitRef, hits[2].UnitRef})
}

func storeContract(t *testing.T, s Store) {
	ctx := context.Background()

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 3, Filter{})
	require.NoError(t, err)
	require.Empty(t, hits, "empty index yields no hits")

	require.NoError(t, s.Upsert(ctx, Record{UnitRef: "b1/s0", SegmentRef: "b1/s0", BookID: "b1", Kind: KindSegment, Ordinal: 0, Vector: []float32{1, 0, 0}, ContentHash: "h0", EmbedVersion: "v1"}))
	require.NoError(t, s.Upsert(ctx, Record{UnitRef: "b1/s1", SegmentRef: "b1/s1", BookID: "b1", Kind: KindSegment, Ordinal: 1, Vector: []float32{0, 1, 0}, ContentHash: "h1", EmbedVersion: "v1"}))
	require.NoError(t, s.Upsert(ctx, Record{UnitRef: "b2/s0", SegmentRef: "b2/s0", BookID: "b2", Kind: KindSegment, Ordinal: 0, Vector: []float32{1, 1, 0}, ContentHash: "h2", EmbedVersion: "v1"}))

	rec, ok, err := s.Get(ctx, "b1/s1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h1", rec.ContentHash)
	require.Equal(t, []float32{0, 1, 0}, rec.Vector)
	require.False(t, rec.Stale)

	_, ok, err = s.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	hits, err = s.Search(ctx, []float32{1, 0, 0}, 5, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 3)
	require.Equal(t, "b1/s0", hits[0].UnitRef)
	require.Equal(t, "b2/s0", hits[1].UnitRef)

	hits, err = s.Search(ctx, []float32{1, 0, 0}, 5, Filter{BookID: "b2"})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	// replacement keeps one record per unit
	require.NoError(t, s.Upsert(ctx, Record{UnitRef: "b1/s1", SegmentRef: "b1/s1", BookID: "b1", Kind: KindSegment, Ordinal: 1, Vector: []float32{1, 0, 0}, ContentHash: "h1b", EmbedVersion: "v1"}))
	n, err := s.Count(ctx, Filter{BookID: "b1"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	require.NoError(t, s.MarkStale(ctx, Record{UnitRef: "b1/s1", SegmentRef: "b1/s1", BookID: "b1", Kind: KindSegment, Ordinal: 1, ContentHash: "h1c", EmbedVersion: "v1"}))
	require.NoError(t, s.MarkStale(ctx, Record{UnitRef: "b1/s2", SegmentRef: "b1/s2", BookID: "b1", Kind: KindSegment, Ordinal: 2, ContentHash: "h3", EmbedVersion: "v1"}))
	stale, err := s.ListStale(ctx, 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, "b1/s1", stale[0].UnitRef)
	require.Equal(t, "h1c", stale[0].ContentHash)
	require.NotEmpty(t, stale[0].Vector, "previous vector survives")
	require.Empty(t, stale[1].Vector)

	hits, err = s.Search(ctx, []float32{0, 0, 1}, 10, Filter{BookID: "b1"})
	require.NoError(t, err)
	require.Len(t, hits, 2, "vectorless stale records are not searchable")

	pruned, err := s.DeleteExcept(ctx, "b1", KindSegment, []string{"b1/s0"})
	require.NoError(t, err)
	require.Equal(t, 2, pruned)

	require.NoError(t, s.DeleteBook(ctx, "b2"))
	n, err = s.Count(ctx, Filter{})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	pruned, err = s.DeleteExcept(ctx, "b1", KindSegment, nil)
	require.NoError(t, err)
	require.Equal(t, 1, pruned)
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemoryStore())
}

func TestSQLiteStoreContract(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	storeContract(t, s)
}

func TestPGStoreContract(t *testing.T) {
	dsn := os.Getenv("STUDYFLOW_TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("STUDYFLOW_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	_, err = pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector;
DROP TABLE IF EXISTS vector_records;
CREATE TABLE vector_records (
  unit_ref TEXT PRIMARY KEY, segment_ref TEXT NOT NULL, book_id TEXT NOT NULL, kind TEXT NOT NULL,
  ordinal INT NOT NULL, embedding vector(3), content_hash TEXT NOT NULL, embed_version TEXT NOT NULL,
  stale BOOLEAN NOT NULL DEFAULT FALSE, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	require.NoError(t, err)
	storeContract(t, NewPGStore(pool))
}
