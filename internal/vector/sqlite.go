package vector

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const sqliteTable = "vector_records"

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS vector_records (
  unit_ref TEXT PRIMARY KEY,
  segment_ref TEXT NOT NULL,
  book_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  ordinal INTEGER NOT NULL,
  embedding BLOB,
  content_hash TEXT NOT NULL,
  embed_version TEXT NOT NULL,
  stale INTEGER NOT NULL DEFAULT 0,
  mtime INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_vector_records_book ON vector_records(book_id, kind);
CREATE INDEX IF NOT EXISTS idx_vector_records_stale ON vector_records(stale);
`

// SQLiteStore is the embedded backend. Similarity is computed in process
// over the candidate rows, which suits single-user libraries.
type SQLiteStore struct {
	db *sqlx.DB
}

type sqliteRow struct {
	Record
	Embedding []byte `db:"embedding"`
	Mtime     int64  `db:"mtime"`
}

var sqliteFields = []string{"unit_ref", "segment_ref", "book_id", "kind", "ordinal", "embedding", "content_hash", "embed_version", "stale", "mtime"}

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, unitRef string) (Record, bool, error) {
	sqlStr, args, err := builder.BuildSelect(sqliteTable, map[string]interface{}{"unit_ref": unitRef}, sqliteFields)
	if err != nil {
		return Record{}, false, err
	}
	var row sqliteRow
	if err := s.db.GetContext(ctx, &row, sqlStr, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("get vector record: %w", err)
	}
	rec, err := row.toRecord()
	return rec, err == nil, err
}

func (s *SQLiteStore) Upsert(ctx context.Context, rec Record) error {
	blob, err := json.Marshal(rec.Vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	return s.write(ctx, rec, blob, false)
}

func (s *SQLiteStore) MarkStale(ctx context.Context, rec Record) error {
	cur, ok, err := s.Get(ctx, rec.UnitRef)
	if err != nil {
		return err
	}
	var blob []byte
	if ok {
		if cur.Vector != nil {
			if blob, err = json.Marshal(cur.Vector); err != nil {
				return fmt.Errorf("encode embedding: %w", err)
			}
		}
		cur.ContentHash = rec.ContentHash
		rec = cur
	}
	return s.write(ctx, rec, blob, true)
}

func (s *SQLiteStore) write(ctx context.Context, rec Record, blob []byte, stale bool) error {
	data := map[string]interface{}{
		"unit_ref":      rec.UnitRef,
		"segment_ref":   rec.SegmentRef,
		"book_id":       rec.BookID,
		"kind":          string(rec.Kind),
		"ordinal":       rec.Ordinal,
		"embedding":     blob,
		"content_hash":  rec.ContentHash,
		"embed_version": rec.EmbedVersion,
		"stale":         stale,
		"mtime":         time.Now().UnixMilli(),
	}
	sqlStr, args, err := builder.BuildInsert(sqliteTable, []map[string]interface{}{data})
	if err != nil {
		return err
	}
	sqlStr = strings.Replace(sqlStr, "INSERT INTO", "INSERT OR REPLACE INTO", 1)
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("write vector record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Search(ctx context.Context, query []float32, k int, f Filter) ([]Hit, error) {
	if k <= 0 {
		return []Hit{}, nil
	}
	where := map[string]interface{}{}
	if f.BookID != "" {
		where["book_id"] = f.BookID
	}
	rows, err := s.selectRows(ctx, where)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		if len(rec.Vector) == 0 {
			continue
		}
		hits = append(hits, Hit{
			UnitRef:    rec.UnitRef,
			SegmentRef: rec.SegmentRef,
			BookID:     rec.BookID,
			Kind:       rec.Kind,
			Ordinal:    rec.Ordinal,
			Score:      Cosine(query, rec.Vector),
		})
	}
	return Rank(hits, k), nil
}

func (s *SQLiteStore) ListStale(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.selectRows(ctx, map[string]interface{}{
		"stale":    true,
		"_orderby": "unit_ref asc",
		"_limit":   []uint{0, uint(limit)},
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteStore) DeleteBook(ctx context.Context, bookID string) error {
	sqlStr, args, err := builder.BuildDelete(sqliteTable, map[string]interface{}{"book_id": bookID})
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("delete book vectors: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteExcept(ctx context.Context, bookID string, kind Kind, keep []string) (int, error) {
	query := `DELETE FROM vector_records WHERE book_id = ? AND kind = ?`
	args := []interface{}{bookID, string(kind)}
	if len(keep) > 0 {
		var err error
		query, args, err = sqlx.In(query+` AND unit_ref NOT IN (?)`, bookID, string(kind), keep)
		if err != nil {
			return 0, fmt.Errorf("expand keep list: %w", err)
		}
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("prune vector records: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int, error) {
	where := map[string]interface{}{}
	if f.BookID != "" {
		where["book_id"] = f.BookID
	}
	sqlStr, args, err := builder.BuildSelect(sqliteTable, where, []string{"COUNT(1)"})
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, sqlStr, args...); err != nil {
		return 0, fmt.Errorf("count vector records: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) selectRows(ctx context.Context, where map[string]interface{}) ([]sqliteRow, error) {
	sqlStr, args, err := builder.BuildSelect(sqliteTable, where, sqliteFields)
	if err != nil {
		return nil, err
	}
	var rows []sqliteRow
	if err := s.db.SelectContext(ctx, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("select vector records: %w", err)
	}
	return rows, nil
}

func (r sqliteRow) toRecord() (Record, error) {
	rec := r.Record
	rec.UpdatedAt = time.UnixMilli(r.Mtime).UTC()
	if len(r.Embedding) > 0 && string(r.Embedding) != "null" {
		if err := json.Unmarshal(r.Embedding, &rec.Vector); err != nil {
			return Record{}, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return rec, nil
}
