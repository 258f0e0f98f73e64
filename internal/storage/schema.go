package storage

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pgcrypto;

CREATE TABLE IF NOT EXISTS books (
  book_id TEXT PRIMARY KEY,
  book_hash TEXT NOT NULL UNIQUE,
  title TEXT NOT NULL,
  filename TEXT NOT NULL,
  file_key TEXT NOT NULL,
  page_count INT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pages (
  book_id TEXT NOT NULL REFERENCES books(book_id) ON DELETE CASCADE,
  page_number INT NOT NULL,
  text TEXT NOT NULL,
  PRIMARY KEY (book_id, page_number)
);

CREATE TABLE IF NOT EXISTS toc_entries (
  book_id TEXT NOT NULL REFERENCES books(book_id) ON DELETE CASCADE,
  ordinal INT NOT NULL,
  title TEXT NOT NULL,
  level INT NOT NULL,
  target_page INT NOT NULL,
  PRIMARY KEY (book_id, ordinal)
);

CREATE TABLE IF NOT EXISTS chapters (
  book_id TEXT NOT NULL REFERENCES books(book_id) ON DELETE CASCADE,
  ordinal INT NOT NULL,
  title TEXT NOT NULL,
  start_page INT NOT NULL,
  end_page INT NOT NULL,
  PRIMARY KEY (book_id, ordinal),
  CHECK (start_page <= end_page)
);

CREATE TABLE IF NOT EXISTS segments (
  segment_id TEXT PRIMARY KEY,
  book_id TEXT NOT NULL,
  chapter_ordinal INT NOT NULL,
  ordinal INT NOT NULL,
  book_ordinal INT NOT NULL,
  heading_title TEXT NOT NULL,
  heading_level INT NOT NULL,
  body TEXT NOT NULL CHECK (body <> ''),
  FOREIGN KEY (book_id, chapter_ordinal) REFERENCES chapters(book_id, ordinal) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_segments_book ON segments(book_id, book_ordinal);

CREATE TABLE IF NOT EXISTS slide_decks (
  segment_id TEXT PRIMARY KEY REFERENCES segments(segment_id) ON DELETE CASCADE,
  book_id TEXT NOT NULL,
  heading TEXT NOT NULL,
  slides JSONB NOT NULL,
  provider TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  generated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_slide_decks_book ON slide_decks(book_id);

CREATE TABLE IF NOT EXISTS stage_status (
  book_id TEXT NOT NULL REFERENCES books(book_id) ON DELETE CASCADE,
  stage TEXT NOT NULL,
  completed BOOLEAN NOT NULL,
  count INT NOT NULL DEFAULT 0,
  warnings JSONB NOT NULL DEFAULT '[]',
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (book_id, stage)
);

CREATE TABLE IF NOT EXISTS chat_sessions (
  session_id TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chat_turns (
  turn_id TEXT PRIMARY KEY,
  session_id TEXT NOT NULL REFERENCES chat_sessions(session_id) ON DELETE CASCADE,
  seq BIGINT NOT NULL,
  role TEXT NOT NULL,
  text TEXT NOT NULL,
  cited_segment_refs TEXT[] NOT NULL DEFAULT '{}',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (session_id, seq)
);

CREATE TABLE IF NOT EXISTS llm_calls (
  call_id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
  operation TEXT NOT NULL,
  book_id TEXT,
  provider_name TEXT NOT NULL,
  model TEXT NOT NULL,
  status TEXT NOT NULL,
  error_type TEXT,
  latency_ms BIGINT NOT NULL DEFAULT 0,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

const vectorSchemaSQL = `
CREATE TABLE IF NOT EXISTS vector_records (
  unit_ref TEXT PRIMARY KEY,
  segment_ref TEXT NOT NULL,
  book_id TEXT NOT NULL,
  kind TEXT NOT NULL,
  ordinal INT NOT NULL,
  embedding vector(%d),
  content_hash TEXT NOT NULL,
  embed_version TEXT NOT NULL,
  stale BOOLEAN NOT NULL DEFAULT FALSE,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_vector_records_book ON vector_records(book_id, kind);
CREATE INDEX IF NOT EXISTS idx_vector_records_stale ON vector_records(stale) WHERE stale;
CREATE INDEX IF NOT EXISTS idx_vector_records_embedding ON vector_records USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the schema. embedDim fixes the vector column length.
func (d *DB) Migrate(ctx context.Context, embedDim int) error {
	if embedDim <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", embedDim)
	}
	if _, err := d.Pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	if _, err := d.Pool.Exec(ctx, fmt.Sprintf(vectorSchemaSQL, embedDim)); err != nil {
		return fmt.Errorf("migrate vector schema: %w", err)
	}
	return nil
}
