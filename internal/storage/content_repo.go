package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

// ContentRepo holds everything the pipeline stages produce for a book.
type ContentRepo struct {
	db *DB
}

func NewContentRepo(db *DB) *ContentRepo {
	return &ContentRepo{db: db}
}

func (r *ContentRepo) ListPages(ctx context.Context, bookID string) ([]models.PageText, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT page_number, text FROM pages WHERE book_id=$1 ORDER BY page_number`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.PageText, error) {
		var p models.PageText
		err := row.Scan(&p.PageNumber, &p.Text)
		return p, err
	})
}

func (r *ContentRepo) ListToc(ctx context.Context, bookID string) ([]models.TocEntry, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT ordinal, title, level, target_page FROM toc_entries WHERE book_id=$1 ORDER BY ordinal`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list toc: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.TocEntry, error) {
		var e models.TocEntry
		err := row.Scan(&e.Ordinal, &e.Title, &e.Level, &e.TargetPage)
		return e, err
	})
}

func (r *ContentRepo) ListChapters(ctx context.Context, bookID string) ([]models.Chapter, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT book_id, ordinal, title, start_page, end_page FROM chapters WHERE book_id=$1 ORDER BY ordinal`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Chapter, error) {
		var c models.Chapter
		err := row.Scan(&c.BookID, &c.Ordinal, &c.Title, &c.StartPage, &c.EndPage)
		return c, err
	})
}

const segmentColumns = `segment_id, book_id, chapter_ordinal, ordinal, book_ordinal, heading_title, heading_level, body`

func scanSegment(row pgx.Row) (models.Segment, error) {
	var s models.Segment
	err := row.Scan(&s.SegmentID, &s.BookID, &s.ChapterOrdinal, &s.Ordinal, &s.BookOrdinal, &s.HeadingTitle, &s.HeadingLevel, &s.Body)
	return s, err
}

func (r *ContentRepo) ListSegments(ctx context.Context, bookID string) ([]models.Segment, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+segmentColumns+` FROM segments WHERE book_id=$1 ORDER BY book_ordinal`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Segment, error) {
		return scanSegment(row)
	})
}

func (r *ContentRepo) GetSegment(ctx context.Context, segmentID string) (models.Segment, error) {
	s, err := scanSegment(r.db.Pool.QueryRow(ctx, `SELECT `+segmentColumns+` FROM segments WHERE segment_id=$1`, segmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Segment{}, fmt.Errorf("segment %s: %w", segmentID, util.ErrNotFound)
	}
	if err != nil {
		return models.Segment{}, fmt.Errorf("get segment: %w", err)
	}
	return s, nil
}

func scanDeck(row pgx.Row) (models.SlideDeck, error) {
	var d models.SlideDeck
	var raw []byte
	if err := row.Scan(&d.SegmentID, &d.BookID, &d.Heading, &raw, &d.Provider, &d.Model, &d.GeneratedAt); err != nil {
		return models.SlideDeck{}, err
	}
	if err := json.Unmarshal(raw, &d.Slides); err != nil {
		return models.SlideDeck{}, fmt.Errorf("decode slides: %w", err)
	}
	return d, nil
}

func (r *ContentRepo) ListDecks(ctx context.Context, bookID string) ([]models.SlideDeck, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT d.segment_id, d.book_id, d.heading, d.slides, d.provider, d.model, d.generated_at
FROM slide_decks d JOIN segments s ON s.segment_id = d.segment_id
WHERE d.book_id=$1
ORDER BY s.book_ordinal`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list decks: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SlideDeck, error) {
		return scanDeck(row)
	})
}

func (r *ContentRepo) GetDeck(ctx context.Context, segmentID string) (models.SlideDeck, error) {
	d, err := scanDeck(r.db.Pool.QueryRow(ctx, `
SELECT segment_id, book_id, heading, slides, provider, model, generated_at
FROM slide_decks WHERE segment_id=$1`, segmentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.SlideDeck{}, fmt.Errorf("deck %s: %w", segmentID, util.ErrNotFound)
	}
	if err != nil {
		return models.SlideDeck{}, fmt.Errorf("get deck: %w", err)
	}
	return d, nil
}

// PutDeck replaces one segment's deck in a single statement.
func (r *ContentRepo) PutDeck(ctx context.Context, deck models.SlideDeck) error {
	if err := upsertDeck(ctx, r.db.Pool, deck); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return fmt.Errorf("segment %s: %w", deck.SegmentID, util.ErrNotFound)
		}
		return err
	}
	return nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertDeck(ctx context.Context, q execer, d models.SlideDeck) error {
	raw, err := json.Marshal(d.Slides)
	if err != nil {
		return fmt.Errorf("encode slides: %w", err)
	}
	_, err = q.Exec(ctx, `
INSERT INTO slide_decks (segment_id, book_id, heading, slides, provider, model, generated_at)
VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)
ON CONFLICT (segment_id) DO UPDATE SET
  heading = EXCLUDED.heading,
  slides = EXCLUDED.slides,
  provider = EXCLUDED.provider,
  model = EXCLUDED.model,
  generated_at = EXCLUDED.generated_at`,
		d.SegmentID, d.BookID, d.Heading, string(raw), d.Provider, d.Model, d.GeneratedAt)
	if err != nil {
		return fmt.Errorf("upsert deck %s: %w", d.SegmentID, err)
	}
	return nil
}

func (r *ContentRepo) ListStageStatus(ctx context.Context, bookID string) ([]models.StageStatus, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT book_id, stage, completed, count, warnings, updated_at
FROM stage_status WHERE book_id=$1`, bookID)
	if err != nil {
		return nil, fmt.Errorf("list stage status: %w", err)
	}
	found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.StageStatus, error) {
		var s models.StageStatus
		var stage string
		var warnings []byte
		if err := row.Scan(&s.BookID, &stage, &s.Completed, &s.Count, &warnings, &s.UpdatedAt); err != nil {
			return s, err
		}
		s.Stage = models.Stage(stage)
		if err := json.Unmarshal(warnings, &s.Warnings); err != nil {
			return s, fmt.Errorf("decode warnings: %w", err)
		}
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	byStage := make(map[models.Stage]models.StageStatus, len(found))
	for _, s := range found {
		byStage[s.Stage] = s
	}
	out := make([]models.StageStatus, 0, len(found))
	for _, st := range models.Stages {
		if s, ok := byStage[st]; ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// CommitStage writes a stage's outputs and its status in one transaction and
// clears everything downstream of it.
func (r *ContentRepo) CommitStage(ctx context.Context, out models.StageOutput) error {
	st := out.Status
	return r.db.withTx(ctx, "commit "+string(st.Stage), func(tx pgx.Tx) error {
		if err := requirePrerequisiteTx(ctx, tx, st.BookID, st.Stage); err != nil {
			return err
		}
		for _, down := range st.Stage.Downstream() {
			if err := clearStageTx(ctx, tx, st.BookID, down); err != nil {
				return err
			}
		}
		if err := clearStageTx(ctx, tx, st.BookID, st.Stage); err != nil {
			return err
		}
		if err := writeOutputsTx(ctx, tx, out); err != nil {
			return err
		}
		warnings, err := json.Marshal(nonNil(st.Warnings))
		if err != nil {
			return fmt.Errorf("encode warnings: %w", err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO stage_status (book_id, stage, completed, count, warnings, updated_at)
VALUES ($1, $2, $3, $4, $5::jsonb, now())
ON CONFLICT (book_id, stage) DO UPDATE SET
  completed = EXCLUDED.completed,
  count = EXCLUDED.count,
  warnings = EXCLUDED.warnings,
  updated_at = now()`,
			st.BookID, string(st.Stage), st.Completed, st.Count, string(warnings))
		if err != nil {
			return fmt.Errorf("upsert stage status: %w", err)
		}
		return nil
	})
}

// requirePrerequisiteTx share-locks the prerequisite's status row, so a
// concurrent clear either finishes first or waits for this commit.
func requirePrerequisiteTx(ctx context.Context, tx pgx.Tx, bookID string, stage models.Stage) error {
	pre, ok := stage.Prerequisite()
	if !ok {
		return nil
	}
	var completed bool
	err := tx.QueryRow(ctx, `
SELECT completed FROM stage_status WHERE book_id = $1 AND stage = $2 FOR SHARE`, bookID, string(pre)).Scan(&completed)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !completed) {
		return fmt.Errorf("%w: %s requires %s", util.ErrStagePrerequisite, stage, pre)
	}
	if err != nil {
		return fmt.Errorf("check prerequisite: %w", err)
	}
	return nil
}

// ClearStage removes a stage's outputs and statuses along with everything
// downstream.
func (r *ContentRepo) ClearStage(ctx context.Context, bookID string, stage models.Stage) error {
	return r.db.withTx(ctx, "clear "+string(stage), func(tx pgx.Tx) error {
		stages := append([]models.Stage{stage}, stage.Downstream()...)
		for i := len(stages) - 1; i >= 0; i-- {
			if err := clearStageTx(ctx, tx, bookID, stages[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func clearStageTx(ctx context.Context, tx pgx.Tx, bookID string, stage models.Stage) error {
	var stmts []string
	switch stage {
	case models.StageExtractPages:
		stmts = []string{`DELETE FROM pages WHERE book_id=$1`}
	case models.StageExtractContent:
		stmts = []string{`DELETE FROM chapters WHERE book_id=$1`, `DELETE FROM toc_entries WHERE book_id=$1`}
	case models.StageSegmentChapters:
		stmts = []string{`DELETE FROM segments WHERE book_id=$1`}
	case models.StageGenerateSlides:
		stmts = []string{`DELETE FROM slide_decks WHERE book_id=$1`}
	case models.StageIndexUnits:
	default:
		return fmt.Errorf("%w: %s", util.ErrInvalidStage, stage)
	}
	stmts = append(stmts, `DELETE FROM stage_status WHERE book_id=$1 AND stage=$2`)
	for i, q := range stmts {
		args := []any{bookID}
		if i == len(stmts)-1 {
			args = append(args, string(stage))
		}
		if _, err := tx.Exec(ctx, q, args...); err != nil {
			return fmt.Errorf("clear %s: %w", stage, err)
		}
	}
	return nil
}

func writeOutputsTx(ctx context.Context, tx pgx.Tx, out models.StageOutput) error {
	bookID := out.Status.BookID
	switch out.Status.Stage {
	case models.StageExtractPages:
		rows := make([][]any, len(out.Pages))
		for i, p := range out.Pages {
			rows[i] = []any{bookID, p.PageNumber, p.Text}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"pages"}, []string{"book_id", "page_number", "text"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy pages: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE books SET page_count=$2, updated_at=now() WHERE book_id=$1`, bookID, out.PageCount); err != nil {
			return fmt.Errorf("update page count: %w", err)
		}
	case models.StageExtractContent:
		toc := make([][]any, len(out.Toc))
		for i, e := range out.Toc {
			toc[i] = []any{bookID, e.Ordinal, e.Title, e.Level, e.TargetPage}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"toc_entries"}, []string{"book_id", "ordinal", "title", "level", "target_page"}, pgx.CopyFromRows(toc)); err != nil {
			return fmt.Errorf("copy toc: %w", err)
		}
		chapters := make([][]any, len(out.Chapters))
		for i, c := range out.Chapters {
			chapters[i] = []any{bookID, c.Ordinal, c.Title, c.StartPage, c.EndPage}
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"chapters"}, []string{"book_id", "ordinal", "title", "start_page", "end_page"}, pgx.CopyFromRows(chapters)); err != nil {
			return fmt.Errorf("copy chapters: %w", err)
		}
	case models.StageSegmentChapters:
		rows := make([][]any, len(out.Segments))
		for i, s := range out.Segments {
			rows[i] = []any{s.SegmentID, bookID, s.ChapterOrdinal, s.Ordinal, s.BookOrdinal, s.HeadingTitle, s.HeadingLevel, s.Body}
		}
		cols := []string{"segment_id", "book_id", "chapter_ordinal", "ordinal", "book_ordinal", "heading_title", "heading_level", "body"}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"segments"}, cols, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy segments: %w", err)
		}
	case models.StageGenerateSlides:
		for _, d := range out.Decks {
			if err := upsertDeck(ctx, tx, d); err != nil {
				return err
			}
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
