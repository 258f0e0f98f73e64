package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"studyflow/internal/models"
	"studyflow/internal/util"
)

type BookRepo struct {
	db *DB
}

func NewBookRepo(db *DB) *BookRepo {
	return &BookRepo{db: db}
}

const bookColumns = `book_id, book_hash, title, filename, file_key, page_count, created_at, updated_at`

func scanBook(row pgx.Row) (models.Book, error) {
	var b models.Book
	err := row.Scan(&b.BookID, &b.BookHash, &b.Title, &b.Filename, &b.FileKey, &b.PageCount, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

// CreateBook inserts b, or returns the book already stored under the same
// hash with created set to false.
func (r *BookRepo) CreateBook(ctx context.Context, b models.Book) (models.Book, bool, error) {
	row := r.db.Pool.QueryRow(ctx, `
INSERT INTO books (book_id, book_hash, title, filename, file_key)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (book_hash) DO NOTHING
RETURNING `+bookColumns,
		b.BookID, b.BookHash, b.Title, b.Filename, b.FileKey)
	created, err := scanBook(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return models.Book{}, false, fmt.Errorf("insert book: %w", err)
	}
	existing, err := scanBook(r.db.Pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE book_hash=$1`, b.BookHash))
	if err != nil {
		return models.Book{}, false, fmt.Errorf("get book by hash: %w", err)
	}
	return existing, false, nil
}

func (r *BookRepo) GetBook(ctx context.Context, bookID string) (models.Book, error) {
	b, err := scanBook(r.db.Pool.QueryRow(ctx, `SELECT `+bookColumns+` FROM books WHERE book_id=$1`, bookID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Book{}, fmt.Errorf("book %s: %w", bookID, util.ErrNotFound)
	}
	if err != nil {
		return models.Book{}, fmt.Errorf("get book: %w", err)
	}
	return b, nil
}

func (r *BookRepo) ListBooks(ctx context.Context) ([]models.Book, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT `+bookColumns+` FROM books ORDER BY created_at DESC, book_id`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()
	out := make([]models.Book, 0)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate books: %w", err)
	}
	return out, nil
}

func (r *BookRepo) DeleteBook(ctx context.Context, bookID string) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM books WHERE book_id=$1`, bookID)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("book %s: %w", bookID, util.ErrNotFound)
	}
	return nil
}
