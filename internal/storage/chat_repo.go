package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"studyflow/internal/models"
)

type ChatRepo struct {
	db *DB
}

func NewChatRepo(db *DB) *ChatRepo {
	return &ChatRepo{db: db}
}

func (r *ChatRepo) CreateSession(ctx context.Context, sessionID string) error {
	_, err := r.db.Pool.Exec(ctx, `INSERT INTO chat_sessions (session_id) VALUES ($1) ON CONFLICT DO NOTHING`, sessionID)
	if err != nil {
		return fmt.Errorf("create chat session: %w", err)
	}
	return nil
}

// ListTurns returns the last limit turns in sequence order; limit <= 0
// returns the whole session.
func (r *ChatRepo) ListTurns(ctx context.Context, sessionID string, limit int) ([]models.ChatTurn, error) {
	q := `
SELECT turn_id, session_id, seq, role, text, cited_segment_refs, created_at FROM (
  SELECT * FROM chat_turns WHERE session_id=$1 ORDER BY seq DESC LIMIT $2
) t ORDER BY seq ASC`
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := r.db.Pool.Query(ctx, q, sessionID, lim)
	if err != nil {
		return nil, fmt.Errorf("list chat turns: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ChatTurn, error) {
		var t models.ChatTurn
		err := row.Scan(&t.TurnID, &t.SessionID, &t.Seq, &t.Role, &t.Text, &t.CitedSegmentRefs, &t.CreatedAt)
		return t, err
	})
}

// AppendTurns records the turns together. The session row is locked so
// sequence numbers stay dense under concurrent writers.
func (r *ChatRepo) AppendTurns(ctx context.Context, sessionID string, turns []models.ChatTurn) ([]models.ChatTurn, error) {
	out := make([]models.ChatTurn, len(turns))
	err := r.db.withTx(ctx, "append chat turns", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `INSERT INTO chat_sessions (session_id) VALUES ($1) ON CONFLICT DO NOTHING`, sessionID); err != nil {
			return fmt.Errorf("ensure chat session: %w", err)
		}
		if _, err := tx.Exec(ctx, `SELECT 1 FROM chat_sessions WHERE session_id=$1 FOR UPDATE`, sessionID); err != nil {
			return fmt.Errorf("lock chat session: %w", err)
		}
		var seq int64
		if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM chat_turns WHERE session_id=$1`, sessionID).Scan(&seq); err != nil {
			return fmt.Errorf("next chat seq: %w", err)
		}
		for i, t := range turns {
			seq++
			t.SessionID = sessionID
			t.Seq = seq
			if t.CitedSegmentRefs == nil {
				t.CitedSegmentRefs = []string{}
			}
			_, err := tx.Exec(ctx, `
INSERT INTO chat_turns (turn_id, session_id, seq, role, text, cited_segment_refs, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				t.TurnID, t.SessionID, t.Seq, t.Role, t.Text, t.CitedSegmentRefs, t.CreatedAt)
			if err != nil {
				return fmt.Errorf("insert chat turn: %w", err)
			}
			out[i] = t
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
