package storage

import (
	"context"
	"fmt"
	"time"

	"studyflow/internal/providers"
)

// LLMAuditRepo keeps one row per provider call in llm_calls.
type LLMAuditRepo struct {
	db *DB
}

func NewLLMAuditRepo(db *DB) *LLMAuditRepo {
	return &LLMAuditRepo{db: db}
}

func (r *LLMAuditRepo) RecordCall(ctx context.Context, rec providers.CallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(operation, book_id, provider_name, model, status, error_type, latency_ms)
VALUES ($1, NULLIF($2,''), $3, $4, $5, NULLIF($6,''), $7)`,
		rec.Operation, rec.BookID, rec.ProviderName, rec.Model, rec.Status, rec.ErrorType, rec.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

type CallUsage struct {
	Operation    string        `json:"operation"`
	ProviderName string        `json:"provider"`
	Status       string        `json:"status"`
	Calls        int           `json:"calls"`
	AvgLatency   time.Duration `json:"avg_latency"`
}

// Usage groups calls made since the given time by operation, provider and
// status. An empty bookID covers every book.
func (r *LLMAuditRepo) Usage(ctx context.Context, bookID string, since time.Time) ([]CallUsage, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT operation, provider_name, status, count(*), COALESCE(avg(latency_ms), 0)::bigint
FROM llm_calls
WHERE created_at >= $1 AND ($2 = '' OR book_id = $2)
GROUP BY operation, provider_name, status
ORDER BY operation, provider_name, status`, since, bookID)
	if err != nil {
		return nil, fmt.Errorf("query llm usage: %w", err)
	}
	defer rows.Close()
	out := make([]CallUsage, 0)
	for rows.Next() {
		var u CallUsage
		var avgMs int64
		if err := rows.Scan(&u.Operation, &u.ProviderName, &u.Status, &u.Calls, &avgMs); err != nil {
			return nil, fmt.Errorf("scan llm usage: %w", err)
		}
		u.AvgLatency = time.Duration(avgMs) * time.Millisecond
		out = append(out, u)
	}
	return out, rows.Err()
}
