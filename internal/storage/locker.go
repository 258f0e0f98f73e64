package storage

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// AdvisoryLocker guards (book, stage) runs across processes with a session
// level postgres advisory lock held on a dedicated pooled connection.
type AdvisoryLocker struct {
	db *DB
}

func NewAdvisoryLocker(db *DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

func lockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("studyflow:" + key))
	return int64(h.Sum64())
}

// TryLock takes every key on one pooled connection, or none of them. It
// returns ok=false without waiting when another holder has any key.
func (l *AdvisoryLocker) TryLock(ctx context.Context, keys ...string) (func(), bool, error) {
	conn, err := l.db.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}
	held := make([]int64, 0, len(keys))
	unlock := func() {
		defer conn.Release()
		for i := len(held) - 1; i >= 0; i-- {
			if _, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, held[i]); err != nil {
				logutil.GetLogger(ctx).Error("release advisory lock failed", zap.Int64("lock_id", held[i]), zap.Error(err))
				// A connection still holding a lock must not go back to the pool.
				_ = conn.Conn().Close(context.Background())
				return
			}
		}
	}
	for _, key := range keys {
		id := lockKey(key)
		var ok bool
		if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
			unlock()
			return nil, false, fmt.Errorf("try advisory lock: %w", err)
		}
		if !ok {
			unlock()
			return nil, false, nil
		}
		held = append(held, id)
	}
	return unlock, true, nil
}
