package pipeline

import (
	"context"
	"sync"
)

// Locker grants at most one holder per key and never waits. Several keys are
// taken together or not at all.
type Locker interface {
	TryLock(ctx context.Context, keys ...string) (unlock func(), ok bool, err error)
}

type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]struct{}{}}
}

func (l *MemoryLocker) TryLock(ctx context.Context, keys ...string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		if _, busy := l.held[key]; busy {
			return nil, false, nil
		}
	}
	for _, key := range keys {
		l.held[key] = struct{}{}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			for _, key := range keys {
				delete(l.held, key)
			}
			l.mu.Unlock()
		})
	}, true, nil
}

// chainLocker takes every lock in order and releases them in reverse.
type chainLocker []Locker

func (c chainLocker) TryLock(ctx context.Context, keys ...string) (func(), bool, error) {
	unlocks := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, l := range c {
		unlock, ok, err := l.TryLock(ctx, keys...)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		unlocks = append(unlocks, unlock)
	}
	return releaseAll, true, nil
}

// ChainLockers combines an in-process locker with cross-process ones.
func ChainLockers(lockers ...Locker) Locker {
	return chainLocker(lockers)
}
