package chat

import (
	"context"
	"sync"
)

// lanes serialises work per key in arrival order. A waiter that gives up
// leaves the queue without disturbing the others.
type lanes struct {
	mu sync.Mutex
	m  map[string]*lane
}

type lane struct {
	busy    bool
	waiters []chan struct{}
}

func newLanes() *lanes {
	return &lanes{m: map[string]*lane{}}
}

func (l *lanes) acquire(ctx context.Context, key string) (func(), error) {
	release := func() { l.release(key) }
	l.mu.Lock()
	ln := l.m[key]
	if ln == nil {
		ln = &lane{}
		l.m[key] = ln
	}
	if !ln.busy {
		ln.busy = true
		l.mu.Unlock()
		return release, nil
	}
	ch := make(chan struct{})
	ln.waiters = append(ln.waiters, ch)
	l.mu.Unlock()

	select {
	case <-ch:
		return release, nil
	case <-ctx.Done():
		l.mu.Lock()
		removed := false
		for i, w := range ln.waiters {
			if w == ch {
				ln.waiters = append(ln.waiters[:i], ln.waiters[i+1:]...)
				removed = true
				break
			}
		}
		l.mu.Unlock()
		if !removed {
			// The lane was handed to us while we were giving up.
			l.release(key)
		}
		return nil, ctx.Err()
	}
}

func (l *lanes) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ln := l.m[key]
	if ln == nil {
		return
	}
	if len(ln.waiters) > 0 {
		next := ln.waiters[0]
		ln.waiters = ln.waiters[1:]
		close(next)
		return
	}
	ln.busy = false
	delete(l.m, key)
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
