// Package runlock keeps ingestion runs from overlapping.
package runlock

import (
	"context"
	"errors"
	"sync"
)

var ErrLocked = errors.New("runlock: lock is held")

// Locker hands out named, non-blocking locks. The returned release func is
// safe to call more than once.
type Locker interface {
	TryLock(ctx context.Context, name string) (release func(), err error)
}

// LocalLocker guards runs within a single process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) TryLock(ctx context.Context, name string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return nil, ErrLocked
	}
	l.held[name] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, name)
			l.mu.Unlock()
		})
	}, nil
}
