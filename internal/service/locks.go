package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/botledger/internal/domain"
)

// LocalLocks is an in-process keyed mutex implementing domain.LockManager.
// Entries are dropped once no goroutine holds or waits on them.
type LocalLocks struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

type localLock struct {
	ch   chan struct{}
	refs int
}

var _ domain.LockManager = (*LocalLocks)(nil)

// NewLocalLocks creates an empty LocalLocks.
func NewLocalLocks() *LocalLocks {
	return &LocalLocks{locks: make(map[string]*localLock)}
}

// Acquire blocks until key is free or ctx ends. ttl is ignored; the lock is
// held until unlock is called.
func (l *LocalLocks) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[key]
	if !ok {
		lk = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lk)
		return nil, fmt.Errorf("service: acquire lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lk.ch
			l.release(key, lk)
		})
	}, nil
}

func (l *LocalLocks) release(key string, lk *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, key)
	}
}
