package engine

import (
	"context"
	"sync"
)

// ownerLock is a one-slot semaphore shared by every invocation waiting on
// the same owner. refs counts holders plus waiters.
type ownerLock struct {
	slot chan struct{}
	refs int
}

// ownerLocks serializes sync invocations per owner. Entries are created on
// first use and removed when the last holder or waiter leaves.
type ownerLocks struct {
	mu    sync.Mutex
	locks map[string]*ownerLock
}

func newOwnerLocks() *ownerLocks {
	return &ownerLocks{locks: make(map[string]*ownerLock)}
}

// acquire blocks until the owner's lock is held or ctx is done. The
// returned release func must be called exactly once.
func (l *ownerLocks) acquire(ctx context.Context, owner string) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[owner]
	if !ok {
		lk = &ownerLock{slot: make(chan struct{}, 1)}
		l.locks[owner] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.slot <- struct{}{}:
		return func() {
			<-lk.slot
			l.unref(owner, lk)
		}, nil
	case <-ctx.Done():
		l.unref(owner, lk)
		return nil, ctx.Err()
	}
}

func (l *ownerLocks) unref(owner string, lk *ownerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, owner)
	}
}

// size returns the number of owners with a live entry.
func (l *ownerLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
