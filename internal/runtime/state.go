package runtime

import (
	"context"
	"sync"
)

// ThreadLocks serialises turns per thread while letting different threads
// run in parallel. Waiting respects context cancellation.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

// NewThreadLocks creates an empty lock table.
func NewThreadLocks() *ThreadLocks {
	return &ThreadLocks{locks: make(map[string]*threadLock)}
}

// Acquire blocks until threadID is free or ctx is done. The returned
// release func must be called exactly once.
func (tl *ThreadLocks) Acquire(ctx context.Context, threadID string) (func(), error) {
	tl.mu.Lock()
	l, ok := tl.locks[threadID]
	if !ok {
		l = &threadLock{sem: make(chan struct{}, 1)}
		tl.locks[threadID] = l
	}
	l.refs++
	tl.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		tl.drop(threadID, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.sem
			tl.drop(threadID, l)
		})
	}, nil
}

func (tl *ThreadLocks) drop(threadID string, l *threadLock) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(tl.locks, threadID)
	}
}

// Active returns how many threads currently hold or wait for a lock.
func (tl *ThreadLocks) Active() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.locks)
}
