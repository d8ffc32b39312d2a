package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// LockTable maps session IDs to binary execution locks created on demand.
// The table mutex guards lookup, insert and reference counts only; it is
// never held while waiting for a session lock.
//
// Every holder and waiter counts as a reference. An entry is removed only
// once it is disposed and unreferenced, so a caller arriving after Dispose
// queues on the same lock as the callers that were already waiting.
type LockTable struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	sem      *semaphore.Weighted
	refs     int
	disposed bool
}

// NewLockTable creates an empty table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[string]*lockEntry)}
}

// ref returns the entry for sessionID with one reference taken. A disposed
// entry still in use is revived.
func (t *LockTable) ref(sessionID string) *lockEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.locks[sessionID]
	if !ok {
		e = &lockEntry{sem: semaphore.NewWeighted(1)}
		t.locks[sessionID] = e
	}
	e.disposed = false
	e.refs++
	return e
}

func (t *LockTable) unref(sessionID string, e *lockEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.disposed && t.locks[sessionID] == e {
		delete(t.locks, sessionID)
	}
}

// Acquire waits at most wait for the session lock. It returns
// ErrSessionBusy when the bound elapses and ctx.Err() when the caller gives
// up first. The returned release func is idempotent.
func (t *LockTable) Acquire(ctx context.Context, sessionID string, wait time.Duration) (func(), error) {
	e := t.ref(sessionID)
	if e.sem.TryAcquire(1) {
		return t.releaser(sessionID, e), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		t.unref(sessionID, e)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrSessionBusy
		}
		return nil, err
	}
	return t.releaser(sessionID, e), nil
}

// TryAcquire takes the lock only if it is free.
func (t *LockTable) TryAcquire(sessionID string) (func(), bool) {
	e := t.ref(sessionID)
	if !e.sem.TryAcquire(1) {
		t.unref(sessionID, e)
		return nil, false
	}
	return t.releaser(sessionID, e), true
}

// Dispose forgets the lock of sessionID. While a holder or waiter still
// references it the lock stays in place and later callers share it; it is
// removed when the last of them lets go.
func (t *LockTable) Dispose(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.locks[sessionID]
	if !ok {
		return
	}
	if e.refs == 0 {
		delete(t.locks, sessionID)
		return
	}
	e.disposed = true
}

// Len returns the number of live locks. Disposed locks still draining
// are not counted.
func (t *LockTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.locks {
		if !e.disposed {
			n++
		}
	}
	return n
}

func (t *LockTable) releaser(sessionID string, e *lockEntry) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			t.unref(sessionID, e)
		})
	}
}
