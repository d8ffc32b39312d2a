package interpreter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrGILNotHeld is returned by Scope operations invoked while no
	// goroutine is inside GIL.Do.
	ErrGILNotHeld = errors.New("global interpreter lock is not held")

	// ErrInterpreterPanic wraps a panic recovered inside a GIL-guarded call.
	ErrInterpreterPanic = errors.New("interpreter panicked")
)

// GILObserver receives timing for every GIL acquisition.
type GILObserver interface {
	ObserveGILWait(d time.Duration)
	ObserveGILHold(d time.Duration)
}

// GIL is the process-wide serialization point for interpreter state.
// Exactly one goroutine may be inside Do at any instant, regardless of
// which session it is working for.
type GIL struct {
	sem  *semaphore.Weighted
	held atomic.Bool

	acquisitions atomic.Int64
	contended    atomic.Int64

	mu       sync.RWMutex
	observer GILObserver
}

// NewGIL creates an independent lock. Production code shares Global().
func NewGIL() *GIL {
	return &GIL{sem: semaphore.NewWeighted(1)}
}

var global = NewGIL()

// Global returns the process-wide lock shared by every Runtime that is not
// given its own.
func Global() *GIL {
	return global
}

// SetObserver installs a timing observer (metrics).
func (g *GIL) SetObserver(o GILObserver) {
	g.mu.Lock()
	g.observer = o
	g.mu.Unlock()
}

// Do acquires the lock, runs fn and releases the lock on every exit path,
// including panics inside fn. Waiting for the lock honours ctx.
func (g *GIL) Do(ctx context.Context, fn func() error) (err error) {
	start := time.Now()
	if !g.sem.TryAcquire(1) {
		g.contended.Add(1)
		if err := g.sem.Acquire(ctx, 1); err != nil {
			return fmt.Errorf("acquire interpreter lock: %w", err)
		}
	}
	waited := time.Since(start)

	g.held.Store(true)
	g.acquisitions.Add(1)
	heldAt := time.Now()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrInterpreterPanic, r)
		}
		g.held.Store(false)
		g.sem.Release(1)
		g.observe(waited, time.Since(heldAt))
	}()

	return fn()
}

// Held reports whether some goroutine currently holds the lock. It does not
// tell whether the caller is that goroutine.
func (g *GIL) Held() bool {
	return g.held.Load()
}

// Stats returns acquisition counters.
func (g *GIL) Stats() GILStats {
	return GILStats{
		Acquisitions: g.acquisitions.Load(),
		Contended:    g.contended.Load(),
		Held:         g.held.Load(),
	}
}

// GILStats contains lock counters.
type GILStats struct {
	Acquisitions int64 `json:"acquisitions"`
	Contended    int64 `json:"contended"`
	Held         bool  `json:"held"`
}

// check only asserts that the lock is held, not by whom: Go exposes no
// goroutine identity, so a Scope used from a second goroutine while another
// unit is inside Do passes. Callers touch a Scope only from the fn they
// hand to Do.
func (g *GIL) check() error {
	if !g.held.Load() {
		return ErrGILNotHeld
	}
	return nil
}

func (g *GIL) observe(wait, hold time.Duration) {
	g.mu.RLock()
	o := g.observer
	g.mu.RUnlock()
	if o == nil {
		return
	}
	o.ObserveGILWait(wait)
	o.ObserveGILHold(hold)
}
