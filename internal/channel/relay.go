// Package channel provides the output relay between an executing unit and
// its consumer.
package channel

import (
	"context"
	"sync"
	"sync/atomic"
)

// RelayStats contains relay counters.
type RelayStats struct {
	Pushed      int64 `json:"pushed"`
	Delivered   int64 `json:"delivered"`
	Dropped     int64 `json:"dropped"`
	PeakBacklog int   `json:"peak_backlog"`
}

// Relay is an unbounded single-producer single-consumer FIFO. Push never
// blocks, so a producer running under a global lock is never held up by a
// slow consumer. Items pushed after Close are dropped.
type Relay[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	closed bool
	notify chan struct{}

	pushed    atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	peak      int
}

// NewRelay creates an empty relay.
func NewRelay[T any]() *Relay[T] {
	return &Relay[T]{notify: make(chan struct{}, 1)}
}

// Push enqueues v. It reports false when the relay is already closed.
func (r *Relay[T]) Push(v T) bool {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		r.dropped.Add(1)
		return false
	}
	r.items = append(r.items, v)
	if backlog := len(r.items) - r.head; backlog > r.peak {
		r.peak = backlog
	}
	r.mu.Unlock()

	r.pushed.Add(1)
	r.signal()
	return true
}

// Close marks the end of the stream. Items already queued are still
// delivered. Safe to call more than once.
func (r *Relay[T]) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.signal()
}

// Receive blocks until an item is available, the relay is closed and empty
// (ok == false), or ctx is done.
func (r *Relay[T]) Receive(ctx context.Context) (v T, ok bool, err error) {
	for {
		r.mu.Lock()
		if r.head < len(r.items) {
			v = r.items[r.head]
			var zero T
			r.items[r.head] = zero
			r.head++
			if r.head == len(r.items) {
				r.items = r.items[:0]
				r.head = 0
			}
			r.mu.Unlock()
			r.delivered.Add(1)
			return v, true, nil
		}
		closed := r.closed
		r.mu.Unlock()

		if closed {
			return v, false, nil
		}

		select {
		case <-r.notify:
		case <-ctx.Done():
			return v, false, ctx.Err()
		}
	}
}

// Drain delivers every item to fn in push order until the relay is closed
// and empty or ctx is done.
func (r *Relay[T]) Drain(ctx context.Context, fn func(T)) error {
	for {
		v, ok, err := r.Receive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fn(v)
	}
}

// Len returns the number of queued items.
func (r *Relay[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items) - r.head
}

// Closed reports whether Close has been called.
func (r *Relay[T]) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stats returns relay counters.
func (r *Relay[T]) Stats() RelayStats {
	r.mu.Lock()
	peak := r.peak
	r.mu.Unlock()
	return RelayStats{
		Pushed:      r.pushed.Load(),
		Delivered:   r.delivered.Load(),
		Dropped:     r.dropped.Load(),
		PeakBacklog: peak,
	}
}

func (r *Relay[T]) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}
