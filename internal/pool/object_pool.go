package pool

import (
	"sync"
	"sync/atomic"
)

// Pool is a generic object pool over sync.Pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T)

	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewPool creates a pool. reset, when non-nil, runs before an object is
// returned to the pool.
func NewPool[T any](newFunc func() T, reset func(*T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object.
func (p *Pool[T]) Put(obj T) {
	p.puts.Add(1)
	if p.reset != nil {
		p.reset(&obj)
	}
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{Gets: p.gets.Load(), Puts: p.puts.Load(), News: p.news.Load()}
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// HitRate returns the fraction of Gets served without allocating.
func (s PoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}

// SlicePool hands out zero-length slices with retained capacity.
type SlicePool[T any] struct {
	p *Pool[[]T]
}

// NewSlicePool creates a slice pool with the given initial capacity.
func NewSlicePool[T any](initSize int) *SlicePool[T] {
	return &SlicePool[T]{p: NewPool(
		func() []T { return make([]T, 0, initSize) },
		func(s *[]T) {
			clear(*s)
			*s = (*s)[:0]
		},
	)}
}

// Get retrieves a slice.
func (p *SlicePool[T]) Get() []T { return p.p.Get() }

// Put returns a slice.
func (p *SlicePool[T]) Put(s []T) { p.p.Put(s) }

// Stats returns pool statistics.
func (p *SlicePool[T]) Stats() PoolStats { return p.p.Stats() }
